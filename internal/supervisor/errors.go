package supervisor

import "fmt"

type ProcessErrorKind string

const (
	SpawnFailed        ProcessErrorKind = "spawn failed"
	HealthCheckTimeout ProcessErrorKind = "health check timeout"
	ForceKillFailed    ProcessErrorKind = "force kill failed"
	CrashLoop          ProcessErrorKind = "crash loop"
)

// ProcessError reports an engine lifecycle failure. Tail carries the last
// lines the process wrote before the failure, bounded by the supervisor's
// ring buffer.
type ProcessError struct {
	Kind   ProcessErrorKind
	Detail string
	Tail   []string
	Err    error
}

func (e *ProcessError) Error() string {
	switch {
	case e.Detail != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	case e.Detail != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *ProcessError) Unwrap() error { return e.Err }
