package synth

import "fmt"

type SynthesisErrorKind string

const (
	PortConflict       SynthesisErrorKind = "port conflict"
	UnsupportedProfile SynthesisErrorKind = "unsupported profile"
	EngineRejected     SynthesisErrorKind = "engine rejected config"
	WriteFailed        SynthesisErrorKind = "write failed"
)

// SynthesisError reports a bad combination of profile and settings. It is
// returned before any process is launched, so a conflict never surfaces as
// an engine startup failure.
type SynthesisError struct {
	Kind   SynthesisErrorKind
	Detail string
	Err    error
}

func (e *SynthesisError) Error() string {
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

func (e *SynthesisError) Unwrap() error { return e.Err }

func synthErr(kind SynthesisErrorKind, format string, args ...interface{}) *SynthesisError {
	return &SynthesisError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}
