package supervisor

import (
	"context"
	"net"
	"os/exec"
	"sync"
	"time"

	"xrayctl/internal/config"
	"xrayctl/internal/logger"
)

// State of the supervised engine process.
type State string

const (
	NotStarted State = "not-started"
	Starting   State = "starting"
	Running    State = "running"
	Unhealthy  State = "unhealthy"
	Stopping   State = "stopping"
	Stopped    State = "stopped"
	Crashed    State = "crashed"
)

type EventKind string

const (
	// EventRunning fires when the listener is confirmed accepting
	// connections, both on first start and after an automatic restart.
	EventRunning EventKind = "running"
	// EventCrashed fires on any process exit not caused by Stop.
	EventCrashed EventKind = "crashed"
	// EventRestarting fires before each bounded restart attempt.
	EventRestarting EventKind = "restarting"
	// EventCrashLoop fires when the restart budget is exhausted.
	EventCrashLoop EventKind = "crash-loop"
	// EventStopped fires after a clean Stop.
	EventStopped EventKind = "stopped"
)

type Event struct {
	Kind       EventKind
	Attempt    int
	ExitStatus string
	Tail       []string
}

// Supervisor owns the external engine's process handle. Nothing outside
// this package ever sees the handle; consumers observe the state, the
// event stream and the confirmed listener address.
type Supervisor struct {
	binary  string
	health  config.HealthConfig
	restart config.RestartConfig

	events chan Event

	mu         sync.Mutex
	state      State
	cmd        *exec.Cmd
	tail       *tailBuffer
	exitErr    error
	waitDone   chan struct{}
	stopping   bool
	stopCancel context.CancelFunc
	stopCtx    context.Context
	configPath string
	socksAddr  string
}

func New(binary string, health config.HealthConfig, restart config.RestartConfig) *Supervisor {
	return &Supervisor{
		binary:  binary,
		health:  health,
		restart: restart,
		state:   NotStarted,
		events:  make(chan Event, 16),
	}
}

// Events returns the stream of lifecycle events. The channel is bounded;
// a consumer that stops reading loses the newest events, never blocks the
// supervisor.
func (s *Supervisor) Events() <-chan Event {
	return s.events
}

func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Tail returns the most recent process output, bounded.
func (s *Supervisor) Tail() []string {
	s.mu.Lock()
	tail := s.tail
	s.mu.Unlock()
	if tail == nil {
		return nil
	}
	return tail.Lines()
}

// Start launches the engine with the given config file and blocks until
// the SOCKS listener is confirmed accepting connections or the health
// budget is exhausted. Cancelling ctx aborts the wait at the next poll
// and tears the process down.
func (s *Supervisor) Start(ctx context.Context, configPath, socksAddr string) error {
	s.mu.Lock()
	switch s.state {
	case NotStarted, Stopped, Crashed:
	default:
		s.mu.Unlock()
		return &ProcessError{Kind: SpawnFailed, Detail: "engine already " + string(s.state)}
	}
	s.state = Starting
	s.stopping = false
	s.configPath = configPath
	s.socksAddr = socksAddr
	s.stopCtx, s.stopCancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	if err := s.launch(); err != nil {
		s.setState(Crashed)
		return &ProcessError{Kind: SpawnFailed, Err: err}
	}

	if err := s.confirmHealth(ctx); err != nil {
		s.terminate()
		s.setState(Crashed)
		return err
	}

	s.setState(Running)
	go s.watch()
	s.emit(Event{Kind: EventRunning})
	return nil
}

// launch starts the process and arranges for exit collection. waitDone is
// closed (not sent on) so the watcher and Stop can both observe the exit.
func (s *Supervisor) launch() error {
	tail := newTailBuffer(64)
	cmd := exec.Command(s.binary, "-config", s.configPath)
	cmd.Stdout = tail
	cmd.Stderr = tail

	if err := cmd.Start(); err != nil {
		return err
	}

	done := make(chan struct{})
	s.mu.Lock()
	s.cmd = cmd
	s.tail = tail
	s.exitErr = nil
	s.waitDone = done
	s.mu.Unlock()

	go func() {
		err := cmd.Wait()
		s.mu.Lock()
		s.exitErr = err
		s.mu.Unlock()
		close(done)
	}()
	return nil
}

// confirmHealth polls the declared listener with bounded retries. The OS
// reporting the process alive is not enough; only an accepted connection
// counts.
func (s *Supervisor) confirmHealth(ctx context.Context) error {
	s.mu.Lock()
	addr := s.socksAddr
	done := s.waitDone
	s.mu.Unlock()

	for attempt := 0; attempt <= s.health.Retries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
			return &ProcessError{
				Kind:   SpawnFailed,
				Detail: "engine exited during startup",
				Tail:   s.Tail(),
			}
		default:
		}

		conn, err := net.DialTimeout("tcp", addr, s.health.Timeout)
		if err == nil {
			conn.Close()
			return nil
		}

		if attempt < s.health.Retries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.health.Interval):
			}
		}
	}
	return &ProcessError{
		Kind:   HealthCheckTimeout,
		Detail: "listener " + addr + " never accepted a connection",
		Tail:   s.Tail(),
	}
}

// watch waits for process exits while Running. A stop-initiated exit is
// owned by Stop; anything else is a crash and enters the bounded restart
// loop.
func (s *Supervisor) watch() {
	for {
		s.mu.Lock()
		done := s.waitDone
		s.mu.Unlock()

		<-done

		s.mu.Lock()
		stopping := s.stopping
		exitErr := s.exitErr
		s.mu.Unlock()

		if stopping {
			return
		}

		s.setState(Unhealthy)
		s.emit(Event{
			Kind:       EventCrashed,
			ExitStatus: exitString(exitErr),
			Tail:       s.Tail(),
		})
		logger.Log.Warnf("engine exited unexpectedly (%s)", exitString(exitErr))

		if !s.recover() {
			return
		}
	}
}

// recover performs at most MaxAttempts restarts with exponential backoff.
// Whether the resulting crash loop is surfaced to the user is the
// orchestrator's call, not ours.
func (s *Supervisor) recover() bool {
	backoff := s.restart.InitialBackoff

	for attempt := 1; attempt <= s.restart.MaxAttempts; attempt++ {
		select {
		case <-s.stopCtx.Done():
			return false
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > s.restart.MaxBackoff {
			backoff = s.restart.MaxBackoff
		}

		s.emit(Event{Kind: EventRestarting, Attempt: attempt})
		logger.Log.Infof("restarting engine (attempt %d/%d)", attempt, s.restart.MaxAttempts)

		if err := s.launch(); err != nil {
			logger.Log.Warnf("restart attempt %d: %v", attempt, err)
			continue
		}
		if err := s.confirmHealth(s.stopCtx); err != nil {
			s.terminate()
			if s.stopCtx.Err() != nil {
				return false
			}
			logger.Log.Warnf("restart attempt %d: %v", attempt, err)
			continue
		}

		s.setState(Running)
		s.emit(Event{Kind: EventRunning, Attempt: attempt})
		return true
	}

	s.setState(Crashed)
	s.emit(Event{Kind: EventCrashLoop, Attempt: s.restart.MaxAttempts, Tail: s.Tail()})
	return false
}

// Stop terminates the engine: graceful signal, bounded grace period, then
// force kill. It returns only once the process is gone, or surfaces
// ForceKillFailed; a zombie holding the listener port would block the
// next connect.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case NotStarted, Stopped:
		s.mu.Unlock()
		return nil
	}
	s.stopping = true
	s.state = Stopping
	cmd := s.cmd
	done := s.waitDone
	cancel := s.stopCancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	if cmd == nil || cmd.Process == nil {
		s.setState(Stopped)
		return nil
	}

	// Process may already be gone (crash path); the signal error is
	// irrelevant, only the exit matters.
	_ = signalTerm(cmd.Process)

	grace := s.restart.GracePeriod
	select {
	case <-done:
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-done
	case <-time.After(grace):
		_ = cmd.Process.Kill()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			return &ProcessError{Kind: ForceKillFailed, Detail: "engine ignored SIGKILL"}
		}
	}

	s.setState(Stopped)
	s.emit(Event{Kind: EventStopped})
	return nil
}

// terminate is the failed-startup cleanup path: no events, no state
// transition, just make the process go away.
func (s *Supervisor) terminate() {
	s.mu.Lock()
	cmd := s.cmd
	done := s.waitDone
	s.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return
	}
	_ = signalTerm(cmd.Process)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		_ = cmd.Process.Kill()
		<-done
	}
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Supervisor) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		// Bounded channel; a stalled consumer drops events rather than
		// wedging the watcher.
	}
}

func exitString(err error) string {
	if err == nil {
		return "exit status 0"
	}
	return err.Error()
}
