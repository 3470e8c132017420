// Package orch serializes connect/disconnect intents into one state
// machine. All transitions happen on the Run loop goroutine; background
// watchers reach it only through events, never by mutating state.
package orch

import (
	"context"
	"os"
	"sync"

	"xrayctl/internal/config"
	"xrayctl/internal/logger"
	"xrayctl/internal/profile"
	"xrayctl/internal/supervisor"
	"xrayctl/internal/synth"
	"xrayctl/internal/sysproxy"
	"xrayctl/internal/tun"
)

type State string

const (
	Idle          State = "idle"
	Connecting    State = "connecting"
	Connected     State = "connected"
	Reconnecting  State = "reconnecting"
	Disconnecting State = "disconnecting"
	Failed        State = "failed"
)

type Status struct {
	State     State
	Reason    string // set when State is Failed
	Remark    string
	SOCKSAddr string
	HTTPAddr  string
}

// Engine is the slice of the process supervisor the orchestrator needs.
type Engine interface {
	Start(ctx context.Context, configPath, socksAddr string) error
	Stop(ctx context.Context) error
	Events() <-chan supervisor.Event
}

type ProxyController interface {
	Enable(httpAddr, socksAddr string) error
	Disable() error
}

type TunController interface {
	Up(tunAddr string, mode config.RoutingMode) error
	Down() error
}

type SynthFunc func(*profile.Profile, *config.Config) (*synth.Result, error)

type request struct {
	connect *profile.Profile // nil means disconnect
	reply   chan response
}

type response struct {
	status Status
	err    error
}

type Orchestrator struct {
	cfg        *config.Config
	synthesize SynthFunc
	engine     Engine
	proxy      ProxyController
	tun        TunController

	requests chan request

	mu          sync.Mutex
	status      Status
	fingerprint string // profile currently connecting or connected
	configPath  string
	opCancel    context.CancelFunc
}

func New(cfg *config.Config) *Orchestrator {
	return NewWith(cfg,
		synth.Synthesize,
		supervisor.New(cfg.Engine.BinaryPath, cfg.Health, cfg.Restart),
		sysproxy.NewController(cfg.SystemProxy.Service),
		tun.NewManager(cfg.TUN),
	)
}

// NewWith wires explicit collaborators; the seam the tests use.
func NewWith(cfg *config.Config, synthesize SynthFunc, engine Engine, proxy ProxyController, tunMgr TunController) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		synthesize: synthesize,
		engine:     engine,
		proxy:      proxy,
		tun:        tunMgr,
		requests:   make(chan request, 8),
		status:     Status{State: Idle},
	}
}

// Run is the single-writer loop. It owns every ConnectionState transition
// and must be running for Connect/Disconnect to make progress. It returns
// after ctx is cancelled, with the host restored.
func (o *Orchestrator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			if o.Status().State != Idle {
				o.teardown()
				o.setStatus(Status{State: Idle})
			}
			return
		case req := <-o.requests:
			if req.connect != nil {
				o.handleConnect(req)
			} else {
				o.handleDisconnect(req)
			}
		case ev := <-o.engine.Events():
			o.handleEvent(ev)
		}
	}
}

func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// Connect requests a session for p. Idempotent while the same profile is
// already connecting or connected; a different profile implicitly
// disconnects the current session first.
func (o *Orchestrator) Connect(ctx context.Context, p *profile.Profile) (Status, error) {
	o.mu.Lock()
	cur := o.status
	same := o.fingerprint == p.Fingerprint()
	o.mu.Unlock()

	switch cur.State {
	case Connecting, Connected, Reconnecting:
		if same {
			return cur, nil
		}
	}
	return o.submit(ctx, request{connect: p, reply: make(chan response, 1)})
}

// Disconnect tears the session down. A disconnect issued mid-connect
// interrupts the in-flight attempt at its next checkpoint.
func (o *Orchestrator) Disconnect(ctx context.Context) (Status, error) {
	if o.Status().State == Idle {
		return o.Status(), nil
	}
	return o.submit(ctx, request{reply: make(chan response, 1)})
}

func (o *Orchestrator) submit(ctx context.Context, req request) (Status, error) {
	// Interrupt whatever is in flight so the queue drains promptly; the
	// interrupted attempt rolls back before this request is handled.
	o.mu.Lock()
	if o.opCancel != nil {
		o.opCancel()
	}
	o.mu.Unlock()

	select {
	case o.requests <- req:
	case <-ctx.Done():
		return o.Status(), ctx.Err()
	}

	select {
	case resp := <-req.reply:
		return resp.status, resp.err
	case <-ctx.Done():
		return o.Status(), ctx.Err()
	}
}

// --- loop-side handlers (single goroutine) ---

func (o *Orchestrator) handleConnect(req request) {
	p := req.connect

	// Implicit switch: drop the current session before dialing the new one.
	if o.Status().State != Idle {
		o.setStatus(Status{State: Disconnecting, Remark: o.Status().Remark})
		o.teardown()
	}

	opCtx := o.beginOp()
	defer o.endOp()

	o.mu.Lock()
	o.fingerprint = p.Fingerprint()
	o.mu.Unlock()
	o.setStatus(Status{State: Connecting, Remark: p.Remark})
	logger.Log.Infof("connecting to %s (%s %s:%d)", p.Remark, p.Protocol, p.Host, p.Port)

	res, err := o.synthesize(p, o.cfg)
	if err != nil {
		o.fail(err)
		req.reply <- response{o.Status(), err}
		return
	}
	o.mu.Lock()
	o.configPath = res.Path
	o.mu.Unlock()

	if err := o.engine.Start(opCtx, res.Path, res.SOCKSAddr); err != nil {
		o.removeArtifact()
		if opCtx.Err() != nil {
			o.abort()
		} else {
			o.fail(err)
		}
		req.reply <- response{o.Status(), err}
		return
	}

	if o.cfg.SystemProxy.Enabled {
		if err := o.proxy.Enable(res.HTTPAddr, res.SOCKSAddr); err != nil {
			o.teardown()
			o.fail(err)
			req.reply <- response{o.Status(), err}
			return
		}
	}

	if o.cfg.TUN.Enabled {
		if err := o.tun.Up(res.TUNAddr, o.cfg.Routing.Mode); err != nil {
			o.teardown()
			o.fail(err)
			req.reply <- response{o.Status(), err}
			return
		}
	}

	if opCtx.Err() != nil {
		// Disconnect or profile switch arrived during the last steps.
		o.teardown()
		o.abort()
		req.reply <- response{o.Status(), opCtx.Err()}
		return
	}

	o.setStatus(Status{
		State:     Connected,
		Remark:    p.Remark,
		SOCKSAddr: res.SOCKSAddr,
		HTTPAddr:  res.HTTPAddr,
	})
	logger.Log.Infof("connected: %s", p.Remark)
	req.reply <- response{o.Status(), nil}
}

func (o *Orchestrator) handleDisconnect(req request) {
	if o.Status().State == Idle {
		req.reply <- response{o.Status(), nil}
		return
	}

	o.setStatus(Status{State: Disconnecting, Remark: o.Status().Remark})
	err := o.teardown()
	o.setStatus(Status{State: Idle})
	logger.Log.Info("disconnected")
	req.reply <- response{o.Status(), err}
}

func (o *Orchestrator) handleEvent(ev supervisor.Event) {
	switch ev.Kind {
	case supervisor.EventCrashed, supervisor.EventRestarting:
		if st := o.Status(); st.State == Connected {
			o.setStatus(Status{State: Reconnecting, Remark: st.Remark})
		}
	case supervisor.EventRunning:
		if st := o.Status(); st.State == Reconnecting {
			o.setStatus(Status{
				State:     Connected,
				Remark:    st.Remark,
				SOCKSAddr: st.SOCKSAddr,
				HTTPAddr:  st.HTTPAddr,
			})
			logger.Log.Info("engine recovered")
		}
	case supervisor.EventCrashLoop:
		// A crash loop for a session that was already torn down is stale
		// news; reporting Failed over a clean Idle would misstate reality.
		if st := o.Status(); st.State != Connected && st.State != Reconnecting {
			return
		}
		// The engine is gone for good; get the host's routing back to
		// normal before reporting failure.
		if err := o.tun.Down(); err != nil {
			logger.Log.Errorf("tun teardown after crash loop: %v", err)
		}
		if err := o.proxy.Disable(); err != nil {
			logger.Log.Errorf("system proxy restore after crash loop: %v", err)
		}
		o.removeArtifact()
		o.clearFingerprint()
		o.setStatus(Status{State: Failed, Reason: "engine crash loop: " + ev.ExitStatus})
		logger.Log.Errorf("engine gave up after %d restarts", ev.Attempt)
	}
}

// teardown reverses a session in strict order: routing first, then the
// process. The host must never route traffic toward a listener that is
// about to disappear.
func (o *Orchestrator) teardown() error {
	var firstErr error

	if err := o.tun.Down(); err != nil {
		logger.Log.Errorf("tun teardown: %v", err)
		firstErr = err
	}
	if err := o.proxy.Disable(); err != nil {
		logger.Log.Errorf("system proxy restore: %v", err)
		if firstErr == nil {
			firstErr = err
		}
	}
	if err := o.engine.Stop(context.Background()); err != nil {
		logger.Log.Errorf("engine stop: %v", err)
		if firstErr == nil {
			firstErr = err
		}
	}
	o.removeArtifact()
	o.clearFingerprint()
	return firstErr
}

func (o *Orchestrator) beginOp() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	o.mu.Lock()
	o.opCancel = cancel
	o.mu.Unlock()
	return ctx
}

func (o *Orchestrator) endOp() {
	o.mu.Lock()
	if o.opCancel != nil {
		o.opCancel()
		o.opCancel = nil
	}
	o.mu.Unlock()
}

func (o *Orchestrator) setStatus(st Status) {
	o.mu.Lock()
	o.status = st
	o.mu.Unlock()
}

func (o *Orchestrator) fail(err error) {
	o.clearFingerprint()
	o.setStatus(Status{State: Failed, Reason: err.Error()})
	logger.Log.Errorf("connect failed: %v", err)
}

// abort is the user-interrupted variant of fail: the attempt was rolled
// back, nothing is wrong with the profile, so the machine returns to Idle.
func (o *Orchestrator) abort() {
	o.clearFingerprint()
	o.setStatus(Status{State: Idle})
	logger.Log.Info("connect attempt aborted")
}

func (o *Orchestrator) clearFingerprint() {
	o.mu.Lock()
	o.fingerprint = ""
	o.mu.Unlock()
}

func (o *Orchestrator) removeArtifact() {
	o.mu.Lock()
	path := o.configPath
	o.configPath = ""
	o.mu.Unlock()
	if path != "" {
		_ = os.Remove(path)
	}
}
