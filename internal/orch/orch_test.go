package orch

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"xrayctl/internal/config"
	"xrayctl/internal/logger"
	"xrayctl/internal/profile"
	"xrayctl/internal/supervisor"
	"xrayctl/internal/synth"
)

func TestMain(m *testing.M) {
	logger.Init(false, "")
	os.Exit(m.Run())
}

// recorder collects the cross-component call order.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type fakeEngine struct {
	rec      *recorder
	events   chan supervisor.Event
	startErr error

	// When blockFirst is set, the first Start signals entered and then
	// parks on ctx, standing in for a slow engine launch.
	blockFirst bool
	entered    chan struct{}
}

func newFakeEngine(rec *recorder) *fakeEngine {
	return &fakeEngine{rec: rec, events: make(chan supervisor.Event, 16)}
}

func (f *fakeEngine) Start(ctx context.Context, configPath, socksAddr string) error {
	f.rec.add("engine.start")
	if f.blockFirst {
		f.blockFirst = false
		close(f.entered)
		<-ctx.Done()
		return ctx.Err()
	}
	return f.startErr
}

func (f *fakeEngine) Stop(ctx context.Context) error {
	f.rec.add("engine.stop")
	return nil
}

func (f *fakeEngine) Events() <-chan supervisor.Event { return f.events }

type fakeProxy struct {
	rec       *recorder
	enableErr error
}

func (f *fakeProxy) Enable(httpAddr, socksAddr string) error {
	f.rec.add("proxy.enable")
	return f.enableErr
}

func (f *fakeProxy) Disable() error {
	f.rec.add("proxy.disable")
	return nil
}

type fakeTun struct {
	rec   *recorder
	upErr error
}

func (f *fakeTun) Up(tunAddr string, mode config.RoutingMode) error {
	f.rec.add("tun.up")
	return f.upErr
}

func (f *fakeTun) Down() error {
	f.rec.add("tun.down")
	return nil
}

type harness struct {
	orch   *Orchestrator
	engine *fakeEngine
	rec    *recorder
	cancel context.CancelFunc
	done   chan struct{}

	synthErr  error
	synthDir  string
	lastPath  string
	synthOnce sync.Mutex
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	cfg := config.Defaults()
	cfg.SystemProxy.Enabled = true
	cfg.TUN.Enabled = true

	h := &harness{rec: &recorder{}, synthDir: t.TempDir()}
	h.engine = newFakeEngine(h.rec)

	synthesize := func(p *profile.Profile, cfg *config.Config) (*synth.Result, error) {
		h.rec.add("synth")
		if h.synthErr != nil {
			return nil, h.synthErr
		}
		f, err := os.CreateTemp(h.synthDir, "doc-*.json")
		if err != nil {
			return nil, err
		}
		f.Close()
		h.synthOnce.Lock()
		h.lastPath = f.Name()
		h.synthOnce.Unlock()
		return &synth.Result{
			Path:      f.Name(),
			SOCKSAddr: "127.0.0.1:10808",
			HTTPAddr:  "127.0.0.1:10809",
			TUNAddr:   "127.0.0.1:10810",
		}, nil
	}

	h.orch = NewWith(cfg, synthesize, h.engine, &fakeProxy{rec: h.rec}, &fakeTun{rec: h.rec})

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.done = make(chan struct{})
	go func() {
		defer close(h.done)
		h.orch.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-h.done
	})
	return h
}

func (h *harness) artifact() string {
	h.synthOnce.Lock()
	defer h.synthOnce.Unlock()
	return h.lastPath
}

func ssTestProfile(remark string) *profile.Profile {
	return &profile.Profile{
		Protocol: profile.Shadowsocks,
		Host:     "example.com",
		Port:     8388,
		Remark:   remark,
		SS:       &profile.ShadowsocksFields{Method: "aes-256-gcm", Password: remark},
	}
}

func waitForState(t *testing.T, o *Orchestrator, want State) Status {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if st := o.Status(); st.State == want {
			return st
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state never reached %s (now %s)", want, o.Status().State)
	return Status{}
}

func TestConnectHappyPath(t *testing.T) {
	h := newHarness(t)

	st, err := h.orch.Connect(context.Background(), ssTestProfile("a"))
	if err != nil {
		t.Fatal(err)
	}
	if st.State != Connected || st.SOCKSAddr != "127.0.0.1:10808" {
		t.Errorf("status = %+v", st)
	}

	want := []string{"synth", "engine.start", "proxy.enable", "tun.up"}
	got := h.rec.snapshot()
	if len(got) != len(want) {
		t.Fatalf("calls = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("call %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestConnectIdempotentSameProfile(t *testing.T) {
	h := newHarness(t)

	if _, err := h.orch.Connect(context.Background(), ssTestProfile("a")); err != nil {
		t.Fatal(err)
	}
	if _, err := h.orch.Connect(context.Background(), ssTestProfile("a")); err != nil {
		t.Fatal(err)
	}

	starts := 0
	for _, c := range h.rec.snapshot() {
		if c == "engine.start" {
			starts++
		}
	}
	if starts != 1 {
		t.Errorf("engine started %d times", starts)
	}
}

func TestConnectSwitchesProfile(t *testing.T) {
	h := newHarness(t)

	if _, err := h.orch.Connect(context.Background(), ssTestProfile("a")); err != nil {
		t.Fatal(err)
	}
	st, err := h.orch.Connect(context.Background(), ssTestProfile("b"))
	if err != nil {
		t.Fatal(err)
	}
	if st.State != Connected {
		t.Fatalf("status = %+v", st)
	}

	want := []string{
		"synth", "engine.start", "proxy.enable", "tun.up", // profile a
		"tun.down", "proxy.disable", "engine.stop", // implicit disconnect
		"synth", "engine.start", "proxy.enable", "tun.up", // profile b
	}
	got := h.rec.snapshot()
	if len(got) != len(want) {
		t.Fatalf("calls = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("call %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestConnectSwitchMidFlight(t *testing.T) {
	h := newHarness(t)
	h.engine.blockFirst = true
	h.engine.entered = make(chan struct{})

	aErr := make(chan error, 1)
	go func() {
		_, err := h.orch.Connect(context.Background(), ssTestProfile("a"))
		aErr <- err
	}()
	<-h.engine.entered

	// Second profile arrives while the first is still launching.
	st, err := h.orch.Connect(context.Background(), ssTestProfile("b"))
	if err != nil {
		t.Fatal(err)
	}
	if st.State != Connected || st.Remark != "b" {
		t.Fatalf("status = %+v", st)
	}

	select {
	case err := <-aErr:
		if err == nil {
			t.Error("interrupted connect should report an error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("first connect never returned")
	}

	// Exactly one active session: the aborted attempt never touched the
	// host and left nothing to tear down.
	want := []string{
		"synth", "engine.start", // profile a, aborted inside start
		"synth", "engine.start", "proxy.enable", "tun.up", // profile b
	}
	got := h.rec.snapshot()
	if len(got) != len(want) {
		t.Fatalf("calls = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("call %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestDisconnectInterruptsConnect(t *testing.T) {
	h := newHarness(t)
	h.engine.blockFirst = true
	h.engine.entered = make(chan struct{})

	aErr := make(chan error, 1)
	go func() {
		_, err := h.orch.Connect(context.Background(), ssTestProfile("a"))
		aErr <- err
	}()
	<-h.engine.entered

	st, err := h.orch.Disconnect(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if st.State != Idle {
		t.Fatalf("status = %+v", st)
	}

	select {
	case err := <-aErr:
		if err == nil {
			t.Error("interrupted connect should report an error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("connect never returned")
	}

	if _, err := os.Stat(h.artifact()); !os.IsNotExist(err) {
		t.Error("config artifact of the aborted attempt should be removed")
	}
	for _, c := range h.rec.snapshot() {
		if c == "proxy.enable" || c == "tun.up" {
			t.Errorf("aborted connect touched the host: %s", c)
		}
	}
}

func TestConnectSynthesisFailure(t *testing.T) {
	h := newHarness(t)
	h.synthErr = errors.New("port 10808 is already in use")

	_, err := h.orch.Connect(context.Background(), ssTestProfile("a"))
	if err == nil {
		t.Fatal("expected error")
	}
	if st := h.orch.Status(); st.State != Failed || st.Reason == "" {
		t.Errorf("status = %+v", st)
	}

	// Synthesis failing must never touch the engine or the host.
	for _, c := range h.rec.snapshot() {
		if c != "synth" {
			t.Errorf("unexpected call %s", c)
		}
	}
}

func TestConnectEngineFailureRemovesArtifact(t *testing.T) {
	h := newHarness(t)
	h.engine.startErr = errors.New("spawn failed")

	_, err := h.orch.Connect(context.Background(), ssTestProfile("a"))
	if err == nil {
		t.Fatal("expected error")
	}
	if st := h.orch.Status(); st.State != Failed {
		t.Errorf("status = %+v", st)
	}
	if _, err := os.Stat(h.artifact()); !os.IsNotExist(err) {
		t.Error("config artifact should be removed after a failed start")
	}
	for _, c := range h.rec.snapshot() {
		if c == "proxy.enable" || c == "tun.up" {
			t.Errorf("host was touched after engine failure: %s", c)
		}
	}
}

func TestConnectProxyFailureRollsBack(t *testing.T) {
	h := newHarness(t)
	h.orch.proxy.(*fakeProxy).enableErr = errors.New("settings daemon unreachable")

	_, err := h.orch.Connect(context.Background(), ssTestProfile("a"))
	if err == nil {
		t.Fatal("expected error")
	}
	if st := h.orch.Status(); st.State != Failed {
		t.Errorf("status = %+v", st)
	}

	got := h.rec.snapshot()
	// Rollback must stop the engine it just started.
	stopped := false
	for _, c := range got {
		if c == "engine.stop" {
			stopped = true
		}
	}
	if !stopped {
		t.Errorf("engine left running after rollback: %v", got)
	}
}

func TestDisconnectReverseOrder(t *testing.T) {
	h := newHarness(t)

	if _, err := h.orch.Connect(context.Background(), ssTestProfile("a")); err != nil {
		t.Fatal(err)
	}
	path := h.artifact()

	st, err := h.orch.Disconnect(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if st.State != Idle {
		t.Errorf("status = %+v", st)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("config artifact should be removed on disconnect")
	}

	want := []string{
		"synth", "engine.start", "proxy.enable", "tun.up",
		"tun.down", "proxy.disable", "engine.stop",
	}
	got := h.rec.snapshot()
	if len(got) != len(want) {
		t.Fatalf("calls = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("call %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestDisconnectWhenIdle(t *testing.T) {
	h := newHarness(t)

	st, err := h.orch.Disconnect(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if st.State != Idle {
		t.Errorf("status = %+v", st)
	}
	if calls := h.rec.snapshot(); len(calls) != 0 {
		t.Errorf("idle disconnect made calls: %v", calls)
	}
}

func TestCrashEventsDriveReconnecting(t *testing.T) {
	h := newHarness(t)

	if _, err := h.orch.Connect(context.Background(), ssTestProfile("a")); err != nil {
		t.Fatal(err)
	}

	h.engine.events <- supervisor.Event{Kind: supervisor.EventCrashed, ExitStatus: "exit status 2"}
	waitForState(t, h.orch, Reconnecting)

	h.engine.events <- supervisor.Event{Kind: supervisor.EventRunning, Attempt: 1}
	st := waitForState(t, h.orch, Connected)
	if st.SOCKSAddr != "127.0.0.1:10808" {
		t.Errorf("listener addresses lost across restart: %+v", st)
	}
}

func TestCrashLoopAfterDisconnectIsIgnored(t *testing.T) {
	h := newHarness(t)

	if _, err := h.orch.Connect(context.Background(), ssTestProfile("a")); err != nil {
		t.Fatal(err)
	}
	if _, err := h.orch.Disconnect(context.Background()); err != nil {
		t.Fatal(err)
	}
	calls := len(h.rec.snapshot())

	// A crash-loop event that was already queued when the disconnect won
	// must not flip the clean Idle into Failed.
	h.engine.events <- supervisor.Event{Kind: supervisor.EventCrashLoop, Attempt: 3, ExitStatus: "exit status 2"}

	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		if st := h.orch.Status(); st.State != Idle {
			t.Fatalf("state flipped to %s after disconnect", st.State)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := len(h.rec.snapshot()); got != calls {
		t.Errorf("stale crash loop made %d extra calls", got-calls)
	}
}

func TestCrashLoopRollsBackRouting(t *testing.T) {
	h := newHarness(t)

	if _, err := h.orch.Connect(context.Background(), ssTestProfile("a")); err != nil {
		t.Fatal(err)
	}
	path := h.artifact()

	h.engine.events <- supervisor.Event{Kind: supervisor.EventCrashed, ExitStatus: "exit status 2"}
	h.engine.events <- supervisor.Event{Kind: supervisor.EventCrashLoop, Attempt: 3, ExitStatus: "exit status 2"}

	st := waitForState(t, h.orch, Failed)
	if st.Reason == "" {
		t.Error("failure reason missing")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("config artifact should be removed after a crash loop")
	}

	got := h.rec.snapshot()
	down, disabled := false, false
	for _, c := range got {
		if c == "tun.down" {
			down = true
		}
		if c == "proxy.disable" {
			disabled = true
		}
	}
	if !down || !disabled {
		t.Errorf("routing not rolled back: %v", got)
	}
}
