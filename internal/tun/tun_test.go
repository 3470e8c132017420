package tun

import (
	"errors"
	"os"
	"testing"

	"xrayctl/internal/config"
	"xrayctl/internal/logger"
	"xrayctl/internal/syserr"
)

func TestMain(m *testing.M) {
	logger.Init(false, "")
	os.Exit(m.Run())
}

type fakeTunPlatform struct {
	privilegeErr error
	createErr    error
	addErrOn     string // dst that AddRoute fails for

	iface  string
	routes []string
	log    []string
}

func (f *fakeTunPlatform) CheckPrivilege() error { return f.privilegeErr }

func (f *fakeTunPlatform) CreateInterface(name, cidr string, mtu int) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.iface = name
	f.log = append(f.log, "create "+name)
	return nil
}

func (f *fakeTunPlatform) DeleteInterface(name string) error {
	f.iface = ""
	f.log = append(f.log, "delete "+name)
	return nil
}

func (f *fakeTunPlatform) AddRoute(dst, iface string) error {
	if dst == f.addErrOn {
		return errors.New("route add refused")
	}
	f.routes = append(f.routes, dst)
	f.log = append(f.log, "route add "+dst)
	return nil
}

func (f *fakeTunPlatform) DeleteRoute(dst, iface string) error {
	for i, r := range f.routes {
		if r == dst {
			f.routes = append(f.routes[:i], f.routes[i+1:]...)
			break
		}
	}
	f.log = append(f.log, "route del "+dst)
	return nil
}

func tunConfig() config.TUNConfig {
	return config.TUNConfig{Interface: "xray0", Address: "198.18.0.1/30", MTU: 1500, Port: 10810}
}

func TestUpInstallsSplitDefault(t *testing.T) {
	fake := &fakeTunPlatform{}
	m := NewManagerWith(tunConfig(), fake)

	if err := m.Up("127.0.0.1:10810", config.RouteGlobal); err != nil {
		t.Fatal(err)
	}
	if !m.Active() {
		t.Error("manager should be active")
	}
	if len(fake.routes) != 2 || fake.routes[0] != "0.0.0.0/1" || fake.routes[1] != "128.0.0.0/1" {
		t.Errorf("routes = %v", fake.routes)
	}
}

func TestDownRemovesExactlyWhatUpAdded(t *testing.T) {
	fake := &fakeTunPlatform{}
	m := NewManagerWith(tunConfig(), fake)

	if err := m.Up("127.0.0.1:10810", config.RouteGlobal); err != nil {
		t.Fatal(err)
	}
	if err := m.Down(); err != nil {
		t.Fatal(err)
	}
	if m.Active() {
		t.Error("manager should be inactive")
	}
	if len(fake.routes) != 0 || fake.iface != "" {
		t.Errorf("leftover state: routes=%v iface=%q", fake.routes, fake.iface)
	}

	// Reverse order: second route deleted first.
	want := []string{
		"create xray0",
		"route add 0.0.0.0/1",
		"route add 128.0.0.0/1",
		"route del 128.0.0.0/1",
		"route del 0.0.0.0/1",
		"delete xray0",
	}
	if len(fake.log) != len(want) {
		t.Fatalf("log = %v", fake.log)
	}
	for i := range want {
		if fake.log[i] != want[i] {
			t.Errorf("log[%d] = %q, want %q", i, fake.log[i], want[i])
		}
	}
}

func TestUpWithoutPrivilege(t *testing.T) {
	fake := &fakeTunPlatform{privilegeErr: errors.New("not root")}
	m := NewManagerWith(tunConfig(), fake)

	err := m.Up("127.0.0.1:10810", config.RouteGlobal)
	var pe *syserr.PrivilegeError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v", err)
	}
	if m.Active() {
		t.Error("manager must stay inactive")
	}
}

func TestUpRollsBackOnRouteFailure(t *testing.T) {
	fake := &fakeTunPlatform{addErrOn: "128.0.0.0/1"}
	m := NewManagerWith(tunConfig(), fake)

	err := m.Up("127.0.0.1:10810", config.RouteGlobal)
	var re *syserr.RoutingError
	if !errors.As(err, &re) {
		t.Fatalf("err = %v", err)
	}
	if len(fake.routes) != 0 || fake.iface != "" {
		t.Errorf("partial state left behind: routes=%v iface=%q", fake.routes, fake.iface)
	}
	if m.Active() {
		t.Error("manager must stay inactive after rollback")
	}
}

func TestUpDownIdempotent(t *testing.T) {
	fake := &fakeTunPlatform{}
	m := NewManagerWith(tunConfig(), fake)

	if err := m.Down(); err != nil {
		t.Fatal(err)
	}
	if err := m.Up("127.0.0.1:10810", config.RouteGlobal); err != nil {
		t.Fatal(err)
	}
	if err := m.Up("127.0.0.1:10810", config.RouteGlobal); err != nil {
		t.Fatal(err)
	}
	if len(fake.routes) != 2 {
		t.Errorf("second Up must not duplicate routes: %v", fake.routes)
	}
	if err := m.Down(); err != nil {
		t.Fatal(err)
	}
	if err := m.Down(); err != nil {
		t.Fatal(err)
	}
}
