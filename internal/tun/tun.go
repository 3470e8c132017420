// Package tun manages the virtual interface and routes for full-tunnel
// mode. Down removes exactly what Up added, never a blanket flush of the
// routing table.
package tun

import (
	"sync"

	"xrayctl/internal/config"
	"xrayctl/internal/logger"
	"xrayctl/internal/syserr"
)

// splitDefault covers the whole IPv4 space with two /1 routes. They win
// over the existing default route by prefix length without replacing it,
// so teardown is two exact deletions. LAN destinations keep matching
// their more-specific connected routes ahead of these.
var splitDefault = []string{"0.0.0.0/1", "128.0.0.0/1"}

// Platform is the capability interface over interface and route
// management. One implementation per platform, selected at build time.
type Platform interface {
	CheckPrivilege() error
	CreateInterface(name, cidr string, mtu int) error
	DeleteInterface(name string) error
	AddRoute(dst, iface string) error
	DeleteRoute(dst, iface string) error
}

type Manager struct {
	mu       sync.Mutex
	platform Platform
	cfg      config.TUNConfig
	up       bool
	routes   []string // routes we actually added, removed on Down
}

func NewManager(cfg config.TUNConfig) *Manager {
	return &Manager{platform: newPlatform(), cfg: cfg}
}

func NewManagerWith(cfg config.TUNConfig, p Platform) *Manager {
	return &Manager{platform: p, cfg: cfg}
}

// Up creates the interface and installs routes steering traffic into the
// engine's TUN inbound. A privilege failure is distinct from a routing
// failure: the first needs elevation, the second a rollback and retry.
func (m *Manager) Up(tunAddr string, mode config.RoutingMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.up {
		return nil
	}

	if err := m.platform.CheckPrivilege(); err != nil {
		return &syserr.PrivilegeError{Op: "tun setup"}
	}

	if err := m.platform.CreateInterface(m.cfg.Interface, m.cfg.Address, m.cfg.MTU); err != nil {
		return &syserr.RoutingError{Op: "create tun interface", Err: err}
	}

	for _, dst := range splitDefault {
		if err := m.platform.AddRoute(dst, m.cfg.Interface); err != nil {
			m.rollbackLocked()
			return &syserr.RoutingError{Op: "add route " + dst, Err: err}
		}
		m.routes = append(m.routes, dst)
	}

	m.up = true
	logger.Log.Infof("tun %s up, steering traffic to %s (%s mode)", m.cfg.Interface, tunAddr, mode)
	return nil
}

// Down removes the routes added by Up, then the interface. Idempotent;
// safe to call after a partial failure or a crashed engine.
func (m *Manager) Down() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.up && len(m.routes) == 0 {
		return nil
	}

	err := m.rollbackLocked()
	m.up = false
	if err != nil {
		return &syserr.RoutingError{Op: "tun teardown", Err: err}
	}
	logger.Log.Infof("tun %s down", m.cfg.Interface)
	return nil
}

func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.up
}

// rollbackLocked best-effort removes everything added so far, keeping the
// first error. Deletion continues past failures so one stuck route does
// not strand the rest.
func (m *Manager) rollbackLocked() error {
	var firstErr error
	for i := len(m.routes) - 1; i >= 0; i-- {
		if err := m.platform.DeleteRoute(m.routes[i], m.cfg.Interface); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	m.routes = nil

	if err := m.platform.DeleteInterface(m.cfg.Interface); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
