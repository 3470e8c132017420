// Package sysproxy applies and reverts OS-level proxy settings. The
// controller snapshots whatever was configured before enabling, so a user
// who had a corporate proxy set gets it back on disable instead of a
// blanket "no proxy".
package sysproxy

import (
	"os/exec"
	"strings"
	"sync"

	"xrayctl/internal/logger"
	"xrayctl/internal/syserr"
)

// Snapshot is an opaque capture of the OS proxy settings at one moment.
type Snapshot map[string]string

// Platform is the capability interface over the OS proxy configuration.
// One implementation per platform, selected at build time; the controller
// never branches on the platform itself.
type Platform interface {
	Snapshot() (Snapshot, error)
	Apply(httpAddr, socksAddr string) error
	Restore(Snapshot) error
}

type Controller struct {
	mu       sync.Mutex
	platform Platform
	enabled  bool
	prev     Snapshot
}

func NewController(service string) *Controller {
	return &Controller{platform: newPlatform(service)}
}

// NewControllerWith injects a platform; used by tests and callers that
// manage their own OS abstraction.
func NewControllerWith(p Platform) *Controller {
	return &Controller{platform: p}
}

// Enable points the OS at the given local listeners. Idempotent: a second
// call while enabled is a no-op and does not overwrite the saved snapshot.
func (c *Controller) Enable(httpAddr, socksAddr string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.enabled {
		return nil
	}

	prev, err := c.platform.Snapshot()
	if err != nil {
		return &syserr.RoutingError{Op: "system proxy snapshot", Err: err}
	}
	if err := c.platform.Apply(httpAddr, socksAddr); err != nil {
		return &syserr.RoutingError{Op: "system proxy apply", Err: err}
	}

	c.prev = prev
	c.enabled = true
	logger.Log.Infof("system proxy enabled (http %s, socks %s)", httpAddr, socksAddr)
	return nil
}

// Disable restores the snapshot taken by Enable. It operates purely on OS
// settings state and never waits on the proxy process, so reverting works
// even after a crash. Idempotent.
func (c *Controller) Disable() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.enabled {
		return nil
	}

	if err := c.platform.Restore(c.prev); err != nil {
		return &syserr.RoutingError{Op: "system proxy restore", Err: err}
	}

	c.prev = nil
	c.enabled = false
	logger.Log.Info("system proxy restored")
	return nil
}

func (c *Controller) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// run executes one settings command, returning trimmed combined output.
func run(name string, args ...string) (string, error) {
	out, err := exec.Command(name, args...).CombinedOutput()
	return strings.TrimSpace(string(out)), err
}
