//go:build linux

package sysproxy

import (
	"fmt"
	"net"
)

// gnomePlatform drives the GNOME proxy settings through gsettings, which
// covers the desktop sessions this tool targets on Linux. Environment
// variables are not touched; they cannot be pushed into already-running
// programs anyway.
type gnomePlatform struct{}

func newPlatform(string) Platform {
	return &gnomePlatform{}
}

var gnomeKeys = [][2]string{
	{"org.gnome.system.proxy", "mode"},
	{"org.gnome.system.proxy.http", "host"},
	{"org.gnome.system.proxy.http", "port"},
	{"org.gnome.system.proxy.https", "host"},
	{"org.gnome.system.proxy.https", "port"},
	{"org.gnome.system.proxy.socks", "host"},
	{"org.gnome.system.proxy.socks", "port"},
}

func (g *gnomePlatform) Snapshot() (Snapshot, error) {
	snap := make(Snapshot, len(gnomeKeys))
	for _, k := range gnomeKeys {
		val, err := run("gsettings", "get", k[0], k[1])
		if err != nil {
			return nil, fmt.Errorf("gsettings get %s %s: %w", k[0], k[1], err)
		}
		snap[k[0]+" "+k[1]] = val
	}
	return snap, nil
}

func (g *gnomePlatform) Apply(httpAddr, socksAddr string) error {
	httpHost, httpPort, err := net.SplitHostPort(httpAddr)
	if err != nil {
		return err
	}
	socksHost, socksPort, err := net.SplitHostPort(socksAddr)
	if err != nil {
		return err
	}

	sets := [][4]string{
		{"org.gnome.system.proxy.http", "host", quote(httpHost), ""},
		{"org.gnome.system.proxy.http", "port", httpPort, ""},
		{"org.gnome.system.proxy.https", "host", quote(httpHost), ""},
		{"org.gnome.system.proxy.https", "port", httpPort, ""},
		{"org.gnome.system.proxy.socks", "host", quote(socksHost), ""},
		{"org.gnome.system.proxy.socks", "port", socksPort, ""},
		{"org.gnome.system.proxy", "mode", quote("manual"), ""},
	}
	for _, s := range sets {
		if _, err := run("gsettings", "set", s[0], s[1], s[2]); err != nil {
			return fmt.Errorf("gsettings set %s %s: %w", s[0], s[1], err)
		}
	}
	return nil
}

func (g *gnomePlatform) Restore(snap Snapshot) error {
	if snap == nil {
		_, err := run("gsettings", "set", "org.gnome.system.proxy", "mode", quote("none"))
		return err
	}
	for _, k := range gnomeKeys {
		val, ok := snap[k[0]+" "+k[1]]
		if !ok {
			continue
		}
		if _, err := run("gsettings", "set", k[0], k[1], val); err != nil {
			return fmt.Errorf("gsettings set %s %s: %w", k[0], k[1], err)
		}
	}
	return nil
}

func quote(s string) string {
	return "'" + s + "'"
}
