//go:build darwin

package sysproxy

import (
	"fmt"
	"net"
	"strings"
)

// macPlatform drives networksetup against one network service (Wi-Fi by
// default, configurable for wired setups).
type macPlatform struct {
	service string
}

func newPlatform(service string) Platform {
	if service == "" {
		service = "Wi-Fi"
	}
	return &macPlatform{service: service}
}

func (m *macPlatform) Snapshot() (Snapshot, error) {
	snap := make(Snapshot)
	for _, kind := range []string{"webproxy", "securewebproxy", "socksfirewallproxy"} {
		out, err := run("networksetup", "-get"+kind, m.service)
		if err != nil {
			return nil, fmt.Errorf("networksetup -get%s %s: %w", kind, m.service, err)
		}
		snap[kind+".enabled"] = boolWord(strings.Contains(out, "Enabled: Yes"))
		snap[kind+".server"] = scanField(out, "Server:")
		snap[kind+".port"] = scanField(out, "Port:")
	}
	return snap, nil
}

func (m *macPlatform) Apply(httpAddr, socksAddr string) error {
	httpHost, httpPort, err := net.SplitHostPort(httpAddr)
	if err != nil {
		return err
	}
	socksHost, socksPort, err := net.SplitHostPort(socksAddr)
	if err != nil {
		return err
	}

	cmds := [][]string{
		{"-setwebproxy", m.service, httpHost, httpPort},
		{"-setsecurewebproxy", m.service, httpHost, httpPort},
		{"-setsocksfirewallproxy", m.service, socksHost, socksPort},
		{"-setwebproxystate", m.service, "on"},
		{"-setsecurewebproxystate", m.service, "on"},
		{"-setsocksfirewallproxystate", m.service, "on"},
	}
	for _, args := range cmds {
		if _, err := run("networksetup", args...); err != nil {
			return fmt.Errorf("networksetup %s: %w", args[0], err)
		}
	}
	return nil
}

func (m *macPlatform) Restore(snap Snapshot) error {
	for _, kind := range []string{"webproxy", "securewebproxy", "socksfirewallproxy"} {
		server := snap[kind+".server"]
		port := snap[kind+".port"]
		if server != "" && port != "" && port != "0" {
			if _, err := run("networksetup", "-set"+kind, m.service, server, port); err != nil {
				return fmt.Errorf("networksetup -set%s: %w", kind, err)
			}
		}
		state := "off"
		if snap[kind+".enabled"] == "yes" {
			state = "on"
		}
		if _, err := run("networksetup", "-set"+kind+"state", m.service, state); err != nil {
			return fmt.Errorf("networksetup -set%sstate: %w", kind, err)
		}
	}
	return nil
}

func scanField(out, prefix string) string {
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(line, prefix))
		}
	}
	return ""
}

func boolWord(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
