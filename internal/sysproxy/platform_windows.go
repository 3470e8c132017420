//go:build windows

package sysproxy

import (
	"fmt"
	"strings"
)

const internetSettingsKey = `HKCU\Software\Microsoft\Windows\CurrentVersion\Internet Settings`

// winPlatform edits the per-user WinINET proxy values through reg.exe.
type winPlatform struct{}

func newPlatform(string) Platform {
	return &winPlatform{}
}

func (w *winPlatform) Snapshot() (Snapshot, error) {
	snap := Snapshot{
		"ProxyEnable":   "0",
		"ProxyServer":   "",
		"ProxyOverride": "<local>",
	}
	for name := range snap {
		out, err := run("reg", "query", internetSettingsKey, "/v", name)
		if err != nil {
			// Absent value; keep the default.
			continue
		}
		if val := parseRegValue(out, name); val != "" {
			snap[name] = val
		}
	}
	return snap, nil
}

func (w *winPlatform) Apply(httpAddr, _ string) error {
	sets := [][]string{
		{"/v", "ProxyServer", "/t", "REG_SZ", "/d", httpAddr},
		{"/v", "ProxyOverride", "/t", "REG_SZ", "/d", "<local>"},
		{"/v", "ProxyEnable", "/t", "REG_DWORD", "/d", "1"},
	}
	for _, args := range sets {
		full := append([]string{"add", internetSettingsKey}, append(args, "/f")...)
		if _, err := run("reg", full...); err != nil {
			return fmt.Errorf("reg add %s: %w", args[1], err)
		}
	}
	return nil
}

func (w *winPlatform) Restore(snap Snapshot) error {
	enable := snap["ProxyEnable"]
	if enable == "" {
		enable = "0"
	}
	sets := [][]string{
		{"/v", "ProxyEnable", "/t", "REG_DWORD", "/d", normalizeDword(enable)},
	}
	if server := snap["ProxyServer"]; server != "" {
		sets = append(sets, []string{"/v", "ProxyServer", "/t", "REG_SZ", "/d", server})
	}
	if override := snap["ProxyOverride"]; override != "" {
		sets = append(sets, []string{"/v", "ProxyOverride", "/t", "REG_SZ", "/d", override})
	}
	for _, args := range sets {
		full := append([]string{"add", internetSettingsKey}, append(args, "/f")...)
		if _, err := run("reg", full...); err != nil {
			return fmt.Errorf("reg add %s: %w", args[1], err)
		}
	}
	return nil
}

// parseRegValue extracts the data column from `reg query` output.
func parseRegValue(out, name string) string {
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(strings.TrimSpace(line))
		if len(fields) >= 3 && fields[0] == name {
			return fields[len(fields)-1]
		}
	}
	return ""
}

// normalizeDword maps reg query's hex form (0x1) back to a decimal /d arg.
func normalizeDword(v string) string {
	if strings.HasPrefix(v, "0x") {
		if v == "0x0" {
			return "0"
		}
		return "1"
	}
	return v
}
