//go:build windows

package supervisor

import "os"

// Windows has no SIGTERM; termination is immediate.
func signalTerm(p *os.Process) error {
	return p.Kill()
}
