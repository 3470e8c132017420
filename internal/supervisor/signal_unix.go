//go:build !windows

package supervisor

import (
	"os"
	"syscall"
)

func signalTerm(p *os.Process) error {
	return p.Signal(syscall.SIGTERM)
}
