//go:build linux

package tun

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// ipPlatform shells out to iproute2. The commands are deliberately exact
// inverses of each other so teardown mirrors setup one-to-one.
type ipPlatform struct{}

func newPlatform() Platform {
	return ipPlatform{}
}

func (ipPlatform) CheckPrivilege() error {
	if os.Geteuid() != 0 {
		return errors.New("not running as root")
	}
	return nil
}

func (ipPlatform) CreateInterface(name, cidr string, mtu int) error {
	cmds := [][]string{
		{"tuntap", "add", "dev", name, "mode", "tun"},
		{"addr", "add", cidr, "dev", name},
		{"link", "set", name, "mtu", fmt.Sprint(mtu)},
		{"link", "set", name, "up"},
	}
	for _, args := range cmds {
		if err := ip(args...); err != nil {
			// Leave no half-created interface behind.
			_ = ip("link", "del", name)
			return err
		}
	}
	return nil
}

func (ipPlatform) DeleteInterface(name string) error {
	return ip("link", "del", name)
}

func (ipPlatform) AddRoute(dst, iface string) error {
	return ip("route", "add", dst, "dev", iface)
}

func (ipPlatform) DeleteRoute(dst, iface string) error {
	return ip("route", "del", dst, "dev", iface)
}

func ip(args ...string) error {
	out, err := exec.Command("ip", args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("ip %s: %v (%s)", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}
