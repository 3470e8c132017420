//go:build !linux

package tun

import "errors"

// TODO: wintun-backed implementation for Windows and a utun provider for
// darwin; both need a packet driver the CLI does not bundle yet.
type unsupportedPlatform struct{}

func newPlatform() Platform {
	return unsupportedPlatform{}
}

var errUnsupported = errors.New("tun mode is not supported on this platform")

func (unsupportedPlatform) CheckPrivilege() error                   { return errUnsupported }
func (unsupportedPlatform) CreateInterface(string, string, int) error { return errUnsupported }
func (unsupportedPlatform) DeleteInterface(string) error            { return errUnsupported }
func (unsupportedPlatform) AddRoute(string, string) error           { return errUnsupported }
func (unsupportedPlatform) DeleteRoute(string, string) error        { return errUnsupported }
