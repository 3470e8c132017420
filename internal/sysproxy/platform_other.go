//go:build !linux && !darwin && !windows

package sysproxy

import "errors"

type unsupportedPlatform struct{}

func newPlatform(string) Platform {
	return unsupportedPlatform{}
}

var errUnsupported = errors.New("system proxy control is not supported on this platform")

func (unsupportedPlatform) Snapshot() (Snapshot, error)  { return nil, errUnsupported }
func (unsupportedPlatform) Apply(string, string) error   { return errUnsupported }
func (unsupportedPlatform) Restore(Snapshot) error       { return errUnsupported }
