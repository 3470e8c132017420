// Package syserr holds the error types shared by the OS-facing
// controllers. A PrivilegeError means the operation needs elevation and
// retrying without it cannot succeed; a RoutingError means the OS call
// itself failed and the in-progress connect attempt must roll back.
package syserr

import "fmt"

type PrivilegeError struct {
	Op string
}

func (e *PrivilegeError) Error() string {
	return fmt.Sprintf("%s requires elevated privileges", e.Op)
}

type RoutingError struct {
	Op  string
	Err error
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *RoutingError) Unwrap() error { return e.Err }
