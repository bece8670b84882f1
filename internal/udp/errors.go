package udp

import (
	"errors"
	"fmt"
)

var (
	// ErrNoNetworkInfo means no broadcast address could be resolved, e.g. the
	// host has no active IPv4 network. It is expected and recoverable.
	ErrNoNetworkInfo = errors.New("no network info")
	ErrSendFailed    = errors.New("send failed")
	ErrReceiveFailed = errors.New("receive failed")
	// ErrReceiveTimeout means the read deadline passed without a datagram.
	ErrReceiveTimeout = errors.New("receive timeout")
	ErrNotInitialized = errors.New("socket not initialized")
)

// NetworkError carries the failing operation and port alongside one of the
// sentinel errors above.
type NetworkError struct {
	Op   string
	Port int
	Kind error
	Err  error
}

func (e *NetworkError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("udp %s port %d: %v", e.Op, e.Port, e.Kind)
	}
	return fmt.Sprintf("udp %s port %d: %v: %v", e.Op, e.Port, e.Kind, e.Err)
}

func (e *NetworkError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
