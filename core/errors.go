package core

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the kernel.
var (
	// ErrAgain means a non-blocking operation could not complete right now
	ErrAgain = errors.New("resource temporarily unavailable")

	// ErrTimeout means a blocking wait expired
	ErrTimeout = errors.New("operation timed out")

	// ErrInterrupted means a blocking wait was cancelled by its context
	ErrInterrupted = errors.New("interrupted")

	// ErrTerminated means the context is terminating or terminated
	ErrTerminated = errors.New("context terminated")

	// ErrTooManySockets means every socket slot is in use
	ErrTooManySockets = errors.New("too many open sockets")

	// ErrInvalidSocketType means no pattern is registered for the type
	ErrInvalidSocketType = errors.New("invalid socket type")

	// ErrSocketClosed means the socket handle was already closed
	ErrSocketClosed = errors.New("socket closed")

	// ErrInvalidEndpoint means the endpoint address could not be parsed
	ErrInvalidEndpoint = errors.New("invalid endpoint")

	// ErrProtocolNotSupported means the endpoint uses a transport the kernel does not drive
	ErrProtocolNotSupported = errors.New("protocol not supported")

	// ErrAddressInUse means the inproc endpoint is already bound
	ErrAddressInUse = errors.New("address in use")

	// ErrConnectionRefused means nothing is bound to the inproc endpoint
	ErrConnectionRefused = errors.New("connection refused")

	// ErrNoWorker means no worker matches the requested affinity
	ErrNoWorker = errors.New("no worker available")

	// ErrInvalidOption means a socket option value is out of range
	ErrInvalidOption = errors.New("invalid socket option")
)

// InvariantError describes a broken kernel protocol invariant. It is only
// ever raised with panic: it indicates a bug in command construction, not a
// condition a caller can recover from.
type InvariantError struct {
	// Object names the kernel object that detected the violation
	Object string

	// Reason describes what went wrong
	Reason string
}

func (e *InvariantError) Error() string {
	if e.Object == "" {
		return "zkernel: invariant violated: " + e.Reason
	}
	return fmt.Sprintf("zkernel: invariant violated in %s: %s", e.Object, e.Reason)
}

func invariant(object, format string, args ...any) {
	panic(&InvariantError{Object: object, Reason: fmt.Sprintf(format, args...)})
}
