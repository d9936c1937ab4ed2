package client

import (
	"errors"

	"score-render/message"
)

// RemoteError is a failed result surfaced to Go callers.
//
// It matches the sentinel errors that produced the fault on either side of the
// connection, so callers can write errors.Is(err, adapter.ErrNotReady) or
// errors.Is(err, transport.ErrClosed).
type RemoteError struct {
	Method message.Method
	Fault  *message.Fault
}

func (e *RemoteError) Error() string {
	return string(e.Method) + ": " + e.Fault.Error()
}

// Is matches any sentinel that converts to the same fault name.
func (e *RemoteError) Is(target error) bool {
	named, ok := target.(interface{ FaultName() string })
	return ok && named.FaultName() == e.Fault.Name
}

// FaultName returns the fault's name.
func (e *RemoteError) FaultName() string {
	return e.Fault.Name
}

// IsRemote reports whether err is a RemoteError and returns it.
func IsRemote(err error) (*RemoteError, bool) {
	var re *RemoteError
	ok := errors.As(err, &re)
	return re, ok
}
