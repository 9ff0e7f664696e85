package remote

import (
	"errors"
	"fmt"
)

// The retry policy distinguishes two failure classes: a transport failure
// means the call did not complete (connection drop, timeout) and may be
// retried; a well-formed rejection means the remote service answered and
// said no, which retrying will not change.

// TransportError wraps a failure where the HTTP exchange itself did not
// complete.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport failure: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Transport wraps err as a TransportError for the given operation.
func Transport(op string, err error) error {
	return &TransportError{Op: op, Err: err}
}

// IsTransport reports whether err (or anything it wraps) is a transport
// failure.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
