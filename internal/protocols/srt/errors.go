package srt

import (
	"errors"
	"fmt"
)

// ErrNotOpen is returned when an operation requires an open socket.
var ErrNotOpen = errors.New("socket is not open")

// TransportError is an error of the underlying transport.
type TransportError struct {
	Op     string
	Reason string
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Op, e.Reason)
}

func newTransportError(op string, err error) *TransportError {
	return &TransportError{Op: op, Reason: err.Error()}
}
