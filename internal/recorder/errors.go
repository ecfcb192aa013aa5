package recorder

import (
	"errors"
	"fmt"
)

// ErrorKind is the kind of a recording error.
type ErrorKind int

// error kinds.
const (
	ErrorKindCreateWriter ErrorKind = iota
	ErrorKindCreateInput
	ErrorKindAppend
	ErrorKindFinalize
)

// sentinel errors, one per kind.
var (
	ErrFailedToCreateWriter = errors.New("failed to create writer")
	ErrFailedToCreateInput  = errors.New("failed to create writer input")
	ErrFailedToAppend       = errors.New("failed to append sample")
	ErrFailedToFinalize     = errors.New("failed to finalize file")
)

func (k ErrorKind) sentinel() error {
	switch k {
	case ErrorKindCreateInput:
		return ErrFailedToCreateInput
	case ErrorKindAppend:
		return ErrFailedToAppend
	case ErrorKindFinalize:
		return ErrFailedToFinalize
	}
	return ErrFailedToCreateWriter
}

// Error is a recording error.
// errors.Is matches both the sentinel of its kind and the wrapped error.
type Error struct {
	Kind ErrorKind
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%v: %v", e.Kind.sentinel(), e.Err)
}

// Unwrap allows errors.Is and errors.As to inspect the kind and the cause.
func (e *Error) Unwrap() []error {
	return []error{e.Kind.sentinel(), e.Err}
}
