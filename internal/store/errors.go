package store

import (
	"errors"
	"fmt"
)

// Code classifies a backend failure independently of the driver's message text.
type Code string

const (
	CodeUnknown     Code = "unknown"
	CodeConflict    Code = "conflict"
	CodeNotFound    Code = "not_found"
	CodeUnavailable Code = "unavailable"
	CodeInvalid     Code = "invalid"
)

// Common store errors that can be checked using errors.Is().
var (
	// ErrConflict is returned when an insert violates a uniqueness constraint.
	ErrConflict = errors.New("uniqueness constraint violated")
	// ErrNotFound is returned when a record is not found.
	ErrNotFound = errors.New("record not found")
	// ErrUnavailable is returned when the backend cannot be reached.
	ErrUnavailable = errors.New("store unavailable")
	// ErrInvalidInput is returned when invalid input is provided to a method.
	ErrInvalidInput = errors.New("invalid input data")
)

// Error is a backend error with a structured code and the operation that failed.
type Error struct {
	Code Code
	Op   string
	Err  error
}

// NewError creates an Error for op with the given code and cause.
func NewError(code Code, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

// Error returns the error message.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Code, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel that corresponds to the error code.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrConflict:
		return e.Code == CodeConflict
	case ErrNotFound:
		return e.Code == CodeNotFound
	case ErrUnavailable:
		return e.Code == CodeUnavailable
	case ErrInvalidInput:
		return e.Code == CodeInvalid
	}
	return false
}

// IsConflict reports whether err is a uniqueness violation.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
