package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the domain layer. These provide consistent, checkable
// errors for common failures.
var (
	ErrNotOpen       = errors.New("no room is open")
	ErrSessionClosed = errors.New("room session was closed before the operation completed")
	ErrInvalidInput  = errors.New("invalid input")
)

// ValidationError wraps validator failures so callers can match ErrInvalidInput.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid input: %v", e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func (e *ValidationError) Is(target error) bool { return target == ErrInvalidInput }

// FetchError reports a failed read. Local state is left untouched and the last
// published snapshot stays current.
type FetchError struct {
	Resource string // "messages", "message", "members", "typing"
	RoomID   string
	Err      error
}

func (e *FetchError) Error() string {
	if e.RoomID == "" {
		return fmt.Sprintf("fetch %s: %v", e.Resource, e.Err)
	}
	return fmt.Sprintf("fetch %s for room %s: %v", e.Resource, e.RoomID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// SendError reports a failed mutation. Nothing was applied locally, so the
// caller can retry with Input unchanged.
type SendError struct {
	Op    string // "send_message", "add_reaction", "remove_reaction", "mark_typing", "join_room", "upload"
	Input any
	Err   error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }
