package database

import (
	"context"
	"errors"

	"github.com/careerct/room-whisper-sync/internal/store"
)

// mapError classifies a driver failure. Uniqueness conflicts never reach
// here: they are detected from INSERT IGNORE returning no rows.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var storeErr *store.Error
	if errors.As(err, &storeErr) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || isConnectionError(err) {
		return store.NewError(store.CodeUnavailable, op, err)
	}
	return store.NewError(store.CodeUnknown, op, err)
}
