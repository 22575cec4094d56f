package pgstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"

	"github.com/careerct/room-whisper-sync/internal/store"
	"github.com/lib/pq"
)

// SQLSTATE codes the store classifies.
const (
	codeUniqueViolation     pq.ErrorCode = "23505"
	codeForeignKeyViolation pq.ErrorCode = "23503"
	classConnection                      = "08"
)

// mapError classifies a driver failure by SQLSTATE, never by message text.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var storeErr *store.Error
	if errors.As(err, &storeErr) {
		return err
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == codeUniqueViolation:
			return store.NewError(store.CodeConflict, op, err)
		case pqErr.Code == codeForeignKeyViolation:
			return store.NewError(store.CodeInvalid, op, err)
		case pqErr.Code.Class() == classConnection:
			return store.NewError(store.CodeUnavailable, op, err)
		}
		return store.NewError(store.CodeUnknown, op, err)
	}

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return store.NewError(store.CodeNotFound, op, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, driver.ErrBadConn), errors.Is(err, sql.ErrConnDone):
		return store.NewError(store.CodeUnavailable, op, err)
	}
	return store.NewError(store.CodeUnknown, op, err)
}
