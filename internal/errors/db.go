package errors

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
)

// MapDBError maps database errors to AppError instances.
// It handles the patterns the session state table can produce:
// - sql.ErrNoRows and undefined_table → NotFound
// - connection exceptions and shutdowns → Unavailable
// - Context timeouts/cancellations → Timeout/Canceled
//
// If the error is not a recognized database error, it returns the original error.
func MapDBError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return Wrap(err, ErrCodeTimeout, "database request timed out")
	}
	if errors.Is(err, context.Canceled) {
		return Wrap(err, ErrCodeCanceled, "database request was canceled")
	}
	if errors.Is(err, sql.ErrNoRows) {
		return Wrap(err, ErrCodeNotFound, "session record not found")
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return mapPgError(pgErr)
	}

	return err
}

func mapPgError(pgErr *pgconn.PgError) error {
	switch {
	case pgErr.Code == pgerrcode.UndefinedTable:
		// Schema not created yet reads the same as an empty store.
		return Wrap(pgErr, ErrCodeNotFound, "session table does not exist")
	case pgerrcode.IsConnectionException(pgErr.Code),
		pgErr.Code == pgerrcode.AdminShutdown,
		pgErr.Code == pgerrcode.CannotConnectNow,
		pgErr.Code == pgerrcode.TooManyConnections:
		return Wrap(pgErr, ErrCodeUnavailable, "database unavailable")
	case pgErr.Code == pgerrcode.QueryCanceled:
		return Wrap(pgErr, ErrCodeTimeout, "database query canceled")
	default:
		return Wrap(pgErr, ErrCodeInternal, "a database error occurred")
	}
}
