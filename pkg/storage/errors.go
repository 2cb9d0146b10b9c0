package storage

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound is returned when an entity does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrDuplicateTrace is returned when a gift insert collides with the
	// unique trace_id index. The processor treats this as an already
	// delivered wire message.
	ErrDuplicateTrace = errors.New("duplicate gift trace id")

	// ErrConflictingOpenSession is returned when OpenSession runs while the
	// room already has a live session. Callers adopt the existing session
	// instead of creating a duplicate.
	ErrConflictingOpenSession = errors.New("room already has an open session")
)

const pgUniqueViolation = "23505"

// uniqueViolation reports whether err is a unique-constraint violation on
// the named constraint or index.
func uniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == constraint
}
