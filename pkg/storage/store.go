// Package storage is the typed persistence gateway. It is the only component
// that touches the database; every operation is atomic with respect to a
// single row and surfaces write failures to the caller without retrying.
package storage

import (
	"database/sql"
	"time"

	"github.com/livewatch/livewatch/pkg/config"
)

// Store executes all reads and writes against the shared connection pool.
// It is safe for concurrent use; per-operation thread-safety comes from the
// pool itself.
type Store struct {
	db    *sql.DB
	clock config.Clock
}

// NewStore creates a gateway over db. The clock pins every explicit
// timestamp to the configured display zone.
func NewStore(db *sql.DB, clock config.Clock) *Store {
	return &Store{db: db, clock: clock}
}

func (s *Store) now() time.Time {
	return s.clock.Now()
}

// nullString maps "" to SQL NULL.
func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

// nullInt64 maps a nil pointer to SQL NULL.
func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
