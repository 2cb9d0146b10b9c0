package database

import (
	"context"
	"database/sql"
	"time"
)

// PoolStats is the connection pool slice of a health report.
type PoolStats struct {
	Open         int   `json:"open"`
	InUse        int   `json:"in_use"`
	Idle         int   `json:"idle"`
	WaitCount    int64 `json:"wait_count"`
	WaitDuration int64 `json:"wait_duration_ms"`
	MaxOpen      int   `json:"max_open"`
}

// HealthStatus is the database health report: connectivity, applied schema
// version from the embedded migrations, and pool statistics.
type HealthStatus struct {
	Status        string    `json:"status"`
	ResponseTime  int64     `json:"response_time_ms"`
	SchemaVersion int64     `json:"schema_version,omitempty"`
	SchemaDirty   bool      `json:"schema_dirty,omitempty"`
	Pool          PoolStats `json:"pool"`
}

// Health pings the database and assembles a HealthStatus. The schema version
// is best effort; a failed lookup leaves it zero rather than failing a check
// whose purpose is connectivity.
func Health(ctx context.Context, db *sql.DB) (*HealthStatus, error) {
	start := time.Now()

	if err := db.PingContext(ctx); err != nil {
		return &HealthStatus{
			Status:       "unhealthy",
			ResponseTime: time.Since(start).Milliseconds(),
		}, err
	}

	status := &HealthStatus{
		Status:       "healthy",
		ResponseTime: time.Since(start).Milliseconds(),
		Pool:         poolStats(db),
	}

	var version int64
	var dirty bool
	row := db.QueryRowContext(ctx, `SELECT version, dirty FROM schema_migrations LIMIT 1`)
	if err := row.Scan(&version, &dirty); err == nil {
		status.SchemaVersion = version
		status.SchemaDirty = dirty
	}

	return status, nil
}

func poolStats(db *sql.DB) PoolStats {
	stats := db.Stats()
	return PoolStats{
		Open:         stats.OpenConnections,
		InUse:        stats.InUse,
		Idle:         stats.Idle,
		WaitCount:    stats.WaitCount,
		WaitDuration: stats.WaitDuration.Milliseconds(),
		MaxOpen:      stats.MaxOpenConnections,
	}
}
