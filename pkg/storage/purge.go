package storage

import (
	"context"
	"fmt"
	"time"
)

// PurgeResult reports how many rows a retention pass deleted per table.
type PurgeResult struct {
	ChatEvents   int64 `json:"chat_events"`
	GiftEvents   int64 `json:"gift_events"`
	RoomStats    int64 `json:"room_stats"`
	SystemEvents int64 `json:"system_events"`
}

// Total returns the number of rows deleted across all tables.
func (r PurgeResult) Total() int64 {
	return r.ChatEvents + r.GiftEvents + r.RoomStats + r.SystemEvents
}

// PurgeOlderThan deletes event and stats rows created before the cutoff.
// Sessions, rooms and contribution totals are kept; only the high-volume
// append-only tables are trimmed.
func (s *Store) PurgeOlderThan(ctx context.Context, cutoff time.Time) (PurgeResult, error) {
	var result PurgeResult
	for _, t := range []struct {
		table  string
		column string
		out    *int64
	}{
		{"chat_events", "created_at", &result.ChatEvents},
		{"gift_events", "created_at", &result.GiftEvents},
		{"room_stats", "stats_at", &result.RoomStats},
		{"system_events", "created_at", &result.SystemEvents},
	} {
		res, err := s.db.ExecContext(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE %s < $1", t.table, t.column), cutoff)
		if err != nil {
			return result, fmt.Errorf("failed to purge %s: %w", t.table, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return result, fmt.Errorf("failed to count purged %s rows: %w", t.table, err)
		}
		*t.out = n
	}
	return result, nil
}
