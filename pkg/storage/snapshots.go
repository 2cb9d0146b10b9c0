package storage

import (
	"context"
	"fmt"

	"github.com/livewatch/livewatch/pkg/models"
)

// SaveSnapshot appends one sampled stats row for a room.
func (s *Store) SaveSnapshot(ctx context.Context, snap *models.RoomStats) (*models.RoomStats, error) {
	if snap.StatsAt.IsZero() {
		snap.StatsAt = s.now()
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO room_stats (live_id, current_viewers, cumulative_viewers,
			total_income, contributor_count, stats_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		snap.LiveID, snap.CurrentViewers, snap.CumulativeViews,
		snap.TotalIncome, snap.ContributorCount, snap.StatsAt)
	if err := row.Scan(&snap.ID); err != nil {
		return nil, fmt.Errorf("failed to save stats snapshot for room %s: %w", snap.LiveID, err)
	}
	return snap, nil
}

// SnapshotHistory returns a room's most recent stats samples, newest first.
func (s *Store) SnapshotHistory(ctx context.Context, liveID string, limit int) ([]*models.RoomStats, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, live_id, current_viewers, cumulative_viewers, total_income,
			contributor_count, stats_at
		FROM room_stats
		WHERE live_id = $1
		ORDER BY stats_at DESC
		LIMIT $2`,
		liveID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stats for room %s: %w", liveID, err)
	}
	defer rows.Close()

	var out []*models.RoomStats
	for rows.Next() {
		var st models.RoomStats
		if err := rows.Scan(&st.ID, &st.LiveID, &st.CurrentViewers,
			&st.CumulativeViews, &st.TotalIncome, &st.ContributorCount,
			&st.StatsAt); err != nil {
			return nil, fmt.Errorf("failed to scan stats snapshot: %w", err)
		}
		out = append(out, &st)
	}
	return out, rows.Err()
}
