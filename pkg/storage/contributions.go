package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/livewatch/livewatch/pkg/models"
)

// RecordContribution applies additive deltas to a user's per-room ranking
// entry, creating it on first sight. The display name always follows the
// latest event; the avatar only changes when a non-empty one arrives.
func (s *Store) RecordContribution(ctx context.Context, liveID, userID, userName string, scoreDelta, giftDelta, chatDelta int64, avatar string) (*models.UserContribution, error) {
	now := s.now()
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO user_contributions (live_id, user_id, user_name,
			total_score, gift_count, chat_count, user_avatar, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $8)
		ON CONFLICT ON CONSTRAINT uq_room_user DO UPDATE SET
			user_name = EXCLUDED.user_name,
			total_score = user_contributions.total_score + EXCLUDED.total_score,
			gift_count = user_contributions.gift_count + EXCLUDED.gift_count,
			chat_count = user_contributions.chat_count + EXCLUDED.chat_count,
			user_avatar = COALESCE(EXCLUDED.user_avatar, user_contributions.user_avatar),
			updated_at = EXCLUDED.updated_at
		RETURNING id, live_id, user_id, user_name, total_score, gift_count,
			chat_count, user_avatar, created_at, updated_at`,
		liveID, userID, userName, scoreDelta, giftDelta, chatDelta, avatar, now)

	var (
		c       models.UserContribution
		avatarN sql.NullString
	)
	err := row.Scan(&c.ID, &c.LiveID, &c.UserID, &c.UserName, &c.TotalScore,
		&c.GiftCount, &c.ChatCount, &avatarN, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to record contribution for %s/%s: %w", liveID, userID, err)
	}
	c.UserAvatar = avatarN.String
	return &c, nil
}

// TopContributors returns a room's all-time ranking, highest score first.
func (s *Store) TopContributors(ctx context.Context, liveID string, limit int) ([]*models.UserContribution, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, live_id, user_id, user_name, total_score, gift_count,
			chat_count, user_avatar, created_at, updated_at
		FROM user_contributions
		WHERE live_id = $1
		ORDER BY total_score DESC
		LIMIT $2`,
		liveID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list contributors for room %s: %w", liveID, err)
	}
	defer rows.Close()

	var out []*models.UserContribution
	for rows.Next() {
		var (
			c       models.UserContribution
			avatarN sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.LiveID, &c.UserID, &c.UserName,
			&c.TotalScore, &c.GiftCount, &c.ChatCount, &avatarN,
			&c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan contribution: %w", err)
		}
		c.UserAvatar = avatarN.String
		out = append(out, &c)
	}
	return out, rows.Err()
}

// SessionContributor is one row of a per-session ranking aggregated from
// persisted gift events.
type SessionContributor struct {
	UserID     string `json:"user_id"`
	UserName   string `json:"user_name"`
	UserLevel  int    `json:"user_level"`
	TotalScore int64  `json:"total_score"`
	GiftCount  int64  `json:"gift_count"`
	UserAvatar string `json:"user_avatar,omitempty"`
}

// SessionContributors aggregates gift events for one session into a ranking.
// The processor uses it to warm-start its in-memory board when it adopts an
// existing session after a reconnect.
func (s *Store) SessionContributors(ctx context.Context, liveID string, sessionID int64, limit int) ([]SessionContributor, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT g.user_id,
		       max(g.user_name) AS user_name,
		       max(g.user_level) AS user_level,
		       sum(g.total_value) AS total_score,
		       sum(g.gift_count) AS gift_count,
		       max(uc.user_avatar) AS user_avatar
		FROM gift_events g
		LEFT JOIN user_contributions uc
		       ON uc.live_id = g.live_id AND uc.user_id = g.user_id
		WHERE g.live_id = $1 AND g.session_id = $2
		GROUP BY g.user_id
		ORDER BY sum(g.total_value) DESC
		LIMIT $3`,
		liveID, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list session %d contributors: %w", sessionID, err)
	}
	defer rows.Close()

	var out []SessionContributor
	for rows.Next() {
		var (
			c       SessionContributor
			avatarN sql.NullString
		)
		if err := rows.Scan(&c.UserID, &c.UserName, &c.UserLevel,
			&c.TotalScore, &c.GiftCount, &avatarN); err != nil {
			return nil, fmt.Errorf("failed to scan session contributor: %w", err)
		}
		c.UserAvatar = avatarN.String
		out = append(out, c)
	}
	return out, rows.Err()
}
