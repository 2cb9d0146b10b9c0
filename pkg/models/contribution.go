package models

import "time"

// UserContribution is the per-(room, user) cumulative ranking entry. Totals
// only grow; updates go through the gateway's additive upsert.
type UserContribution struct {
	ID         int64     `json:"id"`
	LiveID     string    `json:"live_id"`
	UserID     string    `json:"user_id"`
	UserName   string    `json:"user_name"`
	TotalScore int64     `json:"total_score"`
	GiftCount  int64     `json:"gift_count"`
	ChatCount  int64     `json:"chat_count"`
	UserAvatar string    `json:"user_avatar,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// RoomStats is a sampled snapshot of a room's viewer and income counters,
// appended by the scheduler while the room is monitoring.
type RoomStats struct {
	ID               int64     `json:"id"`
	LiveID           string    `json:"live_id"`
	CurrentViewers   int64     `json:"current_viewers"`
	CumulativeViews  int64     `json:"cumulative_viewers"`
	TotalIncome      int64     `json:"total_income"`
	ContributorCount int       `json:"contributor_count"`
	StatsAt          time.Time `json:"stats_at"`
}
