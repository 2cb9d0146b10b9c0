package events

import "time"

// Event type discriminators carried in the envelope Type field.
const (
	TypeChat  = "chat"
	TypeGift  = "gift"
	TypeStats = "stats"
)

// Envelope is the wire shape published on room channels and delivered to
// dashboard subscribers.
type Envelope struct {
	Type      string    `json:"type"`
	LiveID    string    `json:"live_id"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// ChatPayload is one chat message fanned out on a room's event channel.
type ChatPayload struct {
	UserID     string `json:"user_id"`
	UserName   string `json:"user_name"`
	UserLevel  int    `json:"user_level"`
	Content    string `json:"content"`
	IsGiftUser bool   `json:"is_gift_user"`
}

// GiftPayload describes one gift increment. Count, Price and Value are the
// incremental deltas applied by this event; ComboCount is the running combo
// counter and IsComboEnd marks the final event of a combo run.
type GiftPayload struct {
	UserID     string `json:"user_id"`
	UserName   string `json:"user_name"`
	GiftName   string `json:"gift_name"`
	Count      int64  `json:"count"`
	Price      int64  `json:"price"`
	Value      int64  `json:"value"`
	ComboCount int64  `json:"combo_count,omitempty"`
	IsComboEnd bool   `json:"is_combo_end,omitempty"`
}

// Contributor is one entry of the running contribution board.
type Contributor struct {
	UserID     string `json:"user_id"`
	UserName   string `json:"user_name"`
	Score      int64  `json:"score"`
	GiftCount  int64  `json:"gift_count"`
	ChatCount  int64  `json:"chat_count"`
	UserAvatar string `json:"user_avatar,omitempty"`
}

// SessionSummary is the condensed view of the session embedded in stats
// payloads.
type SessionSummary struct {
	ID              int64      `json:"id"`
	StartTime       time.Time  `json:"start_time"`
	EndTime         *time.Time `json:"end_time,omitempty"`
	Status          string     `json:"status"`
	TotalIncome     int64      `json:"total_income"`
	TotalGiftCount  int64      `json:"total_gift_count"`
	TotalChatCount  int64      `json:"total_chat_count"`
	PeakViewerCount int64      `json:"peak_viewer_count"`
}

// StatsPayload is the consolidated running snapshot published on a room's
// stats channel and replayed to new subscribers.
type StatsPayload struct {
	CurrentViewers    int64           `json:"current_viewers"`
	CumulativeViewers int64           `json:"cumulative_viewers"`
	TotalIncome       int64           `json:"total_income"`
	ContributorCount  int             `json:"contributor_count"`
	TopContributors   []Contributor   `json:"top_contributors"`
	Session           *SessionSummary `json:"session,omitempty"`
}
