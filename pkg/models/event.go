package models

import "time"

// SendMode distinguishes one-shot gifts from rows that accumulate combo
// progress in place.
type SendMode string

const (
	SendNormal SendMode = "normal"
	SendCombo  SendMode = "combo"
)

// ChatEvent is an immutable chat record. SessionID is nil for messages that
// arrived while no session was open.
type ChatEvent struct {
	ID         int64     `json:"id"`
	LiveID     string    `json:"live_id"`
	SessionID  *int64    `json:"session_id,omitempty"`
	UserID     string    `json:"user_id"`
	UserName   string    `json:"user_name"`
	UserLevel  int       `json:"user_level"`
	Content    string    `json:"content"`
	IsGiftUser bool      `json:"is_gift_user"`
	CreatedAt  time.Time `json:"created_at"`
}

// GiftEvent is a persisted gift record. For combo gifts a single row is
// rewritten in place as the combo grows, so GiftCount and TotalValue are
// cumulative. TraceID, when present, is unique across all gift events and
// backs wire-level dedup.
type GiftEvent struct {
	ID         int64     `json:"id"`
	LiveID     string    `json:"live_id"`
	SessionID  *int64    `json:"session_id,omitempty"`
	UserID     string    `json:"user_id"`
	UserName   string    `json:"user_name"`
	UserLevel  int       `json:"user_level"`
	GiftID     string    `json:"gift_id,omitempty"`
	GiftName   string    `json:"gift_name"`
	GiftCount  int64     `json:"gift_count"`
	GiftPrice  int64     `json:"gift_price"`
	TotalValue int64     `json:"total_value"`
	SendMode   SendMode  `json:"send_mode"`
	GroupID    string    `json:"group_id,omitempty"`
	TraceID    string    `json:"trace_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// SystemEvent is an append-only operational audit record.
type SystemEvent struct {
	ID        int64          `json:"id"`
	LiveID    string         `json:"live_id,omitempty"`
	EventType string         `json:"event_type"`
	Message   string         `json:"event_message,omitempty"`
	Data      map[string]any `json:"event_data,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Audit event types written by the supervisor and manager.
const (
	EventConnect     = "connect"
	EventDisconnect  = "disconnect"
	EventNotLive     = "not_live"
	EventReconnect   = "reconnect"
	EventWaiting     = "waiting"
	EventDetected    = "detected"
	EventPollTimeout = "poll_timeout"
	EventStatusReset = "status_reset"
	EventError       = "error"
	EventForcedExit  = "forced_exit"
)
