package models

import "time"

// SessionStatus is the lifecycle state of a live session.
type SessionStatus string

const (
	SessionLive  SessionStatus = "live"
	SessionEnded SessionStatus = "ended"
)

// LiveSession is one contiguous broadcast episode of a room. At most one
// live session exists per room at any moment (enforced by a partial unique
// index). Totals only grow while the session is open.
type LiveSession struct {
	ID              int64         `json:"id"`
	LiveID          string        `json:"live_id"`
	AnchorName      string        `json:"anchor_name,omitempty"`
	StartTime       time.Time     `json:"start_time"`
	EndTime         *time.Time    `json:"end_time,omitempty"`
	Status          SessionStatus `json:"status"`
	TotalIncome     int64         `json:"total_income"`
	TotalGiftCount  int64         `json:"total_gift_count"`
	TotalChatCount  int64         `json:"total_chat_count"`
	PeakViewerCount int64         `json:"peak_viewer_count"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}
