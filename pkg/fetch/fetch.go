// Package fetch defines the capability contract between a room supervisor and
// the platform transport. Implementations probe live status and deliver the
// decoded push stream through callbacks; signature generation and binary frame
// decoding happen on the other side of this boundary.
package fetch

import "context"

// Anchor identifies the broadcaster of a room as reported by the platform.
type Anchor struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

// ProbeResult is the outcome of a one-shot live-status probe.
type ProbeResult struct {
	IsLive bool    `json:"is_live"`
	Anchor *Anchor `json:"anchor,omitempty"`
}

// ChatMessage is a decoded chat frame.
type ChatMessage struct {
	UserID     string `json:"user_id"`
	UserName   string `json:"user_name"`
	UserLevel  int    `json:"user_level"`
	UserAvatar string `json:"user_avatar,omitempty"`
	Content    string `json:"content"`
}

// GiftMessage is a decoded gift frame. ComboCount is nil for frames that are
// not combo-typed; GroupID correlates frames of one combo run.
type GiftMessage struct {
	UserID     string `json:"user_id"`
	UserName   string `json:"user_name"`
	UserLevel  int    `json:"user_level"`
	UserAvatar string `json:"user_avatar,omitempty"`
	GiftID     string `json:"gift_id,omitempty"`
	GiftName   string `json:"gift_name"`
	GiftPrice  int64  `json:"gift_price"`
	GroupCount int64  `json:"group_count"`
	ComboCount *int64 `json:"combo_count,omitempty"`
	GroupID    string `json:"group_id,omitempty"`
	TraceID    string `json:"trace_id,omitempty"`
	RepeatEnd  bool   `json:"repeat_end,omitempty"`
}

// ViewerSeq is a decoded viewer-count frame. Cumulative keeps the platform's
// locale formatting ("46.8万") and is parsed downstream.
type ViewerSeq struct {
	Current    int64  `json:"current"`
	Cumulative string `json:"cumulative"`
}

// ControlKind labels lifecycle control frames.
type ControlKind string

const (
	// ControlStreamEnded signals the broadcaster closed the stream.
	ControlStreamEnded ControlKind = "stream_ended"
)

// Callbacks receive decoded stream events. Nil fields are skipped. All
// callbacks for one stream are invoked from a single goroutine, in wire order.
type Callbacks struct {
	OnOpen      func()
	OnChat      func(ChatMessage)
	OnGift      func(GiftMessage)
	OnViewerSeq func(ViewerSeq)
	OnControl   func(ControlKind)
	OnClose     func(reason string)
	OnError     func(error)
}

// Fetcher is the per-room transport capability.
//
// ProbeLive is a one-shot status check, independent of any open stream.
// OpenStream establishes the push subscription and blocks until the stream
// terminates. Stop requests termination of an active stream; it is idempotent
// and safe to call from another goroutine.
type Fetcher interface {
	ProbeLive(ctx context.Context) (ProbeResult, error)
	OpenStream(ctx context.Context, cb Callbacks) error
	Stop()
}

// Factory builds a Fetcher for one room.
type Factory func(liveID string) Fetcher
