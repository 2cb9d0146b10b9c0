// Package monitor contains the multi-room supervision core: the per-room
// state machine, its ingestion processor, and the registry that owns them.
package monitor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/livewatch/livewatch/pkg/config"
	"github.com/livewatch/livewatch/pkg/events"
	"github.com/livewatch/livewatch/pkg/fetch"
	"github.com/livewatch/livewatch/pkg/models"
	"github.com/livewatch/livewatch/pkg/storage"
)

var (
	// ErrRoomActive is returned when a command targets a room whose
	// supervisor is already running.
	ErrRoomActive = errors.New("room is already being monitored")

	// ErrInvalidMode is returned for monitor modes outside manual/persistent.
	ErrInvalidMode = errors.New("invalid monitor mode")
)

// Gateway is the storage surface the monitor core depends on. *storage.Store
// satisfies it; tests substitute fakes.
type Gateway interface {
	GetRoom(ctx context.Context, liveID string) (*models.Room, error)
	UpsertRoom(ctx context.Context, liveID string, mode models.MonitorMode, autoReconnect bool) (*models.Room, error)
	ListRooms(ctx context.Context, status models.RoomStatus) ([]*models.Room, error)
	ListPersistentRooms(ctx context.Context) ([]*models.Room, error)
	UpdateRoomStatus(ctx context.Context, liveID string, status models.RoomStatus, errMsg string) error
	UpdateRoomAnchor(ctx context.Context, liveID, anchorName, anchorID string) error
	UpdateRoomReconnect(ctx context.Context, liveID string, count int) error
	TouchRoomConnect(ctx context.Context, liveID string) error
	TouchRoomDisconnect(ctx context.Context, liveID string) error
	UpdateRoomConfig(ctx context.Context, liveID string, mode *models.MonitorMode, autoReconnect *bool) (*models.Room, error)
	DeleteRoom(ctx context.Context, liveID string) error

	OpenSession(ctx context.Context, liveID, anchorName string) (*models.LiveSession, error)
	CurrentOpenSession(ctx context.Context, liveID string) (*models.LiveSession, error)
	EndSession(ctx context.Context, sessionID int64, peakViewers int64) error
	BumpSession(ctx context.Context, sessionID int64, incomeDelta, giftDelta, chatDelta int64) error
	UpdateSessionPeak(ctx context.Context, sessionID int64, peakViewers int64) error
	CloseStaleSessions(ctx context.Context, threshold time.Duration) (int, error)

	AppendChat(ctx context.Context, chat *models.ChatEvent) (*models.ChatEvent, error)
	AppendGift(ctx context.Context, gift *models.GiftEvent) (*models.GiftEvent, error)
	UpdateGiftTotals(ctx context.Context, giftEventID, count, totalValue int64) error
	RecordContribution(ctx context.Context, liveID, userID, userName string, scoreDelta, giftDelta, chatDelta int64, avatar string) (*models.UserContribution, error)
	SessionContributors(ctx context.Context, liveID string, sessionID int64, limit int) ([]storage.SessionContributor, error)

	LogSystemEvent(ctx context.Context, liveID, eventType, message string, data map[string]any) error
}

// Bus is the fan-out surface. Publishing is fire-and-forget; implementations
// must not block the caller beyond a single non-retried round-trip.
type Bus interface {
	PublishChat(ctx context.Context, liveID string, p events.ChatPayload) error
	PublishGift(ctx context.Context, liveID string, p events.GiftPayload) error
	PublishStats(ctx context.Context, liveID string, p events.StatsPayload) error
}

// Core bundles the shared collaborators every supervisor receives at
// construction. There is exactly one Core per process and no hidden globals.
type Core struct {
	Clock   config.Clock
	Config  *config.MonitorConfig
	Gateway Gateway
	Bus     Bus
	Fetch   fetch.Factory
	Logger  *slog.Logger
}
