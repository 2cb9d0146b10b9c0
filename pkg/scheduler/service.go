// Package scheduler runs the periodic background jobs: restarting failed
// rooms, sampling stats snapshots, and enforcing data retention.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/livewatch/livewatch/pkg/config"
	"github.com/livewatch/livewatch/pkg/events"
	"github.com/livewatch/livewatch/pkg/models"
	"github.com/livewatch/livewatch/pkg/storage"
)

// Gateway is the storage slice the scheduler needs.
type Gateway interface {
	ListRooms(ctx context.Context, status models.RoomStatus) ([]*models.Room, error)
	SaveSnapshot(ctx context.Context, snap *models.RoomStats) (*models.RoomStats, error)
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (storage.PurgeResult, error)
}

// Registry is the room-manager slice the scheduler pokes.
type Registry interface {
	AutoStartPersistent(ctx context.Context)
	RestartFailed(ctx context.Context)
	Snapshot(liveID string) (events.StatsPayload, bool)
}

// Service drives the periodic jobs. All jobs are idempotent.
type Service struct {
	cfg       *config.SchedulerConfig
	retention *config.RetentionConfig
	clock     config.Clock
	gateway   Gateway
	registry  Registry

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService wires the scheduler. Nothing runs until Start.
func NewService(cfg *config.SchedulerConfig, retention *config.RetentionConfig, clock config.Clock, gateway Gateway, registry Registry) *Service {
	return &Service{
		cfg:       cfg,
		retention: retention,
		clock:     clock,
		gateway:   gateway,
		registry:  registry,
	}
}

// Start auto-starts persistent rooms once, then launches the ticker loops.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	s.registry.AutoStartPersistent(ctx)

	go s.run(ctx)

	slog.Info("Scheduler started",
		"restart_interval", s.cfg.RestartFailedInterval,
		"snapshot_interval", s.cfg.StatsSnapshotInterval,
		"purge_interval", s.cfg.PurgeInterval,
		"retention_days", s.retention.DataRetentionDays)
}

// Stop signals the loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Scheduler stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	restart := time.NewTicker(s.cfg.RestartFailedInterval)
	defer restart.Stop()
	snapshot := time.NewTicker(s.cfg.StatsSnapshotInterval)
	defer snapshot.Stop()

	var purgeCh <-chan time.Time
	if !s.retention.Unlimited() {
		purge := time.NewTicker(s.cfg.PurgeInterval)
		defer purge.Stop()
		purgeCh = purge.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-restart.C:
			s.registry.RestartFailed(ctx)
		case <-snapshot.C:
			s.snapshotStats(ctx)
		case <-purgeCh:
			s.purgeOld(ctx)
		}
	}
}

// snapshotStats appends one RoomStats row per room currently monitoring,
// sampled from its supervisor's rolling counters.
func (s *Service) snapshotStats(ctx context.Context) {
	rooms, err := s.gateway.ListRooms(ctx, models.StatusMonitoring)
	if err != nil {
		slog.Error("Stats snapshot: failed to list monitoring rooms", "error", err)
		return
	}
	for _, room := range rooms {
		stats, ok := s.registry.Snapshot(room.LiveID)
		if !ok {
			continue
		}
		_, err := s.gateway.SaveSnapshot(ctx, &models.RoomStats{
			LiveID:           room.LiveID,
			CurrentViewers:   stats.CurrentViewers,
			CumulativeViews:  stats.CumulativeViewers,
			TotalIncome:      stats.TotalIncome,
			ContributorCount: stats.ContributorCount,
			StatsAt:          s.clock.Now(),
		})
		if err != nil {
			slog.Error("Stats snapshot failed", "live_id", room.LiveID, "error", err)
		}
	}
}

func (s *Service) purgeOld(ctx context.Context) {
	cutoff := s.clock.Now().AddDate(0, 0, -s.retention.DataRetentionDays)
	result, err := s.gateway.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		slog.Error("Retention purge failed", "error", err)
		return
	}
	if result.Total() > 0 {
		slog.Info("Retention: purged old rows",
			"chat_events", result.ChatEvents,
			"gift_events", result.GiftEvents,
			"room_stats", result.RoomStats,
			"system_events", result.SystemEvents,
			"cutoff", cutoff)
	}
}
