package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/livewatch/livewatch/pkg/events"
	"github.com/livewatch/livewatch/pkg/models"
	"github.com/livewatch/livewatch/pkg/storage"
)

// Manager is the registry of room supervisors. All registry and per-room
// status mutations are serialized by one mutex; supervisors do their state
// machine work outside it and reach back only through the Gateway.
type Manager struct {
	core   *Core
	logger *slog.Logger
	grace  time.Duration

	mu          sync.Mutex
	supervisors map[string]*Supervisor
}

// NewManager builds the registry. grace bounds how long Shutdown and StopRoom
// wait for a supervisor to terminate.
func NewManager(core *Core, grace time.Duration) *Manager {
	return &Manager{
		core:        core,
		logger:      core.Logger.With("component", "manager"),
		grace:       grace,
		supervisors: make(map[string]*Supervisor),
	}
}

// SupervisorExited implements ManagerHandle. Exited supervisors stay
// registered so the restart job can find them.
func (m *Manager) SupervisorExited(liveID string) {
	m.logger.Debug("Supervisor exited", "live_id", liveID)
}

// AddRoom persists the room if absent and starts monitoring it. Returns
// ErrRoomActive when a supervisor is already running for the id.
func (m *Manager) AddRoom(ctx context.Context, liveID string, mode models.MonitorMode, autoReconnect bool) (*models.Room, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}

	room, err := m.core.Gateway.UpsertRoom(ctx, liveID, mode, autoReconnect)
	if err != nil {
		return nil, err
	}
	if err := m.startSupervisor(room); err != nil {
		return nil, err
	}
	return room, nil
}

// StartRoom ensures a supervisor exists for an already-persisted room and
// starts it.
func (m *Manager) StartRoom(ctx context.Context, liveID string) error {
	room, err := m.core.Gateway.GetRoom(ctx, liveID)
	if err != nil {
		return err
	}
	return m.startSupervisor(room)
}

func (m *Manager) startSupervisor(room *models.Room) error {
	m.mu.Lock()
	if existing, ok := m.supervisors[room.LiveID]; ok && existing.Running() {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrRoomActive, room.LiveID)
	}
	sup := NewSupervisor(m.core, room, m)
	m.supervisors[room.LiveID] = sup
	m.mu.Unlock()

	sup.Start()
	m.logger.Info("Started room supervisor", "live_id", room.LiveID, "mode", room.MonitorMode)
	return nil
}

// StopRoom stops and unregisters the room's supervisor. A room with no
// supervisor is not an error; if its persisted status still says monitoring
// it is reconciled to stopped.
func (m *Manager) StopRoom(ctx context.Context, liveID string) error {
	m.mu.Lock()
	sup, ok := m.supervisors[liveID]
	delete(m.supervisors, liveID)
	m.mu.Unlock()

	if ok {
		sup.Stop()
		m.awaitDone(sup, liveID)
		return nil
	}

	room, err := m.core.Gateway.GetRoom(ctx, liveID)
	if err != nil {
		return err
	}
	if room.Status == models.StatusMonitoring {
		m.resetRoomStatus(ctx, liveID, "stop requested with no running supervisor")
	}
	return nil
}

// RemoveRoom stops monitoring and deletes the room with all owned rows.
func (m *Manager) RemoveRoom(ctx context.Context, liveID string) error {
	if err := m.StopRoom(ctx, liveID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return m.core.Gateway.DeleteRoom(ctx, liveID)
}

// UpdateRoomConfig persists mode and reconnect-flag changes. A running
// supervisor keeps its captured config until restarted.
func (m *Manager) UpdateRoomConfig(ctx context.Context, liveID string, mode *models.MonitorMode, autoReconnect *bool) (*models.Room, error) {
	if mode != nil && !mode.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, *mode)
	}
	return m.core.Gateway.UpdateRoomConfig(ctx, liveID, mode, autoReconnect)
}

// Reconcile repairs persisted state after a process restart: it closes
// sessions left open past the staleness threshold and resets monitoring
// rows that have no live supervisor. Runs once at boot, before anything is
// started, so the status column can be trusted by dashboards.
func (m *Manager) Reconcile(ctx context.Context) error {
	closed, err := m.core.Gateway.CloseStaleSessions(ctx, m.core.Config.StaleSessionThreshold)
	if err != nil {
		return fmt.Errorf("failed to close stale sessions: %w", err)
	}
	if closed > 0 {
		m.logger.Info("Closed stale sessions", "count", closed)
	}

	rooms, err := m.core.Gateway.ListRooms(ctx, models.StatusMonitoring)
	if err != nil {
		return fmt.Errorf("failed to list monitoring rooms: %w", err)
	}
	for _, room := range rooms {
		m.mu.Lock()
		sup, ok := m.supervisors[room.LiveID]
		m.mu.Unlock()
		if ok && sup.Running() {
			continue
		}
		m.resetRoomStatus(ctx, room.LiveID, "reset after restart")
	}
	return nil
}

func (m *Manager) resetRoomStatus(ctx context.Context, liveID, reason string) {
	if err := m.core.Gateway.UpdateRoomStatus(ctx, liveID, models.StatusStopped, ""); err != nil {
		m.logger.Error("Failed to reset room status", "live_id", liveID, "error", err)
		return
	}
	if err := m.core.Gateway.LogSystemEvent(ctx, liveID, models.EventStatusReset, reason, nil); err != nil {
		m.logger.Error("Failed to write status_reset audit", "live_id", liveID, "error", err)
	}
	m.logger.Info("Reset room status to stopped", "live_id", liveID, "reason", reason)
}

// AutoStartPersistent starts every persistent room with auto-reconnect
// enabled. Run once at boot by the scheduler.
func (m *Manager) AutoStartPersistent(ctx context.Context) {
	rooms, err := m.core.Gateway.ListPersistentRooms(ctx)
	if err != nil {
		m.logger.Error("Failed to list persistent rooms", "error", err)
		return
	}
	for _, room := range rooms {
		if err := m.startSupervisor(room); err != nil {
			if errors.Is(err, ErrRoomActive) {
				continue
			}
			m.logger.Error("Failed to auto-start room", "live_id", room.LiveID, "error", err)
		}
	}
}

// RestartFailed revives registered supervisors whose task has exited, for
// rooms that still want auto-reconnect. Called periodically by the scheduler.
func (m *Manager) RestartFailed(ctx context.Context) {
	m.mu.Lock()
	var failed []string
	for liveID, sup := range m.supervisors {
		if !sup.Running() {
			failed = append(failed, liveID)
		}
	}
	m.mu.Unlock()

	for _, liveID := range failed {
		room, err := m.core.Gateway.GetRoom(ctx, liveID)
		if err != nil {
			m.logger.Error("Failed to load room for restart", "live_id", liveID, "error", err)
			continue
		}
		if !room.AutoReconnect {
			continue
		}
		if err := m.startSupervisor(room); err != nil && !errors.Is(err, ErrRoomActive) {
			m.logger.Error("Failed to restart room", "live_id", liveID, "error", err)
			continue
		}
		m.logger.Info("Restarted failed room", "live_id", liveID)
	}
}

// Running reports whether a live supervisor exists for the room.
func (m *Manager) Running(liveID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	sup, ok := m.supervisors[liveID]
	return ok && sup.Running()
}

// ActiveRooms returns the ids of rooms with a live supervisor.
func (m *Manager) ActiveRooms() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.supervisors))
	for liveID, sup := range m.supervisors {
		if sup.Running() {
			out = append(out, liveID)
		}
	}
	return out
}

// Snapshot returns the room's latest consolidated stats if a supervisor is
// registered. Satisfies the subscriber bus's snapshot-replay provider.
func (m *Manager) Snapshot(liveID string) (events.StatsPayload, bool) {
	m.mu.Lock()
	sup, ok := m.supervisors[liveID]
	m.mu.Unlock()
	if !ok {
		return events.StatsPayload{}, false
	}
	return sup.Snapshot(), true
}

// Shutdown stops every supervisor and waits for termination, bounded by the
// grace period. Supervisors still running past the deadline get a forced-exit
// audit entry; none are silently abandoned without trace.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	sups := make(map[string]*Supervisor, len(m.supervisors))
	for liveID, sup := range m.supervisors {
		sups[liveID] = sup
	}
	m.supervisors = make(map[string]*Supervisor)
	m.mu.Unlock()

	for _, sup := range sups {
		sup.Stop()
	}

	deadline := time.NewTimer(m.grace)
	defer deadline.Stop()
	for liveID, sup := range sups {
		select {
		case <-sup.Done():
		case <-deadline.C:
			m.forcedExit(ctx, liveID)
			// Deadline elapsed; everything still running gets the same treatment.
			for rest, s := range sups {
				if rest == liveID {
					continue
				}
				select {
				case <-s.Done():
				default:
					m.forcedExit(ctx, rest)
				}
			}
			return
		case <-ctx.Done():
			return
		}
	}
	m.logger.Info("All supervisors terminated cleanly")
}

func (m *Manager) forcedExit(ctx context.Context, liveID string) {
	m.logger.Warn("Supervisor did not terminate within grace period", "live_id", liveID)
	if err := m.core.Gateway.LogSystemEvent(ctx, liveID, models.EventForcedExit,
		"supervisor abandoned at shutdown after grace period", nil); err != nil {
		m.logger.Error("Failed to write forced_exit audit", "live_id", liveID, "error", err)
	}
}

func (m *Manager) awaitDone(sup *Supervisor, liveID string) {
	timer := time.NewTimer(m.grace)
	defer timer.Stop()
	select {
	case <-sup.Done():
	case <-timer.C:
		m.logger.Warn("Supervisor slow to stop", "live_id", liveID)
	}
}
