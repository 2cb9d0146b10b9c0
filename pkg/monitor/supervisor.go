package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/livewatch/livewatch/pkg/events"
	"github.com/livewatch/livewatch/pkg/fetch"
	"github.com/livewatch/livewatch/pkg/models"
)

// ManagerHandle is the narrow surface a supervisor holds on its registry.
// It only reports lifecycle facts upward; supervisors never reach into the
// manager's state.
type ManagerHandle interface {
	SupervisorExited(liveID string)
}

type supervisorState string

const (
	stateProbing        supervisorState = "probing"
	stateStreaming      supervisorState = "streaming"
	stateOfflinePolling supervisorState = "offline_polling"
	stateBackoff        supervisorState = "backoff"
	stateWaiting        supervisorState = "waiting"
	stateTerminated     supervisorState = "terminated"
)

type itemKind int

const (
	itemOpen itemKind = iota
	itemChat
	itemGift
	itemViewer
	itemControl
	itemClose
	itemError
	itemDone
)

// streamItem is one entry of the typed inbound channel that serializes
// fetcher callbacks onto the supervisor goroutine.
type streamItem struct {
	kind   itemKind
	chat   fetch.ChatMessage
	gift   fetch.GiftMessage
	viewer fetch.ViewerSeq
	ctrl   fetch.ControlKind
	reason string
	err    error
}

// Supervisor drives one room's lifecycle: probe, connect, stream, and the
// reconnect/polling paths in between. It owns its Processor exclusively and
// runs the whole machine on a single goroutine.
type Supervisor struct {
	core   *Core
	liveID string
	mode   models.MonitorMode
	auto   bool
	handle ManagerHandle
	proc   *Processor
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}

	pendingAnchor *fetch.Anchor
	connected     bool
	lastErr       string

	mu         sync.Mutex
	fetcher    fetch.Fetcher
	reconnects int
}

// NewSupervisor builds a supervisor for room. The room's mode and reconnect
// flag are captured at construction; config changes take effect on the next
// start.
func NewSupervisor(core *Core, room *models.Room, handle ManagerHandle) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		core:   core,
		liveID: room.LiveID,
		mode:   room.MonitorMode,
		auto:   room.AutoReconnect,
		handle: handle,
		proc:   NewProcessor(core, room.LiveID),
		logger: core.Logger.With("component", "supervisor", "live_id", room.LiveID),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Start launches the state machine. Subsequent calls are no-ops.
func (s *Supervisor) Start() {
	s.startOnce.Do(func() {
		go s.run()
	})
}

// Stop requests termination from any state. Safe from any goroutine,
// idempotent; the machine observes it at every suspension point.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() {
		s.cancel()
		s.mu.Lock()
		f := s.fetcher
		s.mu.Unlock()
		if f != nil {
			f.Stop()
		}
	})
}

// Done is closed when the state machine has fully terminated.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

// Running reports whether the state machine is still alive.
func (s *Supervisor) Running() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Snapshot returns the room's latest consolidated stats.
func (s *Supervisor) Snapshot() events.StatsPayload {
	return s.proc.Snapshot()
}

// ReconnectCount returns the reconnect counter for the current outage run.
func (s *Supervisor) ReconnectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconnects
}

func (s *Supervisor) run() {
	defer close(s.done)
	defer s.handle.SupervisorExited(s.liveID)
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Supervisor panicked", "panic", r)
			s.setStatus(models.StatusError, fmt.Sprintf("internal panic: %v", r))
		}
	}()

	s.logger.Info("Supervisor starting", "mode", s.mode, "auto_reconnect", s.auto)

	state := stateProbing
	for state != stateTerminated {
		if s.stopRequested() {
			state = s.terminate(models.StatusStopped, "")
			break
		}
		switch state {
		case stateProbing:
			state = s.probe()
		case stateStreaming:
			state = s.stream()
		case stateOfflinePolling:
			state = s.poll("offline")
		case stateWaiting:
			state = s.poll("waiting")
		case stateBackoff:
			state = s.backoff()
		default:
			s.logger.Error("Unknown supervisor state", "state", state)
			state = s.terminate(models.StatusError, "unknown state")
		}
	}
	s.logger.Info("Supervisor terminated")
}

func (s *Supervisor) probe() supervisorState {
	result, err := s.newFetcher().ProbeLive(s.ctx)
	if s.stopRequested() {
		return s.terminate(models.StatusStopped, "")
	}
	if err != nil {
		s.lastErr = err.Error()
		s.logger.Warn("Live probe failed", "error", err)
		s.audit(models.EventError, err.Error(), nil)
		if s.mode == models.ModePersistent && s.auto {
			s.setStatus(models.StatusOffline, "")
			return stateOfflinePolling
		}
		return s.terminate(models.StatusError, err.Error())
	}

	if result.IsLive {
		s.pendingAnchor = result.Anchor
		return stateStreaming
	}

	s.audit(models.EventNotLive, "room is not broadcasting", nil)
	if s.mode == models.ModePersistent && s.auto {
		s.setStatus(models.StatusOffline, "")
		return stateOfflinePolling
	}
	return s.terminate(models.StatusStopped, "")
}

func (s *Supervisor) stream() supervisorState {
	fetcher := s.newFetcher()

	if err := s.core.Gateway.TouchRoomConnect(s.ctx, s.liveID); err != nil {
		s.logger.Error("Failed to record connect time", "error", err)
	}
	s.audit(models.EventConnect, "stream connected", nil)
	s.connected = true

	itemCh := make(chan streamItem, 256)
	go func() {
		err := fetcher.OpenStream(s.ctx, s.callbacks(itemCh))
		itemCh <- streamItem{kind: itemDone, err: err}
		close(itemCh)
	}()

	endedByControl := false
	errorNoted := false
	var streamErr error
	for item := range itemCh {
		switch item.kind {
		case itemOpen:
			s.proc.HandleOpen(s.ctx, s.pendingAnchor)
		case itemChat:
			s.proc.HandleChat(s.ctx, item.chat)
		case itemGift:
			s.proc.HandleGift(s.ctx, item.gift)
		case itemViewer:
			s.proc.HandleViewers(s.ctx, item.viewer)
		case itemControl:
			if s.proc.HandleControl(s.ctx, item.ctrl) {
				endedByControl = true
				fetcher.Stop()
			}
		case itemClose:
			s.logger.Debug("Stream closed", "reason", item.reason)
		case itemError:
			s.noteStreamError(item.err)
			errorNoted = true
		case itemDone:
			streamErr = item.err
		}
	}

	if err := s.core.Gateway.TouchRoomDisconnect(s.ctx, s.liveID); err != nil {
		s.logger.Error("Failed to record disconnect time", "error", err)
	}
	s.audit(models.EventDisconnect, "stream disconnected", nil)

	if s.stopRequested() {
		return s.terminate(models.StatusStopped, "")
	}

	if endedByControl {
		// Clean session end resets the outage run.
		s.setReconnects(0)
		if s.mode == models.ModePersistent && s.auto {
			s.setStatus(models.StatusOffline, "")
			return stateOfflinePolling
		}
		return s.terminate(models.StatusStopped, "")
	}

	if streamErr != nil && !errorNoted {
		s.noteStreamError(streamErr)
	}

	if s.connected && s.ReconnectCount() < s.core.Config.MaxRetries {
		if streamErr != nil && fetch.StatusCode(streamErr) != http.StatusBadGateway {
			s.setStatus(models.StatusError, s.lastErr)
		}
		return stateBackoff
	}

	if s.auto {
		s.audit(models.EventWaiting, "reconnect attempts exhausted, waiting for broadcast", nil)
		s.setStatus(models.StatusWaiting, "")
		return stateWaiting
	}
	return s.terminate(models.StatusError, s.lastErr)
}

func (s *Supervisor) backoff() supervisorState {
	if !s.sleep(s.core.Config.ReconnectDelay) {
		return s.terminate(models.StatusStopped, "")
	}
	n := s.incReconnects()
	if err := s.core.Gateway.UpdateRoomReconnect(s.ctx, s.liveID, n); err != nil {
		s.logger.Error("Failed to persist reconnect counter", "error", err)
	}
	s.audit(models.EventReconnect, fmt.Sprintf("reconnect attempt %d", n), map[string]any{"attempt": n})
	return stateProbing
}

// poll probes the room on an interval until it goes live or the attempt
// budget runs out. Used both for the offline path and the retry-exhausted
// waiting path; they differ only in their audit trail.
func (s *Supervisor) poll(phase string) supervisorState {
	for attempt := 1; attempt <= s.core.Config.MaxPollAttempts; attempt++ {
		if !s.sleep(s.pollInterval()) {
			return s.terminate(models.StatusStopped, "")
		}

		result, err := s.newFetcher().ProbeLive(s.ctx)
		if s.stopRequested() {
			return s.terminate(models.StatusStopped, "")
		}
		if err != nil {
			s.logger.Warn("Offline probe failed", "phase", phase, "attempt", attempt, "error", err)
			continue
		}
		if result.IsLive {
			s.audit(models.EventDetected, "broadcast detected", map[string]any{"phase": phase, "attempt": attempt})
			s.setReconnects(0)
			s.pendingAnchor = result.Anchor
			return stateStreaming
		}
		s.logger.Debug("Room still offline", "phase", phase, "attempt", attempt)
	}

	s.audit(models.EventPollTimeout, "gave up waiting for broadcast",
		map[string]any{"phase": phase, "attempts": s.core.Config.MaxPollAttempts})
	return s.terminate(models.StatusStopped, "")
}

func (s *Supervisor) terminate(status models.RoomStatus, errMsg string) supervisorState {
	s.setStatus(status, errMsg)
	return stateTerminated
}

func (s *Supervisor) callbacks(itemCh chan<- streamItem) fetch.Callbacks {
	return fetch.Callbacks{
		OnOpen:      func() { itemCh <- streamItem{kind: itemOpen} },
		OnChat:      func(m fetch.ChatMessage) { itemCh <- streamItem{kind: itemChat, chat: m} },
		OnGift:      func(m fetch.GiftMessage) { itemCh <- streamItem{kind: itemGift, gift: m} },
		OnViewerSeq: func(m fetch.ViewerSeq) { itemCh <- streamItem{kind: itemViewer, viewer: m} },
		OnControl:   func(k fetch.ControlKind) { itemCh <- streamItem{kind: itemControl, ctrl: k} },
		OnClose:     func(reason string) { itemCh <- streamItem{kind: itemClose, reason: reason} },
		OnError:     func(err error) { itemCh <- streamItem{kind: itemError, err: err} },
	}
}

// noteStreamError records a transport failure. Gateway errors are warnings
// that still ride the normal reconnect path.
func (s *Supervisor) noteStreamError(err error) {
	if err == nil {
		return
	}
	if fetch.StatusCode(err) == http.StatusBadGateway {
		s.logger.Warn("Gateway error from stream, will reconnect", "error", err)
		return
	}
	s.lastErr = err.Error()
	if fetch.IsTransient(err) {
		s.logger.Warn("Transient stream failure", "error", err)
	} else {
		s.logger.Error("Fatal stream failure", "error", err)
	}
	s.audit(models.EventError, err.Error(), nil)
}

func (s *Supervisor) newFetcher() fetch.Fetcher {
	f := s.core.Fetch(s.liveID)
	s.mu.Lock()
	s.fetcher = f
	stopped := s.ctx.Err() != nil
	s.mu.Unlock()
	if stopped {
		f.Stop()
	}
	return f
}

func (s *Supervisor) pollInterval() time.Duration {
	base := s.core.Config.PollInterval
	jitter := s.core.Config.PollJitter
	if jitter <= 0 {
		return base
	}
	d := base + rand.N(2*jitter) - jitter
	if d < time.Second {
		d = time.Second
	}
	return d
}

// sleep pauses for d, returning false if a stop arrived first.
func (s *Supervisor) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-s.ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (s *Supervisor) stopRequested() bool {
	return s.ctx.Err() != nil
}

func (s *Supervisor) setReconnects(n int) {
	s.mu.Lock()
	s.reconnects = n
	s.mu.Unlock()
}

func (s *Supervisor) incReconnects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconnects++
	return s.reconnects
}

// setStatus persists the room status. Runs on a background context so the
// final write of a stopping supervisor survives its cancelled context.
func (s *Supervisor) setStatus(status models.RoomStatus, errMsg string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.core.Gateway.UpdateRoomStatus(ctx, s.liveID, status, errMsg); err != nil {
		s.logger.Error("Failed to persist room status", "status", status, "error", err)
	}
}

func (s *Supervisor) audit(eventType, message string, data map[string]any) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.core.Gateway.LogSystemEvent(ctx, s.liveID, eventType, message, data); err != nil {
		s.logger.Error("Failed to write audit event", "event_type", eventType, "error", err)
	}
}
