package monitor

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/livewatch/livewatch/pkg/events"
	"github.com/livewatch/livewatch/pkg/fetch"
	"github.com/livewatch/livewatch/pkg/models"
	"github.com/livewatch/livewatch/pkg/storage"
)

// topContributorCount bounds the ranking slice embedded in stats payloads.
const topContributorCount = 10

// anonUserIDs are the platform's sentinel ids for anonymous viewers. Events
// from these users get a synthetic id so ranking entries stay distinct.
var anonUserIDs = map[string]struct{}{
	"0":      {},
	"111111": {},
}

// comboState tracks one running combo keyed by group∥user∥gift.
type comboState struct {
	lastComboCount int64
	rowID          int64
	hasRow         bool
}

// Processor is the per-room ingestion pipeline. It converts decoded stream
// events into persisted rows, aggregate deltas and subscriber payloads. All
// Handle methods are invoked from the supervisor's single consumer goroutine;
// the per-stream maps take no locks. Snapshot is the one cross-goroutine
// entry point and reads a mutex-guarded copy maintained alongside.
type Processor struct {
	core   *Core
	liveID string
	logger *slog.Logger

	traces     *traceCache
	combos     map[string]*comboState
	groupSeen  map[string]struct{}
	board      *board
	giftUsers  map[string]struct{}
	sessionID  int64
	anchorName string

	currentViewers    int64
	cumulativeViewers int64
	maxViewers        int64
	totalIncome       int64
	totalGifts        int64
	totalChats        int64
	sessionStart      *events.SessionSummary

	writeFailures int64

	statsMu   sync.Mutex
	lastStats events.StatsPayload
}

// NewProcessor builds the pipeline for one room.
func NewProcessor(core *Core, liveID string) *Processor {
	return &Processor{
		core:      core,
		liveID:    liveID,
		logger:    core.Logger.With("component", "processor", "live_id", liveID),
		traces:    newTraceCache(core.Config.TraceCacheCapacity, core.Config.TraceCacheTrimTarget),
		combos:    make(map[string]*comboState),
		groupSeen: make(map[string]struct{}),
		board:     newBoard(),
		giftUsers: make(map[string]struct{}),
	}
}

// canonicalUserID maps anonymous sentinel ids to a synthetic stable id built
// from the display name and level. Applied uniformly to chat and gift events.
func canonicalUserID(userID, userName string, userLevel int) string {
	if _, ok := anonUserIDs[userID]; ok || userID == "" {
		return "anon:" + userName + ":" + strconv.Itoa(userLevel)
	}
	return userID
}

// HandleOpen runs the stream-open bootstrap: persist anchor metadata, adopt
// or open a session, and mark the room monitoring. Per-stream dedup state is
// always reset; the contribution board survives a reconnect that adopts the
// previous session.
func (p *Processor) HandleOpen(ctx context.Context, anchor *fetch.Anchor) {
	p.traces = newTraceCache(p.core.Config.TraceCacheCapacity, p.core.Config.TraceCacheTrimTarget)
	p.combos = make(map[string]*comboState)
	p.groupSeen = make(map[string]struct{})

	if anchor != nil && (anchor.Name != "" || anchor.ID != "") {
		p.anchorName = anchor.Name
		if err := p.core.Gateway.UpdateRoomAnchor(ctx, p.liveID, anchor.Name, anchor.ID); err != nil {
			p.storageFailure("update room anchor", err)
		}
	}

	sess, err := p.core.Gateway.CurrentOpenSession(ctx, p.liveID)
	switch {
	case err == nil:
		p.adoptSession(ctx, sess)
	case errors.Is(err, storage.ErrNotFound):
		p.startSession(ctx)
	default:
		p.storageFailure("look up open session", err)
		p.startSession(ctx)
	}

	if err := p.core.Gateway.UpdateRoomStatus(ctx, p.liveID, models.StatusMonitoring, ""); err != nil {
		p.storageFailure("mark room monitoring", err)
	}
	p.refreshStats()
	p.publishStats(ctx)
}

// adoptSession resumes an existing live session after a transient reconnect.
// The board is warm-started from persisted rows only when it is empty, so an
// in-memory ranking built this run is never clobbered.
func (p *Processor) adoptSession(ctx context.Context, sess *models.LiveSession) {
	p.sessionID = sess.ID
	p.totalIncome = sess.TotalIncome
	p.totalGifts = sess.TotalGiftCount
	p.totalChats = sess.TotalChatCount
	if sess.PeakViewerCount > p.maxViewers {
		p.maxViewers = sess.PeakViewerCount
	}
	p.sessionStart = summarizeSession(sess)

	if p.board.Empty() {
		contributors, err := p.core.Gateway.SessionContributors(ctx, p.liveID, sess.ID, 0)
		if err != nil {
			p.storageFailure("warm-start contribution board", err)
		} else {
			for _, c := range contributors {
				p.board.Seed(events.Contributor{
					UserID:     c.UserID,
					UserName:   c.UserName,
					Score:      c.TotalScore,
					GiftCount:  c.GiftCount,
					UserAvatar: c.UserAvatar,
				})
				p.giftUsers[c.UserName] = struct{}{}
			}
		}
	}
	p.logger.Info("Adopted open session", "session_id", sess.ID, "board_size", p.board.Len())
}

func (p *Processor) startSession(ctx context.Context) {
	sess, err := p.core.Gateway.OpenSession(ctx, p.liveID, p.anchorName)
	if errors.Is(err, storage.ErrConflictingOpenSession) {
		// A peer or the janitor raced us; adopt the winner's row.
		if existing, lookupErr := p.core.Gateway.CurrentOpenSession(ctx, p.liveID); lookupErr == nil {
			p.adoptSession(ctx, existing)
			return
		}
		p.storageFailure("adopt conflicting session", err)
		return
	}
	if err != nil {
		p.storageFailure("open session", err)
		return
	}

	p.sessionID = sess.ID
	p.board.Reset()
	p.giftUsers = make(map[string]struct{})
	p.totalIncome, p.totalGifts, p.totalChats = 0, 0, 0
	p.currentViewers, p.cumulativeViewers, p.maxViewers = 0, 0, 0
	p.sessionStart = summarizeSession(sess)
	p.logger.Info("Opened new session", "session_id", sess.ID)
}

// HandleChat ingests one chat message.
func (p *Processor) HandleChat(ctx context.Context, msg fetch.ChatMessage) {
	userID := canonicalUserID(msg.UserID, msg.UserName, msg.UserLevel)
	_, isGiftUser := p.giftUsers[msg.UserName]

	chat := &models.ChatEvent{
		LiveID:     p.liveID,
		SessionID:  p.sessionRef(),
		UserID:     userID,
		UserName:   msg.UserName,
		UserLevel:  msg.UserLevel,
		Content:    msg.Content,
		IsGiftUser: isGiftUser,
	}
	if _, err := p.core.Gateway.AppendChat(ctx, chat); err != nil {
		p.storageFailure("append chat", err)
		return
	}

	if p.sessionID != 0 {
		if err := p.core.Gateway.BumpSession(ctx, p.sessionID, 0, 0, 1); err != nil {
			p.storageFailure("bump session chats", err)
		}
	}
	if _, err := p.core.Gateway.RecordContribution(ctx, p.liveID, userID, msg.UserName, 0, 0, 1, msg.UserAvatar); err != nil {
		p.storageFailure("record chat contribution", err)
	}

	p.board.AddChat(userID, msg.UserName)
	p.totalChats++
	p.refreshStats()

	if err := p.core.Bus.PublishChat(ctx, p.liveID, events.ChatPayload{
		UserID:     userID,
		UserName:   msg.UserName,
		UserLevel:  msg.UserLevel,
		Content:    msg.Content,
		IsGiftUser: isGiftUser,
	}); err != nil {
		p.logger.Debug("Chat publish failed", "error", err)
	}
}

// HandleGift ingests one gift message. Three wire shapes collapse into rows
// and deltas: combo-typed frames rewrite a single cumulative row and emit
// incremental deltas; grouped one-shot frames dedup by combo key; everything
// else inserts one row verbatim.
func (p *Processor) HandleGift(ctx context.Context, msg fetch.GiftMessage) {
	if msg.TraceID != "" && !p.traces.Remember(msg.TraceID) {
		p.logger.Debug("Dropping duplicate gift trace", "trace_id", msg.TraceID)
		return
	}

	userID := canonicalUserID(msg.UserID, msg.UserName, msg.UserLevel)
	groupCount := msg.GroupCount
	if groupCount <= 0 {
		groupCount = 1
	}

	switch {
	case msg.GroupID != "" && msg.ComboCount != nil:
		p.handleComboGift(ctx, msg, userID, groupCount)
	case msg.GroupID != "":
		p.handleGroupedGift(ctx, msg, userID, groupCount)
	default:
		p.handleSimpleGift(ctx, msg, userID, groupCount)
	}
}

func comboKey(groupID, userID, giftID string) string {
	return strings.Join([]string{groupID, userID, giftID}, "|")
}

func (p *Processor) handleComboGift(ctx context.Context, msg fetch.GiftMessage, userID string, groupCount int64) {
	key := comboKey(msg.GroupID, userID, msg.GiftID)
	st, ok := p.combos[key]
	if !ok {
		st = &comboState{}
		p.combos[key] = st
	}

	comboCount := *msg.ComboCount
	deltaCombo := comboCount - st.lastComboCount
	if deltaCombo <= 0 {
		p.logger.Debug("Dropping repeated combo frame",
			"group_id", msg.GroupID, "combo_count", comboCount)
		if msg.RepeatEnd {
			delete(p.combos, key)
		}
		return
	}

	cumulativeCount := comboCount * groupCount
	cumulativeValue := msg.GiftPrice * cumulativeCount

	if !st.hasRow {
		row, err := p.appendGiftRow(ctx, msg, userID, cumulativeCount, cumulativeValue, models.SendCombo)
		if err != nil {
			return
		}
		st.rowID = row.ID
		st.hasRow = true
	} else {
		if err := p.core.Gateway.UpdateGiftTotals(ctx, st.rowID, cumulativeCount, cumulativeValue); err != nil {
			p.storageFailure("update combo gift totals", err)
			return
		}
	}
	st.lastComboCount = comboCount

	deltaCount := deltaCombo * groupCount
	deltaValue := msg.GiftPrice * deltaCount
	if msg.RepeatEnd {
		delete(p.combos, key)
	}
	p.applyGiftDeltas(ctx, msg, userID, deltaCount, deltaValue, comboCount, msg.RepeatEnd)
}

func (p *Processor) handleGroupedGift(ctx context.Context, msg fetch.GiftMessage, userID string, groupCount int64) {
	key := comboKey(msg.GroupID, userID, msg.GiftID)
	if _, seen := p.groupSeen[key]; seen {
		p.logger.Debug("Dropping duplicate grouped gift", "group_id", msg.GroupID)
		if msg.RepeatEnd {
			delete(p.groupSeen, key)
		}
		return
	}

	totalValue := msg.GiftPrice * groupCount
	if _, err := p.appendGiftRow(ctx, msg, userID, groupCount, totalValue, models.SendNormal); err != nil {
		return
	}

	if msg.RepeatEnd {
		delete(p.groupSeen, key)
	} else {
		p.groupSeen[key] = struct{}{}
	}
	p.applyGiftDeltas(ctx, msg, userID, groupCount, totalValue, 0, msg.RepeatEnd)
}

func (p *Processor) handleSimpleGift(ctx context.Context, msg fetch.GiftMessage, userID string, groupCount int64) {
	totalValue := msg.GiftPrice * groupCount
	if _, err := p.appendGiftRow(ctx, msg, userID, groupCount, totalValue, models.SendNormal); err != nil {
		return
	}
	p.applyGiftDeltas(ctx, msg, userID, groupCount, totalValue, 0, false)
}

func (p *Processor) appendGiftRow(ctx context.Context, msg fetch.GiftMessage, userID string, count, totalValue int64, mode models.SendMode) (*models.GiftEvent, error) {
	row, err := p.core.Gateway.AppendGift(ctx, &models.GiftEvent{
		LiveID:     p.liveID,
		SessionID:  p.sessionRef(),
		UserID:     userID,
		UserName:   msg.UserName,
		UserLevel:  msg.UserLevel,
		GiftID:     msg.GiftID,
		GiftName:   msg.GiftName,
		GiftCount:  count,
		GiftPrice:  msg.GiftPrice,
		TotalValue: totalValue,
		SendMode:   mode,
		GroupID:    msg.GroupID,
		TraceID:    msg.TraceID,
	})
	if errors.Is(err, storage.ErrDuplicateTrace) {
		// Already persisted by a previous run; the platform replayed it.
		p.logger.Debug("Gift trace already persisted", "trace_id", msg.TraceID)
		return nil, err
	}
	if err != nil {
		p.storageFailure("append gift", err)
		return nil, err
	}
	return row, nil
}

// applyGiftDeltas performs the common post-write steps: aggregate bumps,
// contribution upsert with the true increment, board update and fan-out.
func (p *Processor) applyGiftDeltas(ctx context.Context, msg fetch.GiftMessage, userID string, deltaCount, deltaValue, comboCount int64, comboEnd bool) {
	p.giftUsers[msg.UserName] = struct{}{}

	if p.sessionID != 0 {
		if err := p.core.Gateway.BumpSession(ctx, p.sessionID, deltaValue, deltaCount, 0); err != nil {
			p.storageFailure("bump session gifts", err)
		}
	}
	if _, err := p.core.Gateway.RecordContribution(ctx, p.liveID, userID, msg.UserName, deltaValue, deltaCount, 0, msg.UserAvatar); err != nil {
		p.storageFailure("record gift contribution", err)
	}

	p.board.AddGift(userID, msg.UserName, deltaValue, deltaCount, msg.UserAvatar)
	p.totalIncome += deltaValue
	p.totalGifts += deltaCount
	p.refreshStats()

	if err := p.core.Bus.PublishGift(ctx, p.liveID, events.GiftPayload{
		UserID:     userID,
		UserName:   msg.UserName,
		GiftName:   msg.GiftName,
		Count:      deltaCount,
		Price:      msg.GiftPrice,
		Value:      deltaValue,
		ComboCount: comboCount,
		IsComboEnd: comboEnd,
	}); err != nil {
		p.logger.Debug("Gift publish failed", "error", err)
	}
}

// HandleViewers ingests a viewer-count update and publishes a consolidated
// stats snapshot.
func (p *Processor) HandleViewers(ctx context.Context, msg fetch.ViewerSeq) {
	p.currentViewers = msg.Current
	if cumulative, err := ParseViewerCount(msg.Cumulative); err != nil {
		p.logger.Warn("Unparsable cumulative viewer count", "raw", msg.Cumulative, "error", err)
	} else if cumulative > 0 {
		p.cumulativeViewers = cumulative
	}

	if msg.Current > p.maxViewers {
		p.maxViewers = msg.Current
		if p.sessionID != 0 {
			if err := p.core.Gateway.UpdateSessionPeak(ctx, p.sessionID, p.maxViewers); err != nil {
				p.storageFailure("update session peak", err)
			}
		}
	}

	p.refreshStats()
	p.publishStats(ctx)
}

// HandleControl ingests a lifecycle control frame. It returns true when the
// stream has ended and the supervisor should leave the streaming state.
func (p *Processor) HandleControl(ctx context.Context, kind fetch.ControlKind) bool {
	if kind != fetch.ControlStreamEnded {
		p.logger.Debug("Ignoring control frame", "kind", kind)
		return false
	}

	if p.sessionID != 0 {
		if err := p.core.Gateway.EndSession(ctx, p.sessionID, p.maxViewers); err != nil {
			p.storageFailure("end session", err)
		}
	}
	if p.sessionStart != nil {
		now := p.core.Clock.Now()
		p.sessionStart.Status = string(models.SessionEnded)
		p.sessionStart.EndTime = &now
	}
	p.refreshStats()
	p.publishStats(ctx)
	p.sessionID = 0
	p.logger.Info("Stream ended by control signal")
	return true
}

// Snapshot returns the latest consolidated stats. Safe from any goroutine;
// used for subscriber replay and scheduler sampling.
func (p *Processor) Snapshot() events.StatsPayload {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return p.lastStats
}

// WriteFailures returns how many storage writes this stream has dropped.
func (p *Processor) WriteFailures() int64 {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return p.writeFailures
}

func (p *Processor) sessionRef() *int64 {
	if p.sessionID == 0 {
		return nil
	}
	id := p.sessionID
	return &id
}

func (p *Processor) storageFailure(op string, err error) {
	p.statsMu.Lock()
	p.writeFailures++
	p.statsMu.Unlock()
	p.logger.Error("Storage write failed, continuing stream", "op", op, "error", err)
}

// refreshStats rebuilds the cross-goroutine stats copy from the hot-path
// state. Called after every mutating event, on the owner goroutine.
func (p *Processor) refreshStats() {
	stats := events.StatsPayload{
		CurrentViewers:    p.currentViewers,
		CumulativeViewers: p.cumulativeViewers,
		TotalIncome:       p.totalIncome,
		ContributorCount:  p.board.Len(),
		TopContributors:   p.board.Top(topContributorCount),
	}
	if p.sessionStart != nil {
		summary := *p.sessionStart
		summary.TotalIncome = p.totalIncome
		summary.TotalGiftCount = p.totalGifts
		summary.TotalChatCount = p.totalChats
		summary.PeakViewerCount = p.maxViewers
		stats.Session = &summary
	}
	p.statsMu.Lock()
	p.lastStats = stats
	p.statsMu.Unlock()
}

func (p *Processor) publishStats(ctx context.Context) {
	if err := p.core.Bus.PublishStats(ctx, p.liveID, p.Snapshot()); err != nil {
		p.logger.Debug("Stats publish failed", "error", err)
	}
}

func summarizeSession(sess *models.LiveSession) *events.SessionSummary {
	return &events.SessionSummary{
		ID:              sess.ID,
		StartTime:       sess.StartTime,
		EndTime:         sess.EndTime,
		Status:          string(sess.Status),
		TotalIncome:     sess.TotalIncome,
		TotalGiftCount:  sess.TotalGiftCount,
		TotalChatCount:  sess.TotalChatCount,
		PeakViewerCount: sess.PeakViewerCount,
	}
}
