package monitor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/livewatch/livewatch/pkg/config"
	"github.com/livewatch/livewatch/pkg/events"
	"github.com/livewatch/livewatch/pkg/fetch"
	"github.com/livewatch/livewatch/pkg/models"
	"github.com/livewatch/livewatch/pkg/storage"
)

// fakeClock pins time so session timestamps are deterministic.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeGateway is an in-memory Gateway. All methods are safe for concurrent
// use; tests inspect state through the helper accessors after the code under
// test has quiesced. Individual operations can be forced to fail via failOn.
type fakeGateway struct {
	clock *fakeClock

	mu              sync.Mutex
	rooms           map[string]*models.Room
	sessions        map[int64]*models.LiveSession
	nextSessionID   int64
	chats           []*models.ChatEvent
	gifts           []*models.GiftEvent
	nextEventID     int64
	contribs        map[string]*models.UserContribution
	sysEvents       []*models.SystemEvent
	sessionContribs []storage.SessionContributor
	staleClosed     int
	failOn          map[string]error
}

func newFakeGateway(clock *fakeClock) *fakeGateway {
	return &fakeGateway{
		clock:    clock,
		rooms:    make(map[string]*models.Room),
		sessions: make(map[int64]*models.LiveSession),
		contribs: make(map[string]*models.UserContribution),
		failOn:   make(map[string]error),
	}
}

func (g *fakeGateway) fail(op string) error {
	return g.failOn[op]
}

func (g *fakeGateway) GetRoom(ctx context.Context, liveID string) (*models.Room, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	room, ok := g.rooms[liveID]
	if !ok {
		return nil, fmt.Errorf("%w: room %s", storage.ErrNotFound, liveID)
	}
	copied := *room
	return &copied, nil
}

func (g *fakeGateway) UpsertRoom(ctx context.Context, liveID string, mode models.MonitorMode, autoReconnect bool) (*models.Room, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	room, ok := g.rooms[liveID]
	if !ok {
		// Insert-if-absent; an existing row keeps its configuration.
		room = &models.Room{
			LiveID:        liveID,
			MonitorMode:   mode,
			AutoReconnect: autoReconnect,
			Status:        models.StatusStopped,
			CreatedAt:     g.clock.Now(),
		}
		g.rooms[liveID] = room
	}
	copied := *room
	return &copied, nil
}

func (g *fakeGateway) ListRooms(ctx context.Context, status models.RoomStatus) ([]*models.Room, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []*models.Room
	for _, room := range g.rooms {
		if status != "" && room.Status != status {
			continue
		}
		copied := *room
		out = append(out, &copied)
	}
	return out, nil
}

func (g *fakeGateway) ListPersistentRooms(ctx context.Context) ([]*models.Room, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []*models.Room
	for _, room := range g.rooms {
		if room.AutoReconnect {
			copied := *room
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (g *fakeGateway) UpdateRoomStatus(ctx context.Context, liveID string, status models.RoomStatus, errMsg string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.fail("UpdateRoomStatus"); err != nil {
		return err
	}
	room := g.roomLocked(liveID)
	room.Status = status
	room.ErrorMessage = errMsg
	return nil
}

func (g *fakeGateway) UpdateRoomAnchor(ctx context.Context, liveID, anchorName, anchorID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	room := g.roomLocked(liveID)
	room.AnchorName = anchorName
	room.AnchorID = anchorID
	return nil
}

func (g *fakeGateway) UpdateRoomReconnect(ctx context.Context, liveID string, count int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.roomLocked(liveID).ReconnectCount = count
	return nil
}

func (g *fakeGateway) TouchRoomConnect(ctx context.Context, liveID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.clock.Now()
	g.roomLocked(liveID).LastConnectTime = &now
	return nil
}

func (g *fakeGateway) TouchRoomDisconnect(ctx context.Context, liveID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.clock.Now()
	g.roomLocked(liveID).LastDisconnectTime = &now
	return nil
}

func (g *fakeGateway) UpdateRoomConfig(ctx context.Context, liveID string, mode *models.MonitorMode, autoReconnect *bool) (*models.Room, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	room, ok := g.rooms[liveID]
	if !ok {
		return nil, fmt.Errorf("%w: room %s", storage.ErrNotFound, liveID)
	}
	if mode != nil {
		room.MonitorMode = *mode
	}
	if autoReconnect != nil {
		room.AutoReconnect = *autoReconnect
	}
	copied := *room
	return &copied, nil
}

func (g *fakeGateway) DeleteRoom(ctx context.Context, liveID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.rooms[liveID]; !ok {
		return fmt.Errorf("%w: room %s", storage.ErrNotFound, liveID)
	}
	delete(g.rooms, liveID)
	return nil
}

func (g *fakeGateway) OpenSession(ctx context.Context, liveID, anchorName string) (*models.LiveSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.fail("OpenSession"); err != nil {
		return nil, err
	}
	for _, sess := range g.sessions {
		if sess.LiveID == liveID && sess.Status == models.SessionLive {
			return nil, storage.ErrConflictingOpenSession
		}
	}
	g.nextSessionID++
	sess := &models.LiveSession{
		ID:         g.nextSessionID,
		LiveID:     liveID,
		AnchorName: anchorName,
		StartTime:  g.clock.Now(),
		Status:     models.SessionLive,
	}
	g.sessions[sess.ID] = sess
	copied := *sess
	return &copied, nil
}

func (g *fakeGateway) CurrentOpenSession(ctx context.Context, liveID string) (*models.LiveSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, sess := range g.sessions {
		if sess.LiveID == liveID && sess.Status == models.SessionLive {
			copied := *sess
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("%w: no open session for %s", storage.ErrNotFound, liveID)
}

func (g *fakeGateway) EndSession(ctx context.Context, sessionID int64, peakViewers int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	sess, ok := g.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: session %d", storage.ErrNotFound, sessionID)
	}
	now := g.clock.Now()
	sess.Status = models.SessionEnded
	sess.EndTime = &now
	if peakViewers > sess.PeakViewerCount {
		sess.PeakViewerCount = peakViewers
	}
	return nil
}

func (g *fakeGateway) BumpSession(ctx context.Context, sessionID int64, incomeDelta, giftDelta, chatDelta int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	sess, ok := g.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: session %d", storage.ErrNotFound, sessionID)
	}
	sess.TotalIncome += incomeDelta
	sess.TotalGiftCount += giftDelta
	sess.TotalChatCount += chatDelta
	return nil
}

func (g *fakeGateway) UpdateSessionPeak(ctx context.Context, sessionID int64, peakViewers int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	sess, ok := g.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: session %d", storage.ErrNotFound, sessionID)
	}
	if peakViewers > sess.PeakViewerCount {
		sess.PeakViewerCount = peakViewers
	}
	return nil
}

func (g *fakeGateway) CloseStaleSessions(ctx context.Context, threshold time.Duration) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	cutoff := g.clock.Now().Add(-threshold)
	closed := 0
	for _, sess := range g.sessions {
		if sess.Status == models.SessionLive && sess.StartTime.Before(cutoff) {
			end := sess.StartTime.Add(2 * time.Hour)
			sess.Status = models.SessionEnded
			sess.EndTime = &end
			closed++
		}
	}
	g.staleClosed += closed
	return closed, nil
}

func (g *fakeGateway) AppendChat(ctx context.Context, chat *models.ChatEvent) (*models.ChatEvent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.fail("AppendChat"); err != nil {
		return nil, err
	}
	g.nextEventID++
	copied := *chat
	copied.ID = g.nextEventID
	copied.CreatedAt = g.clock.Now()
	g.chats = append(g.chats, &copied)
	out := copied
	return &out, nil
}

func (g *fakeGateway) AppendGift(ctx context.Context, gift *models.GiftEvent) (*models.GiftEvent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.fail("AppendGift"); err != nil {
		return nil, err
	}
	if gift.TraceID != "" {
		for _, existing := range g.gifts {
			if existing.TraceID == gift.TraceID {
				return nil, storage.ErrDuplicateTrace
			}
		}
	}
	g.nextEventID++
	copied := *gift
	copied.ID = g.nextEventID
	copied.CreatedAt = g.clock.Now()
	g.gifts = append(g.gifts, &copied)
	out := copied
	return &out, nil
}

func (g *fakeGateway) UpdateGiftTotals(ctx context.Context, giftEventID, count, totalValue int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, gift := range g.gifts {
		if gift.ID == giftEventID {
			gift.GiftCount = count
			gift.TotalValue = totalValue
			return nil
		}
	}
	return fmt.Errorf("%w: gift event %d", storage.ErrNotFound, giftEventID)
}

func (g *fakeGateway) RecordContribution(ctx context.Context, liveID, userID, userName string, scoreDelta, giftDelta, chatDelta int64, avatar string) (*models.UserContribution, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := liveID + "|" + userID
	c, ok := g.contribs[key]
	if !ok {
		c = &models.UserContribution{LiveID: liveID, UserID: userID}
		g.contribs[key] = c
	}
	c.UserName = userName
	c.TotalScore += scoreDelta
	c.GiftCount += giftDelta
	c.ChatCount += chatDelta
	if avatar != "" {
		c.UserAvatar = avatar
	}
	copied := *c
	return &copied, nil
}

func (g *fakeGateway) SessionContributors(ctx context.Context, liveID string, sessionID int64, limit int) ([]storage.SessionContributor, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]storage.SessionContributor, len(g.sessionContribs))
	copy(out, g.sessionContribs)
	return out, nil
}

func (g *fakeGateway) LogSystemEvent(ctx context.Context, liveID, eventType, message string, data map[string]any) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sysEvents = append(g.sysEvents, &models.SystemEvent{
		LiveID:    liveID,
		EventType: eventType,
		Message:   message,
		Data:      data,
		CreatedAt: g.clock.Now(),
	})
	return nil
}

func (g *fakeGateway) roomLocked(liveID string) *models.Room {
	room, ok := g.rooms[liveID]
	if !ok {
		room = &models.Room{LiveID: liveID, Status: models.StatusStopped}
		g.rooms[liveID] = room
	}
	return room
}

// Test accessors.

func (g *fakeGateway) Room(liveID string) models.Room {
	g.mu.Lock()
	defer g.mu.Unlock()
	room, ok := g.rooms[liveID]
	if !ok {
		return models.Room{}
	}
	return *room
}

func (g *fakeGateway) Session(id int64) models.LiveSession {
	g.mu.Lock()
	defer g.mu.Unlock()
	sess, ok := g.sessions[id]
	if !ok {
		return models.LiveSession{}
	}
	return *sess
}

func (g *fakeGateway) SessionCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sessions)
}

func (g *fakeGateway) Gifts() []models.GiftEvent {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]models.GiftEvent, 0, len(g.gifts))
	for _, gift := range g.gifts {
		out = append(out, *gift)
	}
	return out
}

func (g *fakeGateway) Chats() []models.ChatEvent {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]models.ChatEvent, 0, len(g.chats))
	for _, chat := range g.chats {
		out = append(out, *chat)
	}
	return out
}

func (g *fakeGateway) Contribution(liveID, userID string) models.UserContribution {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.contribs[liveID+"|"+userID]
	if !ok {
		return models.UserContribution{}
	}
	return *c
}

func (g *fakeGateway) EventsOfType(eventType string) []models.SystemEvent {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []models.SystemEvent
	for _, ev := range g.sysEvents {
		if ev.EventType == eventType {
			out = append(out, *ev)
		}
	}
	return out
}

// fakeBus records published payloads.
type fakeBus struct {
	mu    sync.Mutex
	chats []events.ChatPayload
	gifts []events.GiftPayload
	stats []events.StatsPayload
}

func (b *fakeBus) PublishChat(ctx context.Context, liveID string, p events.ChatPayload) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chats = append(b.chats, p)
	return nil
}

func (b *fakeBus) PublishGift(ctx context.Context, liveID string, p events.GiftPayload) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gifts = append(b.gifts, p)
	return nil
}

func (b *fakeBus) PublishStats(ctx context.Context, liveID string, p events.StatsPayload) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stats = append(b.stats, p)
	return nil
}

func (b *fakeBus) Gifts() []events.GiftPayload {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]events.GiftPayload, len(b.gifts))
	copy(out, b.gifts)
	return out
}

func (b *fakeBus) Chats() []events.ChatPayload {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]events.ChatPayload, len(b.chats))
	copy(out, b.chats)
	return out
}

func (b *fakeBus) Stats() []events.StatsPayload {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]events.StatsPayload, len(b.stats))
	copy(out, b.stats)
	return out
}

// fakeFetcher is a scriptable fetch.Fetcher. Unset probe scripts report the
// room as offline; unset stream scripts block until the context is cancelled
// or Stop is called.
type fakeFetcher struct {
	probe  func(ctx context.Context) (fetch.ProbeResult, error)
	stream func(ctx context.Context, cb fetch.Callbacks, stop <-chan struct{}) error

	stopOnce sync.Once
	stopCh   chan struct{}
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{stopCh: make(chan struct{})}
}

func (f *fakeFetcher) ProbeLive(ctx context.Context) (fetch.ProbeResult, error) {
	if f.probe == nil {
		return fetch.ProbeResult{IsLive: false}, nil
	}
	return f.probe(ctx)
}

func (f *fakeFetcher) OpenStream(ctx context.Context, cb fetch.Callbacks) error {
	if f.stream == nil {
		select {
		case <-ctx.Done():
		case <-f.stopCh:
		}
		cb.OnClose("stopped")
		return nil
	}
	return f.stream(ctx, cb, f.stopCh)
}

func (f *fakeFetcher) Stop() {
	f.stopOnce.Do(func() { close(f.stopCh) })
}

func (f *fakeFetcher) Stopped() bool {
	select {
	case <-f.stopCh:
		return true
	default:
		return false
	}
}

// fakeRelay hands out scripted fetchers in order. The final queue entry is
// reused once the queue runs dry so open-ended retry loops stay scripted.
type fakeRelay struct {
	mu    sync.Mutex
	queue []*fakeFetcher
	calls int
}

func (r *fakeRelay) push(f *fakeFetcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queue = append(r.queue, f)
}

func (r *fakeRelay) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func (r *fakeRelay) factory() fetch.Factory {
	return func(liveID string) fetch.Fetcher {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.calls++
		if len(r.queue) == 0 {
			return newFakeFetcher()
		}
		f := r.queue[0]
		if len(r.queue) > 1 {
			r.queue = r.queue[1:]
		}
		return f
	}
}

func testConfig() *config.MonitorConfig {
	return &config.MonitorConfig{
		MaxRetries:            2,
		ReconnectDelay:        5 * time.Millisecond,
		PollInterval:          5 * time.Millisecond,
		PollJitter:            0,
		MaxPollAttempts:       2,
		TraceCacheCapacity:    100,
		TraceCacheTrimTarget:  50,
		StaleSessionThreshold: time.Hour,
	}
}

func testCore(t *testing.T) (*Core, *fakeGateway, *fakeBus, *fakeRelay, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	gw := newFakeGateway(clock)
	bus := &fakeBus{}
	relay := &fakeRelay{}
	core := &Core{
		Clock:   clock,
		Config:  testConfig(),
		Gateway: gw,
		Bus:     bus,
		Fetch:   relay.factory(),
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	return core, gw, bus, relay, clock
}

func waitDone(t *testing.T, sup *Supervisor) {
	t.Helper()
	select {
	case <-sup.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not terminate in time")
	}
}
