package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livewatch/livewatch/pkg/config"
	"github.com/livewatch/livewatch/pkg/database"
	"github.com/livewatch/livewatch/pkg/events"
	"github.com/livewatch/livewatch/pkg/fetch"
	"github.com/livewatch/livewatch/pkg/models"
	"github.com/livewatch/livewatch/pkg/monitor"
	"github.com/livewatch/livewatch/pkg/storage"
	"github.com/livewatch/livewatch/test/util"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// blockingFetcher parks in ProbeLive so rooms started through the API stay
// registered as active for the duration of a test.
type blockingFetcher struct {
	stop chan struct{}
}

func (f *blockingFetcher) ProbeLive(ctx context.Context) (fetch.ProbeResult, error) {
	select {
	case <-ctx.Done():
		return fetch.ProbeResult{}, ctx.Err()
	case <-f.stop:
		return fetch.ProbeResult{}, nil
	}
}

func (f *blockingFetcher) OpenStream(ctx context.Context, cb fetch.Callbacks) error {
	<-ctx.Done()
	return ctx.Err()
}

func (f *blockingFetcher) Stop() {
	select {
	case <-f.stop:
	default:
		close(f.stop)
	}
}

type testEnv struct {
	router  *gin.Engine
	store   *storage.Store
	manager *monitor.Manager
}

func setupTestServer(t *testing.T) *testEnv {
	t.Helper()

	db := util.SetupTestDatabase(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := storage.NewStore(db, config.NewClock(time.UTC))

	core := &monitor.Core{
		Clock: config.NewClock(time.UTC),
		Config: &config.MonitorConfig{
			MaxRetries:            1,
			ReconnectDelay:        5 * time.Millisecond,
			PollInterval:          5 * time.Millisecond,
			MaxPollAttempts:       1,
			TraceCacheCapacity:    100,
			TraceCacheTrimTarget:  50,
			StaleSessionThreshold: time.Hour,
		},
		Gateway: store,
		Bus:     events.NewPublisher(db),
		Fetch:   func(string) fetch.Fetcher { return &blockingFetcher{stop: make(chan struct{})} },
		Logger:  logger,
	}
	manager := monitor.NewManager(core, 100*time.Millisecond)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		manager.Shutdown(ctx)
	})

	connManager := events.NewConnectionManager(manager, 5*time.Second)
	server := NewServer(database.NewClientFromDB(db, ""), store, manager, connManager, logger)
	return &testEnv{router: server.Router(), store: store, manager: manager}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestAddRoomStartsMonitoring(t *testing.T) {
	env := setupTestServer(t)

	rec := env.do(t, http.MethodPost, "/api/rooms", gin.H{"live_id": "7714992"})
	require.Equal(t, http.StatusCreated, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "7714992", body["live_id"])
	assert.Equal(t, string(models.ModeManual), body["monitor_mode"])
	assert.Equal(t, true, body["active"])

	rec = env.do(t, http.MethodGet, "/api/rooms/7714992", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "7714992", decodeBody(t, rec)["live_id"])
}

func TestAddRoomValidation(t *testing.T) {
	env := setupTestServer(t)

	rec := env.do(t, http.MethodPost, "/api/rooms", gin.H{"monitor_mode": "manual"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/rooms", gin.H{"live_id": "r1", "monitor_mode": "bogus"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["error"], "monitor mode")
}

func TestStartRoomConflictsWhileActive(t *testing.T) {
	env := setupTestServer(t)

	rec := env.do(t, http.MethodPost, "/api/rooms", gin.H{"live_id": "room1"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/rooms/room1/start", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestStopAndRemoveRoom(t *testing.T) {
	env := setupTestServer(t)

	rec := env.do(t, http.MethodPost, "/api/rooms", gin.H{"live_id": "room1"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/rooms/room1/stop", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "stopped", decodeBody(t, rec)["status"])

	rec = env.do(t, http.MethodDelete, "/api/rooms/room1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["deleted"])

	rec = env.do(t, http.MethodGet, "/api/rooms/room1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRoomEndpointsMissingRoom(t *testing.T) {
	env := setupTestServer(t)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/rooms/missing", nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPost, "/api/rooms/missing/start", nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPost, "/api/rooms/missing/stop", nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodDelete, "/api/rooms/missing", nil).Code)
}

func TestUpdateRoomConfig(t *testing.T) {
	env := setupTestServer(t)
	ctx := context.Background()

	_, err := env.store.UpsertRoom(ctx, "room1", models.ModeManual, false)
	require.NoError(t, err)

	rec := env.do(t, http.MethodPut, "/api/rooms/room1/config", gin.H{
		"monitor_mode":   "persistent",
		"auto_reconnect": true,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, string(models.ModePersistent), body["monitor_mode"])
	assert.Equal(t, true, body["auto_reconnect"])
}

func TestListRoomsWithStatusFilter(t *testing.T) {
	env := setupTestServer(t)
	ctx := context.Background()

	_, err := env.store.UpsertRoom(ctx, "room1", models.ModeManual, false)
	require.NoError(t, err)
	_, err = env.store.UpsertRoom(ctx, "room2", models.ModePersistent, true)
	require.NoError(t, err)
	require.NoError(t, env.store.UpdateRoomStatus(ctx, "room2", models.StatusMonitoring, ""))

	rec := env.do(t, http.MethodGet, "/api/rooms", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, decodeBody(t, rec)["count"])

	rec = env.do(t, http.MethodGet, "/api/rooms?status=monitoring", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.EqualValues(t, 1, body["count"])
	rooms := body["rooms"].([]any)
	assert.Equal(t, "room2", rooms[0].(map[string]any)["live_id"])
}

func TestRoomMessagesAndCurrentSession(t *testing.T) {
	env := setupTestServer(t)
	ctx := context.Background()

	_, err := env.store.UpsertRoom(ctx, "room1", models.ModeManual, false)
	require.NoError(t, err)
	sess, err := env.store.OpenSession(ctx, "room1", "Anchor")
	require.NoError(t, err)
	_, err = env.store.AppendChat(ctx, &models.ChatEvent{
		LiveID: "room1", SessionID: &sess.ID,
		UserID: "u1", UserName: "Alice", UserLevel: 3, Content: "hello",
	})
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/api/rooms/room1/messages", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decodeBody(t, rec)["count"])

	rec = env.do(t, http.MethodGet, "/api/rooms/room1/messages?session_id=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/rooms/room1/current-session", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["is_live"])
	require.NotNil(t, body["session"])

	rec = env.do(t, http.MethodGet, "/api/rooms/other/current-session", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeBody(t, rec)
	assert.Equal(t, false, body["is_live"])
	assert.Nil(t, body["session"])
}

func TestRoomSessionsWindowValidation(t *testing.T) {
	env := setupTestServer(t)
	ctx := context.Background()

	_, err := env.store.UpsertRoom(ctx, "room1", models.ModeManual, false)
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/api/rooms/room1/sessions?from=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/rooms/room1/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.EqualValues(t, 0, body["count"])
	assert.Contains(t, body, "aggregates")
	assert.Contains(t, body, "total_duration_seconds")
}

func TestSessionDetail(t *testing.T) {
	env := setupTestServer(t)
	ctx := context.Background()

	_, err := env.store.UpsertRoom(ctx, "room1", models.ModeManual, false)
	require.NoError(t, err)
	sess, err := env.store.OpenSession(ctx, "room1", "Anchor")
	require.NoError(t, err)
	_, err = env.store.AppendGift(ctx, &models.GiftEvent{
		LiveID: "room1", SessionID: &sess.ID, UserID: "u1", UserName: "Alice",
		GiftName: "Rose", GiftCount: 2, GiftPrice: 10, TotalValue: 20,
		SendMode: models.SendNormal,
	})
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, fmt.Sprintf("/api/rooms/room1/sessions/%d", sess.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.NotNil(t, body["session"])
	assert.EqualValues(t, sess.ID, body["session"].(map[string]any)["id"])
	assert.EqualValues(t, 1, body["count"])
	contributors := body["contributors"].([]any)
	assert.Equal(t, "Alice", contributors[0].(map[string]any)["user_name"])

	// Unknown id and an id belonging to another room both 404.
	rec = env.do(t, http.MethodGet, "/api/rooms/room1/sessions/999999", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = env.do(t, http.MethodGet, fmt.Sprintf("/api/rooms/other/sessions/%d", sess.ID), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/rooms/room1/sessions/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSessionContributorsWithoutOpenSession(t *testing.T) {
	env := setupTestServer(t)
	ctx := context.Background()

	_, err := env.store.UpsertRoom(ctx, "room1", models.ModeManual, false)
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/api/rooms/room1/session-contributors", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, decodeBody(t, rec)["count"])
}

func TestRoomStatsHistory(t *testing.T) {
	env := setupTestServer(t)
	ctx := context.Background()

	_, err := env.store.UpsertRoom(ctx, "room1", models.ModeManual, false)
	require.NoError(t, err)
	_, err = env.store.SaveSnapshot(ctx, &models.RoomStats{
		LiveID: "room1", CurrentViewers: 42, StatsAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/api/rooms/room1/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.EqualValues(t, 1, body["count"])
	assert.NotContains(t, body, "live")
}

func TestStatsSummaryIncludesSupervisorCount(t *testing.T) {
	env := setupTestServer(t)

	rec := env.do(t, http.MethodPost, "/api/rooms", gin.H{"live_id": "room1"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/rooms/stats/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.EqualValues(t, 1, body["total_rooms"])
	assert.EqualValues(t, 1, body["active_supervisors"])
}

func TestHealthEndpoint(t *testing.T) {
	env := setupTestServer(t)

	rec := env.do(t, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Contains(t, body, "database")
}
