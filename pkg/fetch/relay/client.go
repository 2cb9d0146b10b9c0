// Package relay implements the fetch.Fetcher contract against a stream relay:
// a sidecar service that handles platform signatures and binary frame decoding
// and re-exposes each room as a JSON WebSocket feed plus an HTTP status probe.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/livewatch/livewatch/pkg/fetch"
	"github.com/livewatch/livewatch/pkg/version"
)

const (
	probeTimeout  = 10 * time.Second
	pingInterval  = 20 * time.Second
	writeDeadline = 5 * time.Second
	readDeadline  = 60 * time.Second
)

// frame is the relay's wire envelope. Type selects which Data shape applies.
type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type controlData struct {
	Kind string `json:"kind"`
}

type closeData struct {
	Reason string `json:"reason"`
}

// Client is a per-room fetcher backed by one relay endpoint.
type Client struct {
	baseURL    string
	liveID     string
	httpClient *http.Client
	dialer     *websocket.Dialer
	logger     *slog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	stopped bool
}

// NewClient builds a fetcher for one room against the relay at baseURL.
func NewClient(baseURL, liveID string, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		liveID:     liveID,
		httpClient: &http.Client{Timeout: probeTimeout},
		dialer: &websocket.Dialer{
			HandshakeTimeout: probeTimeout,
		},
		logger: logger.With("live_id", liveID),
	}
}

// NewFactory returns a fetch.Factory producing relay clients for baseURL.
func NewFactory(baseURL string, logger *slog.Logger) fetch.Factory {
	return func(liveID string) fetch.Fetcher {
		return NewClient(baseURL, liveID, logger)
	}
}

// ProbeLive checks whether the room is currently broadcasting.
func (c *Client) ProbeLive(ctx context.Context) (fetch.ProbeResult, error) {
	endpoint := fmt.Sprintf("%s/live/%s/status", c.baseURL, url.PathEscape(c.liveID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fetch.ProbeResult{}, fetch.NewFatalError(fmt.Errorf("failed to build probe request: %w", err))
	}
	req.Header.Set("User-Agent", version.Full())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fetch.ProbeResult{}, fetch.NewTransientError(fmt.Errorf("probe request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fetch.ProbeResult{}, fetch.NewStatusError(resp.StatusCode,
			fmt.Errorf("probe returned %s", resp.Status))
	}

	var result fetch.ProbeResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fetch.ProbeResult{}, fetch.NewTransientError(fmt.Errorf("failed to decode probe response: %w", err))
	}
	return result, nil
}

// OpenStream subscribes to the room's feed and dispatches frames to cb until
// the stream terminates. It returns nil on a clean remote close or a local
// Stop, and a classified transport error otherwise.
func (c *Client) OpenStream(ctx context.Context, cb fetch.Callbacks) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	conn, resp, err := c.dialer.DialContext(ctx, c.streamURL(), nil)
	if err != nil {
		if resp != nil {
			err = fetch.NewStatusError(resp.StatusCode, fmt.Errorf("stream dial rejected: %w", err))
		} else {
			err = fetch.NewTransientError(fmt.Errorf("stream dial failed: %w", err))
		}
		if cb.OnError != nil {
			cb.OnError(err)
		}
		return err
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		conn.Close()
		return nil
	}
	c.conn = conn
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	pingDone := make(chan struct{})
	defer close(pingDone)
	go c.keepAlive(ctx, conn, pingDone)

	if cb.OnOpen != nil {
		cb.OnOpen()
	}

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			return c.classifyReadError(ctx, err, cb)
		}
		conn.SetReadDeadline(time.Now().Add(readDeadline))
		c.dispatch(f, cb)
	}
}

// Stop terminates any active stream and prevents new ones. Idempotent and
// safe from any goroutine.
func (c *Client) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.stopped = true
	if c.conn != nil {
		deadline := time.Now().Add(writeDeadline)
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stop requested"), deadline)
		c.conn.Close()
	}
}

func (c *Client) streamURL() string {
	endpoint := fmt.Sprintf("%s/live/%s/stream", c.baseURL, url.PathEscape(c.liveID))
	endpoint = strings.Replace(endpoint, "https://", "wss://", 1)
	return strings.Replace(endpoint, "http://", "ws://", 1)
}

func (c *Client) keepAlive(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			conn.Close()
			return
		case <-ticker.C:
			deadline := time.Now().Add(writeDeadline)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.logger.Debug("Ping failed, closing stream", "error", err)
				conn.Close()
				return
			}
		}
	}
}

func (c *Client) dispatch(f frame, cb fetch.Callbacks) {
	switch f.Type {
	case "chat":
		var msg fetch.ChatMessage
		if err := json.Unmarshal(f.Data, &msg); err != nil {
			c.logger.Warn("Dropping undecodable chat frame", "error", err)
			return
		}
		if cb.OnChat != nil {
			cb.OnChat(msg)
		}
	case "gift":
		var msg fetch.GiftMessage
		if err := json.Unmarshal(f.Data, &msg); err != nil {
			c.logger.Warn("Dropping undecodable gift frame", "error", err)
			return
		}
		if cb.OnGift != nil {
			cb.OnGift(msg)
		}
	case "viewer":
		var msg fetch.ViewerSeq
		if err := json.Unmarshal(f.Data, &msg); err != nil {
			c.logger.Warn("Dropping undecodable viewer frame", "error", err)
			return
		}
		if cb.OnViewerSeq != nil {
			cb.OnViewerSeq(msg)
		}
	case "control":
		var data controlData
		if err := json.Unmarshal(f.Data, &data); err != nil {
			c.logger.Warn("Dropping undecodable control frame", "error", err)
			return
		}
		if cb.OnControl != nil {
			cb.OnControl(fetch.ControlKind(data.Kind))
		}
	case "close":
		var data closeData
		json.Unmarshal(f.Data, &data)
		if cb.OnClose != nil {
			cb.OnClose(data.Reason)
		}
	default:
		c.logger.Debug("Ignoring unknown frame type", "type", f.Type)
	}
}

func (c *Client) classifyReadError(ctx context.Context, err error, cb fetch.Callbacks) error {
	c.mu.Lock()
	stopped := c.stopped
	c.mu.Unlock()

	if stopped || ctx.Err() != nil {
		if cb.OnClose != nil {
			cb.OnClose("stopped")
		}
		return nil
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		if cb.OnClose != nil {
			cb.OnClose("remote close")
		}
		return nil
	}

	terr := fetch.NewTransientError(fmt.Errorf("stream read failed: %w", err))
	if cb.OnError != nil {
		cb.OnError(terr)
	}
	if cb.OnClose != nil {
		cb.OnClose("transport error")
	}
	return terr
}
