package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// notifyLimit is the usable portion of PostgreSQL's 8000-byte NOTIFY payload
// cap. Oversized payloads are replaced by a minimal envelope; subscribers
// fall back to the REST surface for the full data.
const notifyLimit = 7900

// Publisher fans out room activity via pg_notify. Events are transient on the
// wire: they are already durable through the storage layer, so the publisher
// never persists and never retries.
type Publisher struct {
	db *sql.DB
}

// NewPublisher creates a Publisher on the shared connection pool.
func NewPublisher(db *sql.DB) *Publisher {
	return &Publisher{db: db}
}

// PublishChat broadcasts one chat message on the room's event channel.
func (p *Publisher) PublishChat(ctx context.Context, liveID string, payload ChatPayload) error {
	return p.notify(ctx, RoomChannel(liveID), TypeChat, liveID, payload)
}

// PublishGift broadcasts one gift increment on the room's event channel.
func (p *Publisher) PublishGift(ctx context.Context, liveID string, payload GiftPayload) error {
	return p.notify(ctx, RoomChannel(liveID), TypeGift, liveID, payload)
}

// PublishStats broadcasts a consolidated snapshot on the room's stats channel.
func (p *Publisher) PublishStats(ctx context.Context, liveID string, payload StatsPayload) error {
	return p.notify(ctx, StatsChannel(liveID), TypeStats, liveID, payload)
}

func (p *Publisher) notify(ctx context.Context, channel, eventType, liveID string, data any) error {
	envelope := Envelope{
		Type:      eventType,
		LiveID:    liveID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
	raw, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	if len(raw) > notifyLimit {
		raw, err = truncatedEnvelope(envelope)
		if err != nil {
			return err
		}
	}

	if _, err := p.db.ExecContext(ctx, "SELECT pg_notify($1, $2)", channel, string(raw)); err != nil {
		return fmt.Errorf("pg_notify on %s failed: %w", channel, err)
	}
	return nil
}

// truncatedEnvelope keeps only the routing fields so the frame still fits the
// NOTIFY limit. Clients treat truncated=true as a cue to refetch over REST.
func truncatedEnvelope(envelope Envelope) ([]byte, error) {
	raw, err := json.Marshal(map[string]any{
		"type":      envelope.Type,
		"live_id":   envelope.LiveID,
		"timestamp": envelope.Timestamp,
		"truncated": true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal truncated envelope: %w", err)
	}
	return raw, nil
}
