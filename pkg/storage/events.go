package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/livewatch/livewatch/pkg/models"
)

// AppendChat inserts an immutable chat record.
func (s *Store) AppendChat(ctx context.Context, chat *models.ChatEvent) (*models.ChatEvent, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO chat_events (live_id, session_id, user_id, user_name,
			user_level, content, is_gift_user, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`,
		chat.LiveID, nullInt64(chat.SessionID), chat.UserID, chat.UserName,
		chat.UserLevel, chat.Content, chat.IsGiftUser, s.now())
	if err := row.Scan(&chat.ID, &chat.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to append chat for room %s: %w", chat.LiveID, err)
	}
	return chat, nil
}

// AppendGift inserts a gift record. Rows carrying a trace_id are protected
// by a unique index; a collision surfaces ErrDuplicateTrace so replayed wire
// messages cannot double-count, even across restarts.
func (s *Store) AppendGift(ctx context.Context, gift *models.GiftEvent) (*models.GiftEvent, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO gift_events (live_id, session_id, user_id, user_name,
			user_level, gift_id, gift_name, gift_count, gift_price,
			total_value, send_mode, group_id, trace_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id, created_at`,
		gift.LiveID, nullInt64(gift.SessionID), gift.UserID, gift.UserName,
		gift.UserLevel, nullString(gift.GiftID), gift.GiftName, gift.GiftCount,
		gift.GiftPrice, gift.TotalValue, gift.SendMode, nullString(gift.GroupID),
		nullString(gift.TraceID), s.now())
	if err := row.Scan(&gift.ID, &gift.CreatedAt); err != nil {
		if uniqueViolation(err, "gift_events_trace_id_key") {
			return nil, ErrDuplicateTrace
		}
		return nil, fmt.Errorf("failed to append gift for room %s: %w", gift.LiveID, err)
	}
	return gift, nil
}

// UpdateGiftTotals rewrites a combo row's cumulative count and value in
// place as the combo grows.
func (s *Store) UpdateGiftTotals(ctx context.Context, giftEventID, count, totalValue int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE gift_events SET gift_count = $2, total_value = $3 WHERE id = $1`,
		giftEventID, count, totalValue)
	if err != nil {
		return fmt.Errorf("failed to update gift %d totals: %w", giftEventID, err)
	}
	return nil
}

// RoomMessage is one row of the merged chat/gift history feed.
type RoomMessage struct {
	Type       string `json:"type"`
	ID         int64  `json:"id"`
	UserID     string `json:"user_id"`
	UserName   string `json:"user_name"`
	UserLevel  int    `json:"user_level"`
	Content    string `json:"content,omitempty"`
	GiftName   string `json:"gift_name,omitempty"`
	GiftCount  int64  `json:"gift_count,omitempty"`
	TotalValue int64  `json:"total_value,omitempty"`
	CreatedAt  string `json:"created_at"`
}

// RecentMessages returns the merged chat and gift history for a room,
// newest first, optionally restricted to one session.
func (s *Store) RecentMessages(ctx context.Context, liveID string, sessionID *int64, limit, offset int) ([]RoomMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	sessionFilter := ""
	args := []any{liveID}
	if sessionID != nil {
		args = append(args, *sessionID)
		sessionFilter = " AND session_id = $2"
	}
	args = append(args, limit, offset)
	query := fmt.Sprintf(`
		SELECT 'chat' AS type, id, user_id, user_name, user_level,
		       content, '' AS gift_name, 0 AS gift_count, 0 AS total_value, created_at
		FROM chat_events WHERE live_id = $1%[1]s
		UNION ALL
		SELECT 'gift' AS type, id, user_id, user_name, user_level,
		       '' AS content, gift_name, gift_count, total_value, created_at
		FROM gift_events WHERE live_id = $1%[1]s
		ORDER BY created_at DESC LIMIT $%[2]d OFFSET $%[3]d`,
		sessionFilter, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages for room %s: %w", liveID, err)
	}
	defer rows.Close()

	var out []RoomMessage
	for rows.Next() {
		var (
			m  RoomMessage
			ts sql.NullTime
		)
		if err := rows.Scan(&m.Type, &m.ID, &m.UserID, &m.UserName,
			&m.UserLevel, &m.Content, &m.GiftName, &m.GiftCount,
			&m.TotalValue, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if ts.Valid {
			m.CreatedAt = ts.Time.In(s.clock.Now().Location()).Format("2006-01-02T15:04:05-07:00")
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MessageCounts returns the chat and gift row counts for a room.
func (s *Store) MessageCounts(ctx context.Context, liveID string) (chatCount, giftCount int64, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT count(*) FROM chat_events WHERE live_id = $1),
			(SELECT count(*) FROM gift_events WHERE live_id = $1)`,
		liveID).Scan(&chatCount, &giftCount)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count messages for room %s: %w", liveID, err)
	}
	return chatCount, giftCount, nil
}

// LogSystemEvent appends an operational audit record. Audit writes are
// best-effort from the caller's point of view, but failures still surface.
func (s *Store) LogSystemEvent(ctx context.Context, liveID, eventType, message string, data map[string]any) error {
	var payload any
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to marshal system event data: %w", err)
		}
		payload = raw
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO system_events (live_id, event_type, event_message, event_data, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		nullString(liveID), eventType, nullString(message), payload, s.now())
	if err != nil {
		return fmt.Errorf("failed to log system event %s: %w", eventType, err)
	}
	return nil
}

// ListSystemEvents returns audit records, newest first, optionally filtered
// by room and type.
func (s *Store) ListSystemEvents(ctx context.Context, liveID, eventType string, limit int) ([]*models.SystemEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, live_id, event_type, event_message, event_data, created_at
		FROM system_events WHERE 1=1`
	args := []any{}
	if liveID != "" {
		args = append(args, liveID)
		query += fmt.Sprintf(" AND live_id = $%d", len(args))
	}
	if eventType != "" {
		args = append(args, eventType)
		query += fmt.Sprintf(" AND event_type = $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list system events: %w", err)
	}
	defer rows.Close()

	var events []*models.SystemEvent
	for rows.Next() {
		var (
			ev      models.SystemEvent
			liveID  sql.NullString
			message sql.NullString
			raw     []byte
		)
		if err := rows.Scan(&ev.ID, &liveID, &ev.EventType, &message, &raw, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan system event: %w", err)
		}
		ev.LiveID = liveID.String
		ev.Message = message.String
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &ev.Data); err != nil {
				return nil, fmt.Errorf("failed to decode system event data: %w", err)
			}
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}
