package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/livewatch/livewatch/pkg/models"
)

const roomColumns = `id, live_id, anchor_name, anchor_id, monitor_mode,
	auto_reconnect, status, reconnect_count, last_connect_time,
	last_disconnect_time, error_message, created_at, updated_at`

func scanRoom(row interface{ Scan(...any) error }) (*models.Room, error) {
	var (
		r              models.Room
		anchorName     sql.NullString
		anchorID       sql.NullString
		lastConnect    sql.NullTime
		lastDisconnect sql.NullTime
		errMsg         sql.NullString
	)
	err := row.Scan(&r.ID, &r.LiveID, &anchorName, &anchorID, &r.MonitorMode,
		&r.AutoReconnect, &r.Status, &r.ReconnectCount, &lastConnect,
		&lastDisconnect, &errMsg, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.AnchorName = anchorName.String
	r.AnchorID = anchorID.String
	r.ErrorMessage = errMsg.String
	if lastConnect.Valid {
		t := lastConnect.Time
		r.LastConnectTime = &t
	}
	if lastDisconnect.Valid {
		t := lastDisconnect.Time
		r.LastDisconnectTime = &t
	}
	return &r, nil
}

// UpsertRoom creates a room if absent and returns the stored row either way.
// It never duplicates a live_id.
func (s *Store) UpsertRoom(ctx context.Context, liveID string, mode models.MonitorMode, autoReconnect bool) (*models.Room, error) {
	now := s.now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rooms (live_id, monitor_mode, auto_reconnect, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (live_id) DO NOTHING`,
		liveID, mode, autoReconnect, models.StatusStopped, now)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert room %s: %w", liveID, err)
	}
	return s.GetRoom(ctx, liveID)
}

// GetRoom fetches a room by its external identifier.
func (s *Store) GetRoom(ctx context.Context, liveID string) (*models.Room, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+roomColumns+` FROM rooms WHERE live_id = $1`, liveID)
	room, err := scanRoom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get room %s: %w", liveID, err)
	}
	return room, nil
}

// ListRooms returns rooms, optionally filtered by status, newest first.
func (s *Store) ListRooms(ctx context.Context, status models.RoomStatus) ([]*models.Room, error) {
	query := `SELECT ` + roomColumns + ` FROM rooms`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	defer rows.Close()

	var rooms []*models.Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan room: %w", err)
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

// ListPersistentRooms returns every room with auto-reconnect enabled. The
// scheduler uses it to start persistent rooms at boot.
func (s *Store) ListPersistentRooms(ctx context.Context) ([]*models.Room, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+roomColumns+` FROM rooms WHERE auto_reconnect = TRUE`)
	if err != nil {
		return nil, fmt.Errorf("failed to list persistent rooms: %w", err)
	}
	defer rows.Close()

	var rooms []*models.Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan room: %w", err)
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

// UpdateRoomStatus writes the dashboard-facing status. An empty errMsg
// clears any previous error text. The write is idempotent.
func (s *Store) UpdateRoomStatus(ctx context.Context, liveID string, status models.RoomStatus, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE rooms SET status = $2, error_message = $3, updated_at = $4
		WHERE live_id = $1`,
		liveID, status, nullString(errMsg), s.now())
	if err != nil {
		return fmt.Errorf("failed to update room %s status: %w", liveID, err)
	}
	return nil
}

// UpdateRoomAnchor refreshes anchor metadata observed at stream open.
func (s *Store) UpdateRoomAnchor(ctx context.Context, liveID, anchorName, anchorID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE rooms SET
			anchor_name = COALESCE(NULLIF($2, ''), anchor_name),
			anchor_id = COALESCE(NULLIF($3, ''), anchor_id),
			updated_at = $4
		WHERE live_id = $1`,
		liveID, anchorName, anchorID, s.now())
	if err != nil {
		return fmt.Errorf("failed to update room %s anchor: %w", liveID, err)
	}
	return nil
}

// UpdateRoomReconnect persists the reconnect counter.
func (s *Store) UpdateRoomReconnect(ctx context.Context, liveID string, count int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE rooms SET reconnect_count = $2, updated_at = $3 WHERE live_id = $1`,
		liveID, count, s.now())
	if err != nil {
		return fmt.Errorf("failed to update room %s reconnect count: %w", liveID, err)
	}
	return nil
}

// TouchRoomConnect records the moment a supervisor attempted a connection.
func (s *Store) TouchRoomConnect(ctx context.Context, liveID string) error {
	now := s.now()
	_, err := s.db.ExecContext(ctx, `
		UPDATE rooms SET last_connect_time = $2, updated_at = $2 WHERE live_id = $1`,
		liveID, now)
	if err != nil {
		return fmt.Errorf("failed to touch room %s connect time: %w", liveID, err)
	}
	return nil
}

// TouchRoomDisconnect records the moment a stream closed.
func (s *Store) TouchRoomDisconnect(ctx context.Context, liveID string) error {
	now := s.now()
	_, err := s.db.ExecContext(ctx, `
		UPDATE rooms SET last_disconnect_time = $2, updated_at = $2 WHERE live_id = $1`,
		liveID, now)
	if err != nil {
		return fmt.Errorf("failed to touch room %s disconnect time: %w", liveID, err)
	}
	return nil
}

// UpdateRoomConfig persists operator-editable settings.
func (s *Store) UpdateRoomConfig(ctx context.Context, liveID string, mode *models.MonitorMode, autoReconnect *bool) (*models.Room, error) {
	room, err := s.GetRoom(ctx, liveID)
	if err != nil {
		return nil, err
	}
	if mode != nil {
		room.MonitorMode = *mode
	}
	if autoReconnect != nil {
		room.AutoReconnect = *autoReconnect
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE rooms SET monitor_mode = $2, auto_reconnect = $3, updated_at = $4
		WHERE live_id = $1`,
		liveID, room.MonitorMode, room.AutoReconnect, s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to update room %s config: %w", liveID, err)
	}
	return room, nil
}

// DeleteRoom removes a room. Child rows cascade at the schema level.
func (s *Store) DeleteRoom(ctx context.Context, liveID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM rooms WHERE live_id = $1`, liveID)
	if err != nil {
		return fmt.Errorf("failed to delete room %s: %w", liveID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete room %s: %w", liveID, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// StatsSummary returns the dashboard's headline counts.
func (s *Store) StatsSummary(ctx context.Context) (map[string]int, error) {
	var total, monitoring, persistent int
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*),
		       count(*) FILTER (WHERE status = 'monitoring'),
		       count(*) FILTER (WHERE monitor_mode = 'persistent')
		FROM rooms`).Scan(&total, &monitoring, &persistent)
	if err != nil {
		return nil, fmt.Errorf("failed to read stats summary: %w", err)
	}
	return map[string]int{
		"total_rooms":      total,
		"monitoring_rooms": monitoring,
		"persistent_rooms": persistent,
		"stopped_rooms":    total - monitoring,
	}, nil
}
