package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/livewatch/livewatch/pkg/models"
)

const sessionColumns = `id, live_id, anchor_name, start_time, end_time, status,
	total_income, total_gift_count, total_chat_count, peak_viewer_count,
	created_at, updated_at`

func scanSession(row interface{ Scan(...any) error }) (*models.LiveSession, error) {
	var (
		sess       models.LiveSession
		anchorName sql.NullString
		endTime    sql.NullTime
	)
	err := row.Scan(&sess.ID, &sess.LiveID, &anchorName, &sess.StartTime,
		&endTime, &sess.Status, &sess.TotalIncome, &sess.TotalGiftCount,
		&sess.TotalChatCount, &sess.PeakViewerCount, &sess.CreatedAt,
		&sess.UpdatedAt)
	if err != nil {
		return nil, err
	}
	sess.AnchorName = anchorName.String
	if endTime.Valid {
		t := endTime.Time
		sess.EndTime = &t
	}
	return &sess, nil
}

// OpenSession creates a new live session for the room. The partial unique
// index on (live_id) WHERE status='live' guarantees at most one open session
// per room; a collision surfaces ErrConflictingOpenSession so the caller can
// adopt the existing row.
func (s *Store) OpenSession(ctx context.Context, liveID, anchorName string) (*models.LiveSession, error) {
	now := s.now()
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO live_sessions (live_id, anchor_name, start_time, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $3, $3)
		RETURNING `+sessionColumns,
		liveID, nullString(anchorName), now, models.SessionLive)
	sess, err := scanSession(row)
	if err != nil {
		if uniqueViolation(err, "uq_session_live_per_room") {
			return nil, ErrConflictingOpenSession
		}
		return nil, fmt.Errorf("failed to open session for room %s: %w", liveID, err)
	}
	return sess, nil
}

// CurrentOpenSession returns the room's live session, or ErrNotFound.
func (s *Store) CurrentOpenSession(ctx context.Context, liveID string) (*models.LiveSession, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM live_sessions
		WHERE live_id = $1 AND status = $2
		ORDER BY start_time DESC LIMIT 1`,
		liveID, models.SessionLive)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get open session for room %s: %w", liveID, err)
	}
	return sess, nil
}

// GetSession fetches a session by id.
func (s *Store) GetSession(ctx context.Context, sessionID int64) (*models.LiveSession, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM live_sessions WHERE id = $1`, sessionID)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session %d: %w", sessionID, err)
	}
	return sess, nil
}

// EndSession closes a session. Idempotent: only a still-live row is touched,
// so a second call is a no-op. The peak viewer count keeps its maximum.
func (s *Store) EndSession(ctx context.Context, sessionID int64, peakViewers int64) error {
	now := s.now()
	_, err := s.db.ExecContext(ctx, `
		UPDATE live_sessions SET
			status = $2,
			end_time = $3,
			peak_viewer_count = GREATEST(peak_viewer_count, $4),
			updated_at = $3
		WHERE id = $1 AND status = $5`,
		sessionID, models.SessionEnded, now, peakViewers, models.SessionLive)
	if err != nil {
		return fmt.Errorf("failed to end session %d: %w", sessionID, err)
	}
	return nil
}

// BumpSession adds deltas to a session's running totals. A single UPDATE
// with arithmetic expressions keeps the add atomic under concurrent bumps
// and scheduler reads.
func (s *Store) BumpSession(ctx context.Context, sessionID int64, incomeDelta, giftDelta, chatDelta int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE live_sessions SET
			total_income = total_income + $2,
			total_gift_count = total_gift_count + $3,
			total_chat_count = total_chat_count + $4,
			updated_at = $5
		WHERE id = $1`,
		sessionID, incomeDelta, giftDelta, chatDelta, s.now())
	if err != nil {
		return fmt.Errorf("failed to bump session %d: %w", sessionID, err)
	}
	return nil
}

// UpdateSessionPeak raises the session's peak viewer count. GREATEST keeps
// the column monotone even if updates arrive out of order.
func (s *Store) UpdateSessionPeak(ctx context.Context, sessionID int64, peakViewers int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE live_sessions SET
			peak_viewer_count = GREATEST(peak_viewer_count, $2),
			updated_at = $3
		WHERE id = $1`,
		sessionID, peakViewers, s.now())
	if err != nil {
		return fmt.Errorf("failed to update session %d peak: %w", sessionID, err)
	}
	return nil
}

// ListSessions returns a room's sessions, newest first, optionally limited
// to a start-time window in the display zone.
func (s *Store) ListSessions(ctx context.Context, liveID string, from, to *time.Time, limit int) ([]*models.LiveSession, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + sessionColumns + ` FROM live_sessions WHERE live_id = $1`
	args := []any{liveID}
	if from != nil {
		args = append(args, *from)
		query += fmt.Sprintf(" AND start_time >= $%d", len(args))
	}
	if to != nil {
		args = append(args, *to)
		query += fmt.Sprintf(" AND start_time <= $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY start_time DESC LIMIT $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions for room %s: %w", liveID, err)
	}
	defer rows.Close()

	var sessions []*models.LiveSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// SessionAggregates summarizes sessions in a window: counts, summed totals,
// max peak, and total broadcast duration (open sessions count up to now).
type SessionAggregates struct {
	TotalSessions  int           `json:"total_sessions"`
	LiveSessions   int           `json:"live_sessions"`
	EndedSessions  int           `json:"ended_sessions"`
	TotalIncome    int64         `json:"total_income"`
	TotalGiftCount int64         `json:"total_gift_count"`
	TotalChatCount int64         `json:"total_chat_count"`
	PeakViewerMax  int64         `json:"peak_viewer_max"`
	TotalDuration  time.Duration `json:"-"`
}

// AggregateSessions computes SessionAggregates for a room (or all rooms when
// liveID is empty) within an optional start-time window.
func (s *Store) AggregateSessions(ctx context.Context, liveID string, from, to *time.Time) (*SessionAggregates, error) {
	sessions, err := s.listSessionsForAggregate(ctx, liveID, from, to)
	if err != nil {
		return nil, err
	}

	agg := &SessionAggregates{}
	now := s.now()
	for _, sess := range sessions {
		agg.TotalSessions++
		if sess.Status == models.SessionLive {
			agg.LiveSessions++
		} else {
			agg.EndedSessions++
		}
		agg.TotalIncome += sess.TotalIncome
		agg.TotalGiftCount += sess.TotalGiftCount
		agg.TotalChatCount += sess.TotalChatCount
		if sess.PeakViewerCount > agg.PeakViewerMax {
			agg.PeakViewerMax = sess.PeakViewerCount
		}
		end := now
		if sess.EndTime != nil {
			end = *sess.EndTime
		}
		agg.TotalDuration += end.Sub(sess.StartTime)
	}
	return agg, nil
}

func (s *Store) listSessionsForAggregate(ctx context.Context, liveID string, from, to *time.Time) ([]*models.LiveSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM live_sessions WHERE 1=1`
	args := []any{}
	if liveID != "" {
		args = append(args, liveID)
		query += fmt.Sprintf(" AND live_id = $%d", len(args))
	}
	if from != nil {
		args = append(args, *from)
		query += fmt.Sprintf(" AND start_time >= $%d", len(args))
	}
	if to != nil {
		args = append(args, *to)
		query += fmt.Sprintf(" AND start_time <= $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.LiveSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// CloseStaleSessions ends every live session whose start time is older than
// threshold, synthesizing an end time two hours after the start. Returns the
// number of sessions closed. The manager runs this once at boot.
func (s *Store) CloseStaleSessions(ctx context.Context, threshold time.Duration) (int, error) {
	cutoff := s.now().Add(-threshold)
	res, err := s.db.ExecContext(ctx, `
		UPDATE live_sessions SET
			status = $1,
			end_time = start_time + interval '2 hours',
			updated_at = $2
		WHERE status = $3 AND start_time < $4`,
		models.SessionEnded, s.now(), models.SessionLive, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to close stale sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to close stale sessions: %w", err)
	}
	return int(n), nil
}
