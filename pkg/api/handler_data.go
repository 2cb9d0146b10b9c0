package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/livewatch/livewatch/pkg/storage"
)

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func timeQuery(c *gin.Context, name string) (*time.Time, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// roomMessages handles GET /api/rooms/:live_id/messages. Chat and gift rows
// are interleaved newest first; ?session_id narrows to one session.
func (s *Server) roomMessages(c *gin.Context) {
	liveID := c.Param("live_id")
	var sessionID *int64
	if raw := c.Query("session_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "session_id must be an integer"})
			return
		}
		sessionID = &id
	}

	messages, err := s.store.RecentMessages(c.Request.Context(), liveID, sessionID,
		intQuery(c, "limit", 100), intQuery(c, "offset", 0))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages, "count": len(messages)})
}

// roomContributors handles GET /api/rooms/:live_id/contributors, the
// all-time ranking.
func (s *Server) roomContributors(c *gin.Context) {
	contributors, err := s.store.TopContributors(c.Request.Context(), c.Param("live_id"), intQuery(c, "limit", 50))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"contributors": contributors, "count": len(contributors)})
}

// sessionContributors handles GET /api/rooms/:live_id/session-contributors.
// Without ?session_id it ranks the currently open session.
func (s *Server) sessionContributors(c *gin.Context) {
	liveID := c.Param("live_id")

	var sessionID int64
	if raw := c.Query("session_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "session_id must be an integer"})
			return
		}
		sessionID = id
	} else {
		sess, err := s.store.CurrentOpenSession(c.Request.Context(), liveID)
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusOK, gin.H{"contributors": []any{}, "count": 0})
			return
		}
		if err != nil {
			s.fail(c, err)
			return
		}
		sessionID = sess.ID
	}

	contributors, err := s.store.SessionContributors(c.Request.Context(), liveID, sessionID, intQuery(c, "limit", 50))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": sessionID, "contributors": contributors, "count": len(contributors)})
}

// roomSessions handles GET /api/rooms/:live_id/sessions with an optional
// RFC3339 from/to window, returning the rows plus window aggregates.
func (s *Server) roomSessions(c *gin.Context) {
	liveID := c.Param("live_id")
	from, err := timeQuery(c, "from")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "from must be RFC3339"})
		return
	}
	to, err := timeQuery(c, "to")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "to must be RFC3339"})
		return
	}

	sessions, err := s.store.ListSessions(c.Request.Context(), liveID, from, to, intQuery(c, "limit", 100))
	if err != nil {
		s.fail(c, err)
		return
	}
	aggregates, err := s.store.AggregateSessions(c.Request.Context(), liveID, from, to)
	if err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sessions":               sessions,
		"count":                  len(sessions),
		"aggregates":             aggregates,
		"total_duration_seconds": int64(aggregates.TotalDuration.Seconds()),
	})
}

// sessionDetail handles GET /api/rooms/:live_id/sessions/:session_id: one
// session row plus its ranked contributors.
func (s *Server) sessionDetail(c *gin.Context) {
	liveID := c.Param("live_id")
	sessionID, err := strconv.ParseInt(c.Param("session_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_id must be an integer"})
		return
	}

	sess, err := s.store.GetSession(c.Request.Context(), sessionID)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && sess.LiveID != liveID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	if err != nil {
		s.fail(c, err)
		return
	}

	contributors, err := s.store.SessionContributors(c.Request.Context(), liveID, sessionID, intQuery(c, "limit", 50))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": sess, "contributors": contributors, "count": len(contributors)})
}

// currentSession handles GET /api/rooms/:live_id/current-session.
func (s *Server) currentSession(c *gin.Context) {
	sess, err := s.store.CurrentOpenSession(c.Request.Context(), c.Param("live_id"))
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusOK, gin.H{"session": nil, "is_live": false})
		return
	}
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": sess, "is_live": true})
}

// roomStats handles GET /api/rooms/:live_id/stats: the live running snapshot
// when a supervisor exists, plus the sampled history.
func (s *Server) roomStats(c *gin.Context) {
	liveID := c.Param("live_id")

	history, err := s.store.SnapshotHistory(c.Request.Context(), liveID, intQuery(c, "limit", 100))
	if err != nil {
		s.fail(c, err)
		return
	}

	resp := gin.H{"history": history, "count": len(history)}
	if live, ok := s.manager.Snapshot(liveID); ok {
		resp["live"] = live
	}
	c.JSON(http.StatusOK, resp)
}
