package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/livewatch/livewatch/pkg/monitor"
	"github.com/livewatch/livewatch/pkg/storage"
)

// fail maps domain errors to HTTP responses.
func (s *Server) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
	case errors.Is(err, monitor.ErrRoomActive):
		c.JSON(http.StatusConflict, gin.H{"error": "room is already being monitored"})
	case errors.Is(err, monitor.ErrInvalidMode):
		c.JSON(http.StatusBadRequest, gin.H{"error": "monitor mode must be manual or persistent"})
	default:
		s.logger.Error("Unexpected API error", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
