package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/livewatch/livewatch/pkg/database"
	"github.com/livewatch/livewatch/pkg/version"
)

// health handles GET /api/health. Only livewatch's own components are
// checked; the platform relay is deliberately excluded so an upstream outage
// does not get this process restarted.
func (s *Server) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	dbHealth, err := database.Health(ctx, s.dbClient.DB())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "unhealthy",
			"database": dbHealth,
			"error":    err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":             "healthy",
		"version":            version.Full(),
		"database":           dbHealth,
		"active_rooms":       len(s.manager.ActiveRooms()),
		"active_connections": s.connManager.ActiveConnections(),
	})
}
