// Package api is the operator HTTP surface: room commands, history queries
// and the dashboard WebSocket endpoint.
package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/livewatch/livewatch/pkg/database"
	"github.com/livewatch/livewatch/pkg/events"
	"github.com/livewatch/livewatch/pkg/monitor"
	"github.com/livewatch/livewatch/pkg/storage"
)

// Server carries the handler dependencies.
type Server struct {
	dbClient    *database.Client
	store       *storage.Store
	manager     *monitor.Manager
	connManager *events.ConnectionManager
	logger      *slog.Logger
}

// NewServer wires the API server.
func NewServer(dbClient *database.Client, store *storage.Store, manager *monitor.Manager, connManager *events.ConnectionManager, logger *slog.Logger) *Server {
	return &Server{
		dbClient:    dbClient,
		store:       store,
		manager:     manager,
		connManager: connManager,
		logger:      logger.With("component", "api"),
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	api := r.Group("/api")
	{
		api.GET("/health", s.health)
		api.GET("/ws", s.websocket)

		rooms := api.Group("/rooms")
		{
			rooms.POST("", s.addRoom)
			rooms.GET("", s.listRooms)
			rooms.GET("/stats/summary", s.statsSummary)

			rooms.GET("/:live_id", s.getRoom)
			rooms.DELETE("/:live_id", s.removeRoom)
			rooms.POST("/:live_id/start", s.startRoom)
			rooms.POST("/:live_id/stop", s.stopRoom)
			rooms.PUT("/:live_id/config", s.updateRoomConfig)

			rooms.GET("/:live_id/messages", s.roomMessages)
			rooms.GET("/:live_id/contributors", s.roomContributors)
			rooms.GET("/:live_id/session-contributors", s.sessionContributors)
			rooms.GET("/:live_id/sessions", s.roomSessions)
			rooms.GET("/:live_id/sessions/:session_id", s.sessionDetail)
			rooms.GET("/:live_id/current-session", s.currentSession)
			rooms.GET("/:live_id/stats", s.roomStats)
		}
	}
	return r
}
