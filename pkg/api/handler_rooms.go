package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/livewatch/livewatch/pkg/models"
)

type addRoomRequest struct {
	LiveID        string             `json:"live_id" binding:"required"`
	MonitorMode   models.MonitorMode `json:"monitor_mode"`
	AutoReconnect bool               `json:"auto_reconnect"`
}

type updateRoomConfigRequest struct {
	MonitorMode   *models.MonitorMode `json:"monitor_mode"`
	AutoReconnect *bool               `json:"auto_reconnect"`
}

type roomResponse struct {
	*models.Room
	Active bool `json:"active"`
}

func (s *Server) roomView(room *models.Room) roomResponse {
	return roomResponse{Room: room, Active: s.manager.Running(room.LiveID)}
}

// addRoom handles POST /api/rooms: persist the room and start monitoring.
func (s *Server) addRoom(c *gin.Context) {
	var req addRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.MonitorMode == "" {
		req.MonitorMode = models.ModeManual
	}

	room, err := s.manager.AddRoom(c.Request.Context(), req.LiveID, req.MonitorMode, req.AutoReconnect)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, s.roomView(room))
}

// listRooms handles GET /api/rooms with an optional ?status= filter.
func (s *Server) listRooms(c *gin.Context) {
	status := models.RoomStatus(c.Query("status"))
	rooms, err := s.store.ListRooms(c.Request.Context(), status)
	if err != nil {
		s.fail(c, err)
		return
	}

	out := make([]roomResponse, 0, len(rooms))
	for _, room := range rooms {
		out = append(out, s.roomView(room))
	}
	c.JSON(http.StatusOK, gin.H{"rooms": out, "count": len(out)})
}

func (s *Server) getRoom(c *gin.Context) {
	room, err := s.store.GetRoom(c.Request.Context(), c.Param("live_id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s.roomView(room))
}

func (s *Server) startRoom(c *gin.Context) {
	liveID := c.Param("live_id")
	if err := s.manager.StartRoom(c.Request.Context(), liveID); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"live_id": liveID, "status": "starting"})
}

func (s *Server) stopRoom(c *gin.Context) {
	liveID := c.Param("live_id")
	if err := s.manager.StopRoom(c.Request.Context(), liveID); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"live_id": liveID, "status": "stopped"})
}

func (s *Server) removeRoom(c *gin.Context) {
	liveID := c.Param("live_id")
	if err := s.manager.RemoveRoom(c.Request.Context(), liveID); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"live_id": liveID, "deleted": true})
}

func (s *Server) updateRoomConfig(c *gin.Context) {
	var req updateRoomConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	room, err := s.manager.UpdateRoomConfig(c.Request.Context(), c.Param("live_id"), req.MonitorMode, req.AutoReconnect)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s.roomView(room))
}

// statsSummary handles GET /api/rooms/stats/summary.
func (s *Server) statsSummary(c *gin.Context) {
	summary, err := s.store.StatsSummary(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	summary["active_supervisors"] = len(s.manager.ActiveRooms())
	c.JSON(http.StatusOK, summary)
}
