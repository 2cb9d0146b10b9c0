// Package models defines the persisted entities shared by the storage
// gateway, the monitor core, and the API layer.
package models

import "time"

// MonitorMode says whether a room is watched on demand or around the clock.
type MonitorMode string

const (
	ModeManual     MonitorMode = "manual"
	ModePersistent MonitorMode = "persistent"
)

// Valid reports whether m is one of the two accepted modes.
func (m MonitorMode) Valid() bool {
	return m == ModeManual || m == ModePersistent
}

// RoomStatus is the persisted, dashboard-facing state of a room. It may lag
// the in-process supervisor briefly; the manager reconciles it at start-up.
type RoomStatus string

const (
	StatusStopped    RoomStatus = "stopped"
	StatusMonitoring RoomStatus = "monitoring"
	StatusOffline    RoomStatus = "offline"
	StatusWaiting    RoomStatus = "waiting"
	StatusError      RoomStatus = "error"
)

// Room is a persistent descriptor of a watched stream. Rooms are addressed
// everywhere by LiveID, the platform's stable external identifier; the row
// id never crosses a component boundary.
type Room struct {
	ID                 int64       `json:"-"`
	LiveID             string      `json:"live_id"`
	AnchorName         string      `json:"anchor_name,omitempty"`
	AnchorID           string      `json:"anchor_id,omitempty"`
	MonitorMode        MonitorMode `json:"monitor_mode"`
	AutoReconnect      bool        `json:"auto_reconnect"`
	Status             RoomStatus  `json:"status"`
	ReconnectCount     int         `json:"reconnect_count"`
	LastConnectTime    *time.Time  `json:"last_connect_time,omitempty"`
	LastDisconnectTime *time.Time  `json:"last_disconnect_time,omitempty"`
	ErrorMessage       string      `json:"error_message,omitempty"`
	CreatedAt          time.Time   `json:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at"`
}
