// Package events provides real-time fan-out of room activity to dashboard
// subscribers. Publishing rides PostgreSQL NOTIFY so every process sees every
// event; a dedicated LISTEN connection feeds the local WebSocket connection
// manager. Delivery is at-most-once and never blocks the ingestion path —
// every published fact is also durable in storage.
package events

import "strings"

const roomChannelPrefix = "room_"

const statsChannelSuffix = "_stats"

// RoomChannel returns the NOTIFY channel carrying a room's live events.
func RoomChannel(liveID string) string {
	return roomChannelPrefix + liveID
}

// StatsChannel returns the NOTIFY channel carrying a room's stats snapshots.
func StatsChannel(liveID string) string {
	return roomChannelPrefix + liveID + statsChannelSuffix
}

// ParseChannel splits a channel name back into the room id and whether it is
// the stats variant. ok is false for channels outside the room families.
func ParseChannel(channel string) (liveID string, stats bool, ok bool) {
	rest, found := strings.CutPrefix(channel, roomChannelPrefix)
	if !found || rest == "" {
		return "", false, false
	}
	if trimmed, isStats := strings.CutSuffix(rest, statsChannelSuffix); isStats && trimmed != "" {
		return trimmed, true, true
	}
	return rest, false, true
}

// ClientMessage is the JSON shape of client → server WebSocket messages.
type ClientMessage struct {
	Action  string `json:"action"`            // "subscribe", "unsubscribe", "ping"
	Channel string `json:"channel,omitempty"` // e.g. "room_7714992", "room_7714992_stats"
}
