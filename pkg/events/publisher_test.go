package events

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTruncatedEnvelope(t *testing.T) {
	envelope := Envelope{
		Type:      TypeStats,
		LiveID:    "7714992",
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Data: StatsPayload{
			TopContributors: []Contributor{{UserName: strings.Repeat("x", 10000)}},
		},
	}

	raw, err := truncatedEnvelope(envelope)
	require.NoError(t, err)
	require.Less(t, len(raw), notifyLimit)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, TypeStats, decoded["type"])
	assert.Equal(t, "7714992", decoded["live_id"])
	assert.Equal(t, true, decoded["truncated"])
	assert.NotContains(t, decoded, "data")
}

func TestEnvelopeJSONShape(t *testing.T) {
	raw, err := json.Marshal(Envelope{
		Type:   TypeChat,
		LiveID: "42",
		Data:   ChatPayload{UserID: "u1", UserName: "Alice", Content: "hi"},
	})
	require.NoError(t, err)

	var decoded struct {
		Type   string      `json:"type"`
		LiveID string      `json:"live_id"`
		Data   ChatPayload `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, TypeChat, decoded.Type)
	assert.Equal(t, "42", decoded.LiveID)
	assert.Equal(t, "Alice", decoded.Data.UserName)
}
