package monitor

import (
	"sort"

	"github.com/livewatch/livewatch/pkg/events"
)

// board is the per-room in-memory contribution ranking, mirroring the
// persisted user_contributions rows for the stream currently open. Owned by
// a single goroutine.
type board struct {
	entries map[string]*events.Contributor
}

func newBoard() *board {
	return &board{entries: make(map[string]*events.Contributor)}
}

func (b *board) AddGift(userID, userName string, score, count int64, avatar string) {
	e := b.entry(userID, userName)
	e.Score += score
	e.GiftCount += count
	if avatar != "" {
		e.UserAvatar = avatar
	}
}

func (b *board) AddChat(userID, userName string) {
	b.entry(userID, userName).ChatCount++
}

// Seed installs a persisted ranking entry, used to warm-start the board when
// an existing session is adopted after a reconnect.
func (b *board) Seed(c events.Contributor) {
	copied := c
	b.entries[c.UserID] = &copied
}

func (b *board) entry(userID, userName string) *events.Contributor {
	e, ok := b.entries[userID]
	if !ok {
		e = &events.Contributor{UserID: userID, UserName: userName}
		b.entries[userID] = e
	} else if userName != "" {
		e.UserName = userName
	}
	return e
}

func (b *board) Len() int {
	return len(b.entries)
}

func (b *board) Empty() bool {
	return len(b.entries) == 0
}

func (b *board) Reset() {
	b.entries = make(map[string]*events.Contributor)
}

// Top returns the n highest-scoring entries, copied out so callers can hold
// them across goroutines.
func (b *board) Top(n int) []events.Contributor {
	out := make([]events.Contributor, 0, len(b.entries))
	for _, e := range b.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].UserID < out[j].UserID
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
