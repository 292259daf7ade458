// ABOUTME: Tracks which users are online from presenceUpdate events
// ABOUTME: Each update replaces the whole set so a missed event can't cause drift

// Package presence tracks the set of online users reported by the channel.
package presence

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/2389/coven-inbox/internal/chat"
)

// Tracker holds the current online set. Reads may come from any goroutine.
type Tracker struct {
	mu     sync.RWMutex
	online map[string]struct{}
	logger *slog.Logger
}

// NewTracker creates an empty tracker. Pass nil logger for default.
func NewTracker(logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		online: make(map[string]struct{}),
		logger: logger.With("component", "presence"),
	}
}

// Apply replaces the online set with the one carried by update.
func (t *Tracker) Apply(update chat.PresenceUpdate) {
	next := make(map[string]struct{}, len(update.OnlineUserIDs))
	for _, id := range update.OnlineUserIDs {
		next[id] = struct{}{}
	}

	t.mu.Lock()
	t.online = next
	t.mu.Unlock()

	t.logger.Debug("presence updated", "online", len(next))
}

// IsOnline reports whether userID is in the current set.
func (t *Tracker) IsOnline(userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.online[userID]
	return ok
}

// Online returns the current set, sorted.
func (t *Tracker) Online() []string {
	t.mu.RLock()
	out := make([]string, 0, len(t.online))
	for id := range t.online {
		out = append(out, id)
	}
	t.mu.RUnlock()
	slices.Sort(out)
	return out
}

// Reset forgets everyone. Called on identity change.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.online = make(map[string]struct{})
	t.mu.Unlock()
}
