// ABOUTME: In-memory per-user fan-out of channel events with presence tracking
// ABOUTME: Recomputes the full online set when a user's first stream opens or last stream closes

package backend

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/coven-inbox/internal/channel"
	"github.com/2389/coven-inbox/internal/chat"
)

// DefaultStreamBuffer is the per-stream event buffer.
const DefaultStreamBuffer = 64

// Hub keeps every open stream keyed by user. A stream whose buffer fills is
// closed rather than silently losing events; the client reconnects and
// resyncs.
type Hub struct {
	presenceMu sync.Mutex

	mu      sync.RWMutex
	streams map[string]map[string]chan chat.Envelope // userID -> streamID -> ch
	buffer  int
	closed  bool
	logger  *slog.Logger
}

// NewHub creates a hub. Pass nil logger for default; buffer <= 0 uses
// DefaultStreamBuffer.
func NewHub(buffer int, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if buffer <= 0 {
		buffer = DefaultStreamBuffer
	}
	return &Hub{
		streams: make(map[string]map[string]chan chat.Envelope),
		buffer:  buffer,
		logger:  logger.With("component", "hub"),
	}
}

// Subscribe opens a stream for userID. The stream is closed when ctx is
// cancelled or Unsubscribe is called.
func (h *Hub) Subscribe(ctx context.Context, userID string) (<-chan chat.Envelope, string) {
	streamID := uuid.New().String()
	ch := make(chan chat.Envelope, h.buffer)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, streamID
	}
	first := len(h.streams[userID]) == 0
	if first {
		h.streams[userID] = make(map[string]chan chat.Envelope)
	}
	h.streams[userID][streamID] = ch
	h.mu.Unlock()

	h.logger.Debug("stream opened", "user_id", userID, "stream_id", streamID)
	if first {
		h.broadcastPresence()
	}

	go func() {
		<-ctx.Done()
		h.Unsubscribe(userID, streamID)
	}()

	return ch, streamID
}

// Unsubscribe closes a stream. Unknown IDs are ignored.
func (h *Hub) Unsubscribe(userID, streamID string) {
	h.mu.Lock()
	last, ok := h.removeLocked(userID, streamID)
	h.mu.Unlock()

	if !ok {
		return
	}
	h.logger.Debug("stream closed", "user_id", userID, "stream_id", streamID)
	if last {
		h.broadcastPresence()
	}
}

func (h *Hub) removeLocked(userID, streamID string) (last, ok bool) {
	subs, exists := h.streams[userID]
	if !exists {
		return false, false
	}
	ch, exists := subs[streamID]
	if !exists {
		return false, false
	}
	delete(subs, streamID)
	close(ch)
	if len(subs) == 0 {
		delete(h.streams, userID)
		return true, true
	}
	return false, true
}

type overflowed struct {
	userID, streamID string
}

// Publish sends ev to every stream of each listed user.
func (h *Hub) Publish(ev chat.Event, userIDs ...string) {
	h.drop(h.publish(ev, userIDs))
}

func (h *Hub) publish(ev chat.Event, userIDs []string) []overflowed {
	env, err := chat.EncodeEvent(ev)
	if err != nil {
		h.logger.Error("encoding event", "type", ev.EventType(), "error", err)
		return nil
	}

	var overflow []overflowed
	h.mu.RLock()
	for _, userID := range userIDs {
		for id, ch := range h.streams[userID] {
			select {
			case ch <- env:
			default:
				overflow = append(overflow, overflowed{userID, id})
			}
		}
	}
	h.mu.RUnlock()
	return overflow
}

func (h *Hub) drop(overflow []overflowed) {
	for _, o := range overflow {
		h.logger.Warn("closing slow stream", "user_id", o.userID, "stream_id", o.streamID)
		h.Unsubscribe(o.userID, o.streamID)
	}
}

// Online returns the users with at least one open stream, sorted.
func (h *Hub) Online() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.onlineLocked()
}

func (h *Hub) onlineLocked() []string {
	ids := make([]string, 0, len(h.streams))
	for id := range h.streams {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// IsOnline reports whether userID has an open stream.
func (h *Hub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.streams[userID]) > 0
}

// broadcastPresence sends the full online set to every stream. Broadcasts
// are serialized so the last one sent is always the current set.
func (h *Hub) broadcastPresence() {
	h.presenceMu.Lock()
	online := h.Online()
	overflow := h.publish(chat.PresenceUpdate{OnlineUserIDs: online}, online)
	h.presenceMu.Unlock()

	h.drop(overflow)
}

// Open implements channel.Transport in-process.
func (h *Hub) Open(ctx context.Context, userID string) (channel.Stream, error) {
	streamCtx, cancel := context.WithCancel(context.Background())
	events, id := h.Subscribe(streamCtx, userID)
	return &loopbackStream{events: events, cancel: cancel, hub: h, userID: userID, id: id}, nil
}

// Close closes every stream.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for userID, subs := range h.streams {
		for id, ch := range subs {
			close(ch)
			delete(subs, id)
		}
		delete(h.streams, userID)
	}
	h.closed = true
	h.logger.Debug("hub closed")
}

type loopbackStream struct {
	events <-chan chat.Envelope
	cancel context.CancelFunc
	hub    *Hub
	userID string
	id     string
}

func (s *loopbackStream) Events() <-chan chat.Envelope { return s.events }

func (s *loopbackStream) Close() error {
	s.hub.Unsubscribe(s.userID, s.id)
	s.cancel()
	return nil
}

var _ channel.Transport = (*Hub)(nil)
