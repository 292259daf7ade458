// ABOUTME: ConversationStore: the sorted sidebar model for the active user
// ABOUTME: Mutated only through push upserts, read resets and the reconciler's send path

package conversation

import (
	"log/slog"
	"slices"
	"time"

	"github.com/2389/coven-inbox/internal/chat"
)

// Presence answers whether a partner is online when views are built.
type Presence interface {
	IsOnline(userID string) bool
}

// Store holds every conversation visible to the current user, ordered by
// UpdatedAt descending. Ties keep their previous relative order.
//
// Store is not safe for concurrent use; the inbox engine owns it on its
// event loop.
type Store struct {
	selfID   string
	openID   string
	items    []*chat.Conversation
	presence Presence
	now      func() time.Time

	// settled is the last non-provisional preview per conversation, the
	// rollback target for failed sends. applied maps in-flight temp IDs to
	// the time their preview was shown.
	settled map[string]settled
	applied map[string]time.Time
	logger   *slog.Logger
}

type settled struct {
	message   *chat.Message
	updatedAt time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates an empty store. presence may be nil.
func NewStore(presence Presence, logger *slog.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		presence: presence,
		now:      time.Now,
		settled:  make(map[string]settled),
		applied:  make(map[string]time.Time),
		logger:   logger.With("component", "conversation_store"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Reset drops all state and binds the store to a new identity.
func (s *Store) Reset(selfID string) {
	s.selfID = selfID
	s.openID = ""
	s.items = nil
	s.settled = make(map[string]settled)
	s.applied = make(map[string]time.Time)
}

// SelfID returns the identity the store was reset for.
func (s *Store) SelfID() string { return s.selfID }

// Replace installs a fresh listing from the conversation collaborator. The
// listing order is the insertion order used to break UpdatedAt ties.
func (s *Store) Replace(convs []chat.Conversation) {
	items := make([]*chat.Conversation, 0, len(convs))
	s.settled = make(map[string]settled, len(convs))
	for _, c := range convs {
		c = c.Clone()
		if c.ID == s.openID || c.UnreadCount < 0 {
			c.UnreadCount = 0
		}
		items = append(items, &c)
		s.settle(&c)
	}
	s.items = items
	s.sort()
	s.logger.Debug("conversations replaced", "count", len(items))
}

// UpsertFromPush applies a messageReceived event. It returns false when the
// conversation is unknown; the caller must then resync from the listing
// rather than build a partial entry.
func (s *Store) UpsertFromPush(msg chat.Message) bool {
	c := s.find(msg.ConversationID)
	if c == nil {
		s.logger.Debug("push for unknown conversation", "conversation_id", msg.ConversationID)
		return false
	}

	m := msg
	m.IsProvisional = false
	c.LastMessage = &m
	c.UpdatedAt = s.now()
	s.settle(c)
	switch {
	case msg.Sender == s.selfID, msg.ConversationID == s.openID:
		c.UnreadCount = 0
	default:
		c.UnreadCount++
	}
	s.sort()
	return true
}

// MarkRead zeroes the unread count. Returns false for unknown conversations.
func (s *Store) MarkRead(conversationID string) bool {
	c := s.find(conversationID)
	if c == nil {
		return false
	}
	c.UnreadCount = 0
	s.sort()
	return true
}

// SetOpen records which conversation the session is showing and marks it read.
func (s *Store) SetOpen(conversationID string) {
	s.openID = conversationID
	s.MarkRead(conversationID)
}

// ClearOpen records that no session is open.
func (s *Store) ClearOpen() { s.openID = "" }

// OpenID returns the conversation currently open, or "".
func (s *Store) OpenID() string { return s.openID }

// ApplyLocalSend shows a provisional message as the conversation's preview.
// It returns false for unknown conversations.
func (s *Store) ApplyLocalSend(provisional chat.Message) bool {
	c := s.find(provisional.ConversationID)
	if c == nil {
		return false
	}
	m := provisional
	c.LastMessage = &m
	c.UpdatedAt = s.now()
	c.UnreadCount = 0
	s.applied[provisional.ID] = c.UpdatedAt
	s.sort()
	return true
}

// ConfirmLocalSend records the confirmed message as the conversation's
// settled preview. It replaces the visible preview when that is still the
// provisional message, or when a rollback already removed every provisional
// preview and nothing newer has arrived. Another in-flight send's preview is
// left alone.
func (s *Store) ConfirmLocalSend(tempID string, confirmed chat.Message) {
	appliedAt, ok := s.applied[tempID]
	delete(s.applied, tempID)
	c := s.find(confirmed.ConversationID)
	if c == nil {
		return
	}
	if !ok {
		appliedAt = c.UpdatedAt
	}
	m := confirmed
	m.IsProvisional = false

	if cur := s.settled[c.ID]; cur.message == nil || !m.CreatedAt.Before(cur.message.CreatedAt) {
		s.settled[c.ID] = settled{message: &m, updatedAt: appliedAt}
	}

	switch {
	case c.LastMessage != nil && c.LastMessage.ID == tempID:
		c.LastMessage = &m
	case c.LastMessage == nil ||
		(!c.LastMessage.IsProvisional && !m.CreatedAt.Before(c.LastMessage.CreatedAt)):
		c.LastMessage = &m
		if appliedAt.After(c.UpdatedAt) {
			c.UpdatedAt = appliedAt
		}
		s.sort()
	}
}

// RevertLocalSend rolls a failed send back to the last non-provisional
// preview, or none. A message shown after the provisional one wins and is
// left alone.
func (s *Store) RevertLocalSend(provisional chat.Message) {
	delete(s.applied, provisional.ID)
	c := s.find(provisional.ConversationID)
	if c == nil || c.LastMessage == nil || c.LastMessage.ID != provisional.ID {
		return
	}
	prev, ok := s.settled[c.ID]
	c.LastMessage = nil
	if prev.message != nil {
		m := *prev.message
		c.LastMessage = &m
	}
	if ok {
		c.UpdatedAt = prev.updatedAt
	}
	s.sort()
}

// Conversations returns the sorted list with presence applied.
func (s *Store) Conversations() []chat.Conversation {
	out := make([]chat.Conversation, 0, len(s.items))
	for _, c := range s.items {
		out = append(out, s.view(c))
	}
	return out
}

// Get returns one conversation with presence applied.
func (s *Store) Get(conversationID string) (chat.Conversation, bool) {
	c := s.find(conversationID)
	if c == nil {
		return chat.Conversation{}, false
	}
	return s.view(c), true
}

// HasPartner reports whether a conversation with userID exists.
func (s *Store) HasPartner(userID string) bool {
	for _, c := range s.items {
		if c.Partner.ID == userID {
			return true
		}
	}
	return false
}

// TotalUnread sums unread counts across conversations.
func (s *Store) TotalUnread() int {
	n := 0
	for _, c := range s.items {
		n += c.UnreadCount
	}
	return n
}

// Len returns the number of conversations.
func (s *Store) Len() int { return len(s.items) }

func (s *Store) view(c *chat.Conversation) chat.Conversation {
	v := c.Clone()
	v.Partner.Online = s.presence != nil && s.presence.IsOnline(v.Partner.ID)
	return v
}

func (s *Store) find(id string) *chat.Conversation {
	for _, c := range s.items {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func (s *Store) settle(c *chat.Conversation) {
	st := settled{updatedAt: c.UpdatedAt}
	if c.LastMessage != nil && !c.LastMessage.IsProvisional {
		m := *c.LastMessage
		st.message = &m
	}
	s.settled[c.ID] = st
}

func (s *Store) sort() {
	slices.SortStableFunc(s.items, func(a, b *chat.Conversation) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})
}
