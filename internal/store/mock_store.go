// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/2389/coven-inbox/internal/chat"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu            sync.RWMutex
	users         map[string]*User
	conversations map[string]*Conversation // keyed by ID
	pairs         map[string]string        // keyed by chat.PairKey -> conversation ID
	messages      map[string][]*Message    // keyed by conversation ID
	messageIDs    map[string]struct{}
	reads         map[string]time.Time // keyed by "convID/userID"
	requests      map[string]*chat.ConnectionRequest
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		users:         make(map[string]*User),
		conversations: make(map[string]*Conversation),
		pairs:         make(map[string]string),
		messages:      make(map[string][]*Message),
		messageIDs:    make(map[string]struct{}),
		reads:         make(map[string]time.Time),
		requests:      make(map[string]*chat.ConnectionRequest),
	}
}

// CreateUser stores a new user.
func (m *MockStore) CreateUser(ctx context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[user.ID]; ok {
		return ErrDuplicate
	}
	u := *user
	m.users[u.ID] = &u
	return nil
}

// GetUser retrieves a user by ID.
func (m *MockStore) GetUser(ctx context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

// ListUsers returns every user ordered by ID.
func (m *MockStore) ListUsers(ctx context.Context) ([]*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*User, 0, len(m.users))
	for _, u := range m.users {
		cp := *u
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetConversation retrieves a conversation by ID.
func (m *MockStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

// GetConversationByPair retrieves the conversation between a and b.
func (m *MockStore) GetConversationByPair(ctx context.Context, a, b string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.pairs[chat.PairKey(a, b)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.conversations[id]
	return &cp, nil
}

// ListConversationsForUser returns userID's conversations, most recently
// updated first.
func (m *MockStore) ListConversationsForUser(ctx context.Context, userID string) ([]*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Conversation
	for _, c := range m.conversations {
		if c.UserA == userID || c.UserB == userID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// SaveMessage stores msg and bumps its conversation.
func (m *MockStore) SaveMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conversations[msg.ConversationID]
	if !ok {
		return ErrNotFound
	}
	if _, dup := m.messageIDs[msg.ID]; dup {
		return ErrDuplicate
	}
	cp := *msg
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], &cp)
	m.messageIDs[msg.ID] = struct{}{}
	c.UpdatedAt = msg.CreatedAt
	return nil
}

// ListMessages returns the latest limit messages, oldest first.
func (m *MockStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msgs := m.messages[conversationID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]*Message, 0, len(msgs))
	for _, msg := range msgs {
		cp := *msg
		out = append(out, &cp)
	}
	return out, nil
}

// LastMessage returns the newest message of a conversation.
func (m *MockStore) LastMessage(ctx context.Context, conversationID string) (*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msgs := m.messages[conversationID]
	if len(msgs) == 0 {
		return nil, ErrNotFound
	}
	cp := *msgs[len(msgs)-1]
	return &cp, nil
}

// CountUnread counts the partner's messages newer than userID's read mark.
func (m *MockStore) CountUnread(ctx context.Context, conversationID, userID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	mark := m.reads[conversationID+"/"+userID]
	n := 0
	for _, msg := range m.messages[conversationID] {
		if msg.Sender != userID && msg.CreatedAt.After(mark) {
			n++
		}
	}
	return n, nil
}

// MarkRead moves userID's read mark forward to at.
func (m *MockStore) MarkRead(ctx context.Context, conversationID, userID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := conversationID + "/" + userID
	if at.After(m.reads[key]) {
		m.reads[key] = at
	}
	return nil
}

// LastRead returns userID's read mark, or the zero time.
func (m *MockStore) LastRead(ctx context.Context, conversationID, userID string) (time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reads[conversationID+"/"+userID], nil
}

// CreateRequest stores a new pending request.
func (m *MockStore) CreateRequest(ctx context.Context, req *chat.ConnectionRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.requests[req.ID]; ok {
		return ErrDuplicate
	}
	key := chat.PairKey(req.Initiator, req.Receiver)
	for _, r := range m.requests {
		if r.Status == chat.StatusPending && chat.PairKey(r.Initiator, r.Receiver) == key {
			return ErrDuplicate
		}
	}
	cp := *req
	m.requests[cp.ID] = &cp
	return nil
}

// GetRequest retrieves a request by ID.
func (m *MockStore) GetRequest(ctx context.Context, id string) (*chat.ConnectionRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

// ListPendingRequests returns pending requests userID sent or received.
func (m *MockStore) ListPendingRequests(ctx context.Context, userID string) ([]*chat.ConnectionRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*chat.ConnectionRequest
	for _, r := range m.requests {
		if r.Status == chat.StatusPending && r.Involves(userID) {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ResolveRequest moves a pending request to status, creating conv if set.
func (m *MockStore) ResolveRequest(ctx context.Context, id string, status chat.RequestStatus, conv *Conversation) (*chat.ConnectionRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	if r.Status != chat.StatusPending {
		return nil, ErrNotPending
	}
	if conv != nil {
		key := chat.PairKey(conv.UserA, conv.UserB)
		if _, exists := m.pairs[key]; exists {
			return nil, ErrDuplicate
		}
		c := *conv
		m.conversations[c.ID] = &c
		m.pairs[key] = c.ID
	}
	r.Status = status
	cp := *r
	return &cp, nil
}

// Close is a no-op.
func (m *MockStore) Close() error { return nil }

// Compile-time check that MockStore implements Store
var _ Store = (*MockStore)(nil)
