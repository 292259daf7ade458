// ABOUTME: Store interface and data types for coven-inbox server persistence
// ABOUTME: Defines User, Conversation, Message records and the Store interface

package store

import (
	"context"
	"errors"
	"time"

	"github.com/2389/coven-inbox/internal/chat"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when a unique key is already taken
var ErrDuplicate = errors.New("already exists")

// ErrNotPending is returned when resolving a request that is no longer pending
var ErrNotPending = errors.New("request is not pending")

// User is a registered account
type User struct {
	ID          string
	DisplayName string
	AvatarURL   string
	CreatedAt   time.Time
}

// Conversation is the single direct conversation between two users.
// UserA sorts before UserB.
type Conversation struct {
	ID        string
	UserA     string
	UserB     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Partner returns the participant that isn't userID, or "" if userID
// doesn't take part.
func (c *Conversation) Partner(userID string) string {
	switch userID {
	case c.UserA:
		return c.UserB
	case c.UserB:
		return c.UserA
	}
	return ""
}

// Message is one persisted chat message
type Message struct {
	ID             string
	ConversationID string
	Sender         string
	Content        string
	CreatedAt      time.Time
}

// Store defines the persistence operations of the inbox server.
type Store interface {
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	ListUsers(ctx context.Context) ([]*User, error)

	GetConversation(ctx context.Context, id string) (*Conversation, error)
	GetConversationByPair(ctx context.Context, a, b string) (*Conversation, error)
	ListConversationsForUser(ctx context.Context, userID string) ([]*Conversation, error)

	// SaveMessage stores msg and bumps its conversation's updated_at.
	SaveMessage(ctx context.Context, msg *Message) error
	// ListMessages returns up to limit messages, oldest first.
	ListMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error)
	// LastMessage returns ErrNotFound for an empty conversation.
	LastMessage(ctx context.Context, conversationID string) (*Message, error)
	CountUnread(ctx context.Context, conversationID, userID string) (int, error)
	MarkRead(ctx context.Context, conversationID, userID string, at time.Time) error
	LastRead(ctx context.Context, conversationID, userID string) (time.Time, error)

	// CreateRequest returns ErrDuplicate if the pair already has a pending request.
	CreateRequest(ctx context.Context, req *chat.ConnectionRequest) error
	GetRequest(ctx context.Context, id string) (*chat.ConnectionRequest, error)
	ListPendingRequests(ctx context.Context, userID string) ([]*chat.ConnectionRequest, error)
	// ResolveRequest moves a pending request to status. When conv is non-nil
	// it is created in the same transaction. Returns ErrNotPending if the
	// request was already resolved.
	ResolveRequest(ctx context.Context, id string, status chat.RequestStatus, conv *Conversation) (*chat.ConnectionRequest, error)

	Close() error
}
