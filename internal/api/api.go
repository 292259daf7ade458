// ABOUTME: Request/response collaborator contract consumed by the inbox engine
// ABOUTME: Listing, send and connection-request calls, scoped to the signed-in user

// Package api defines the request/response collaborator the inbox engine
// consumes and the status-code vocabulary its errors travel in.
package api

import (
	"context"

	"github.com/2389/coven-inbox/internal/chat"
)

// Conversations lists conversations for the current user.
type Conversations interface {
	ListConversations(ctx context.Context) ([]chat.Conversation, error)
}

// Messages lists and sends messages.
type Messages interface {
	// ListMessages returns history ordered by CreatedAt ascending.
	ListMessages(ctx context.Context, conversationID string) ([]chat.Message, error)
	// SendMessage persists a message and returns it with its real ID and timestamp.
	SendMessage(ctx context.Context, conversationID, content string) (chat.Message, error)
}

// Requests lists, sends and resolves connection requests.
type Requests interface {
	ListPendingRequests(ctx context.Context) ([]chat.ConnectionRequest, error)
	SendRequest(ctx context.Context, receiverID, message string) (chat.ConnectionRequest, error)
	ResolveRequest(ctx context.Context, requestID string, decision chat.RequestStatus) (chat.ConnectionRequest, error)
}

// Client is everything the engine needs from the server for one user.
type Client interface {
	Conversations
	Messages
	Requests
}
