// ABOUTME: Per-user api.Client backed by the in-process Service
// ABOUTME: Errors cross the boundary as gRPC status errors, like a remote server's would

package backend

import (
	"context"

	"github.com/2389/coven-inbox/internal/api"
	"github.com/2389/coven-inbox/internal/chat"
)

// Client returns an api.Client acting as userID.
func (s *Service) Client(userID string) api.Client {
	return &userClient{svc: s, userID: userID}
}

type userClient struct {
	svc    *Service
	userID string
}

func (c *userClient) ListConversations(ctx context.Context) ([]chat.Conversation, error) {
	out, err := c.svc.ListConversations(ctx, c.userID)
	return out, api.ToStatus(err)
}

func (c *userClient) ListMessages(ctx context.Context, conversationID string) ([]chat.Message, error) {
	out, err := c.svc.ListMessages(ctx, c.userID, conversationID)
	return out, api.ToStatus(err)
}

func (c *userClient) SendMessage(ctx context.Context, conversationID, content string) (chat.Message, error) {
	out, err := c.svc.SendMessage(ctx, c.userID, conversationID, content)
	return out, api.ToStatus(err)
}

func (c *userClient) ListPendingRequests(ctx context.Context) ([]chat.ConnectionRequest, error) {
	out, err := c.svc.ListPendingRequests(ctx, c.userID)
	return out, api.ToStatus(err)
}

func (c *userClient) SendRequest(ctx context.Context, receiverID, message string) (chat.ConnectionRequest, error) {
	out, err := c.svc.SendRequest(ctx, c.userID, receiverID, message)
	return out, api.ToStatus(err)
}

func (c *userClient) ResolveRequest(ctx context.Context, requestID string, decision chat.RequestStatus) (chat.ConnectionRequest, error) {
	out, err := c.svc.ResolveRequest(ctx, c.userID, requestID, decision)
	return out, api.ToStatus(err)
}
