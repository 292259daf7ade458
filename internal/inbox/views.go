// ABOUTME: Read-only views of the inbox engine for the UI
// ABOUTME: Each view copies state on the event loop so callers never share it

package inbox

import (
	"context"

	"github.com/2389/coven-inbox/internal/channel"
	"github.com/2389/coven-inbox/internal/chat"
)

func (c *Client) read(op func()) {
	_ = c.do(context.Background(), op)
}

// Identity returns the signed-in user, or "".
func (c *Client) Identity() string {
	var id string
	c.read(func() { id = c.identity })
	return id
}

// Conversations returns the sidebar, most recently updated first.
func (c *Client) Conversations() []chat.Conversation {
	var out []chat.Conversation
	c.read(func() { out = c.store.Conversations() })
	return out
}

// Conversation returns one conversation by ID.
func (c *Client) Conversation(id string) (chat.Conversation, bool) {
	var (
		conv chat.Conversation
		ok   bool
	)
	c.read(func() { conv, ok = c.store.Get(id) })
	return conv, ok
}

// TotalUnread sums unread counts across conversations.
func (c *Client) TotalUnread() int {
	var n int
	c.read(func() { n = c.store.TotalUnread() })
	return n
}

// OpenConversationID returns the open conversation, or "".
func (c *Client) OpenConversationID() string {
	var id string
	c.read(func() { id = c.session.ConversationID() })
	return id
}

// Messages returns the open conversation's history in display order.
func (c *Client) Messages() []chat.Message {
	var out []chat.Message
	c.read(func() { out = c.session.Messages() })
	return out
}

// HistoryLoaded reports whether the open conversation's history arrived.
func (c *Client) HistoryLoaded() bool {
	var ok bool
	c.read(func() { ok = c.session.Loaded() })
	return ok
}

// IsOnline reports the last presence snapshot for userID.
func (c *Client) IsOnline(userID string) bool {
	return c.presence.IsOnline(userID)
}

// OnlineUsers returns the last presence snapshot.
func (c *Client) OnlineUsers() []string {
	return c.presence.Online()
}

// IncomingRequests returns pending requests addressed to the identity.
func (c *Client) IncomingRequests() []chat.ConnectionRequest {
	var out []chat.ConnectionRequest
	c.read(func() { out = c.requests.Incoming() })
	return out
}

// OutgoingRequests returns pending requests the identity sent.
func (c *Client) OutgoingRequests() []chat.ConnectionRequest {
	var out []chat.ConnectionRequest
	c.read(func() { out = c.requests.Outgoing() })
	return out
}

// ChannelState returns the push channel state.
func (c *Client) ChannelState() channel.State {
	if ch := c.channel.Load(); ch != nil {
		return ch.State()
	}
	return channel.StateDisconnected
}

// ChannelErr returns nil while connected, otherwise a chat.ErrChannelUnavailable.
func (c *Client) ChannelErr() error {
	if ch := c.channel.Load(); ch != nil {
		return ch.Err()
	}
	return chat.ErrChannelUnavailable
}
