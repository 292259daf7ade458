// ABOUTME: Test harness for the inbox engine: in-process backend, hookable API and pausable transport
// ABOUTME: Lets tests hold an API call or the channel open at a chosen moment

package inbox

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/2389/coven-inbox/internal/api"
	"github.com/2389/coven-inbox/internal/backend"
	"github.com/2389/coven-inbox/internal/channel"
	"github.com/2389/coven-inbox/internal/chat"
	"github.com/2389/coven-inbox/internal/store"
)

const waitTimeout = 2 * time.Second

type harness struct {
	svc *backend.Service
	hub *backend.Hub
}

func newHarness(t *testing.T, users ...string) *harness {
	t.Helper()
	hub := backend.NewHub(0, nil)
	svc := backend.New(store.NewMockStore(), hub, nil)
	t.Cleanup(hub.Close)
	for _, u := range users {
		_, err := svc.RegisterUser(t.Context(), u, "User "+u, "")
		require.NoError(t, err)
	}
	return &harness{svc: svc, hub: hub}
}

// connect makes a and b partners directly on the server.
func (h *harness) connect(t *testing.T, a, b string) string {
	t.Helper()
	ctx := context.Background()
	req, err := h.svc.SendRequest(ctx, a, b, "")
	require.NoError(t, err)
	_, err = h.svc.ResolveRequest(ctx, b, req.ID, chat.StatusAccepted)
	require.NoError(t, err)
	convs, err := h.svc.ListConversations(ctx, a)
	require.NoError(t, err)
	for _, c := range convs {
		if c.Partner.ID == b {
			return c.ID
		}
	}
	t.Fatalf("no conversation for %s/%s", a, b)
	return ""
}

func testOptions() Options {
	return Options{Channel: channel.Options{ReconnectInterval: 10 * time.Millisecond, MaxReconnectInterval: 50 * time.Millisecond}}
}

// signIn starts a client for userID on transport and waits until its
// channel is live.
func (h *harness) signIn(t *testing.T, userID string, a api.Client, transport channel.Transport) *Client {
	t.Helper()
	if a == nil {
		a = h.svc.Client(userID)
	}
	if transport == nil {
		transport = h.hub
	}
	c := New(transport, testOptions(), nil)
	t.Cleanup(c.Close)
	require.NoError(t, c.SetIdentity(t.Context(), userID, a))
	h.waitOnline(t, c, userID)
	return c
}

func (h *harness) waitOnline(t *testing.T, c *Client, userID string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.hub.IsOnline(userID) && c.ChannelState() == channel.StateConnected
	}, waitTimeout, 5*time.Millisecond)
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, waitTimeout, 5*time.Millisecond, msg)
}

// hookedAPI wraps a real client and lets a test intercept calls.
type hookedAPI struct {
	api.Client

	mu         sync.Mutex
	beforeSend func()
	afterSend  func(chat.Message)
	sendErr    error
	beforeList func(conversationID string)
	hideConvs  bool
}

func (h *hookedAPI) set(fn func(h *hookedAPI)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fn(h)
}

func (h *hookedAPI) SendMessage(ctx context.Context, conversationID, content string) (chat.Message, error) {
	h.mu.Lock()
	before, after, sendErr := h.beforeSend, h.afterSend, h.sendErr
	h.mu.Unlock()

	if before != nil {
		before()
	}
	if sendErr != nil {
		return chat.Message{}, sendErr
	}
	m, err := h.Client.SendMessage(ctx, conversationID, content)
	if err == nil && after != nil {
		after(m)
	}
	return m, err
}

func (h *hookedAPI) ListMessages(ctx context.Context, conversationID string) ([]chat.Message, error) {
	h.mu.Lock()
	before := h.beforeList
	h.mu.Unlock()

	if before != nil {
		before(conversationID)
	}
	return h.Client.ListMessages(ctx, conversationID)
}

func (h *hookedAPI) ListConversations(ctx context.Context) ([]chat.Conversation, error) {
	h.mu.Lock()
	hide := h.hideConvs
	h.mu.Unlock()

	if hide {
		return nil, nil
	}
	return h.Client.ListConversations(ctx)
}

// pausableTransport wraps the hub so a test can drop the stream and hold
// reconnects.
type pausableTransport struct {
	hub *backend.Hub

	mu      sync.Mutex
	current channel.Stream
	gate    chan struct{} // nil when open
}

func (p *pausableTransport) Open(ctx context.Context, userID string) (channel.Stream, error) {
	p.mu.Lock()
	gate := p.gate
	p.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s, err := p.hub.Open(ctx, userID)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.current = s
	p.mu.Unlock()
	return s, nil
}

// drop closes the live stream and holds reconnects until resume.
func (p *pausableTransport) drop() {
	p.mu.Lock()
	p.gate = make(chan struct{})
	s := p.current
	p.mu.Unlock()
	if s != nil {
		_ = s.Close()
	}
}

func (p *pausableTransport) resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gate != nil {
		close(p.gate)
		p.gate = nil
	}
}

func messageIDs(msgs []chat.Message) []string {
	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	return ids
}

func hasMessage(msgs []chat.Message, id string) bool {
	return slices.ContainsFunc(msgs, func(m chat.Message) bool { return m.ID == id })
}
