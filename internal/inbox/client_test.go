// ABOUTME: End-to-end tests of the inbox engine against the in-process backend
// ABOUTME: Covers optimistic send, rollback, echo ordering, stale history, resync and identity switches

package inbox

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/2389/coven-inbox/internal/channel"
	"github.com/2389/coven-inbox/internal/chat"
)

func TestSendMessage_OptimisticSendConfirmsInPlace(t *testing.T) {
	h := newHarness(t, "alice", "bob")
	convID := h.connect(t, "alice", "bob")

	release := make(chan struct{})
	hooked := &hookedAPI{Client: h.svc.Client("alice")}
	alice := h.signIn(t, "alice", hooked, nil)
	bob := h.signIn(t, "bob", nil, nil)

	require.NoError(t, alice.OpenSession(t.Context(), convID))
	hooked.set(func(a *hookedAPI) { a.beforeSend = func() { <-release } })

	type result struct {
		msg chat.Message
		err error
	}
	done := make(chan result, 1)
	go func() {
		m, err := alice.SendMessage(context.Background(), convID, "hello bob")
		done <- result{m, err}
	}()

	waitFor(t, func() bool { return len(alice.Messages()) == 1 }, "provisional message shown")
	provisional := alice.Messages()[0]
	assert.True(t, provisional.IsProvisional)
	assert.True(t, strings.HasPrefix(provisional.ID, "tmp-"))
	assert.Equal(t, "alice", provisional.Sender)

	convs := alice.Conversations()
	require.Len(t, convs, 1)
	require.NotNil(t, convs[0].LastMessage)
	assert.Equal(t, provisional.ID, convs[0].LastMessage.ID, "sidebar previews the provisional message")

	close(release)
	res := <-done
	require.NoError(t, res.err)

	msgs := alice.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, res.msg.ID, msgs[0].ID)
	assert.False(t, msgs[0].IsProvisional)

	// The sender's echo arrives later and must not duplicate.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []string{res.msg.ID}, messageIDs(alice.Messages()))

	waitFor(t, func() bool {
		c, ok := bob.Conversation(convID)
		return ok && c.UnreadCount == 1 && c.LastMessage != nil && c.LastMessage.ID == res.msg.ID
	}, "bob sees the message as unread")
}

func TestSendFailureRollsBack(t *testing.T) {
	h := newHarness(t, "alice", "bob")
	convID := h.connect(t, "alice", "bob")
	earlier, err := h.svc.SendMessage(t.Context(), "bob", convID, "earlier")
	require.NoError(t, err)

	hooked := &hookedAPI{Client: h.svc.Client("alice")}
	alice := h.signIn(t, "alice", hooked, nil)
	require.NoError(t, alice.OpenSession(t.Context(), convID))

	before, ok := alice.Conversation(convID)
	require.True(t, ok)

	hooked.set(func(a *hookedAPI) { a.sendErr = status.Error(codes.Unavailable, "server down") })
	_, err = alice.SendMessage(t.Context(), convID, "will fail")
	require.Error(t, err)
	assert.ErrorIs(t, err, chat.ErrSendFailed)
	assert.True(t, chat.Retryable(err))

	assert.Equal(t, []string{earlier.ID}, messageIDs(alice.Messages()))
	after, ok := alice.Conversation(convID)
	require.True(t, ok)
	require.NotNil(t, after.LastMessage)
	assert.Equal(t, earlier.ID, after.LastMessage.ID)
	assert.True(t, before.UpdatedAt.Equal(after.UpdatedAt), "updatedAt restored")

	// Retrying is a new send.
	hooked.set(func(a *hookedAPI) { a.sendErr = nil })
	retried, err := alice.SendMessage(t.Context(), convID, "will fail")
	require.NoError(t, err)
	assert.Equal(t, []string{earlier.ID, retried.ID}, messageIDs(alice.Messages()))
}

func TestEchoBeforeConfirmationCollapses(t *testing.T) {
	h := newHarness(t, "alice", "bob")
	convID := h.connect(t, "alice", "bob")
	first, err := h.svc.SendMessage(t.Context(), "bob", convID, "first")
	require.NoError(t, err)

	hooked := &hookedAPI{Client: h.svc.Client("alice")}
	alice := h.signIn(t, "alice", hooked, nil)
	require.NoError(t, alice.OpenSession(t.Context(), convID))

	// Hold the response until the push for the same message has been applied.
	hooked.set(func(a *hookedAPI) {
		a.afterSend = func(m chat.Message) {
			waitFor(t, func() bool { return hasMessage(alice.Messages(), m.ID) }, "echo applied first")
		}
	})

	sent, err := alice.SendMessage(t.Context(), convID, "second")
	require.NoError(t, err)

	msgs := alice.Messages()
	assert.Equal(t, []string{first.ID, sent.ID}, messageIDs(msgs))
	for _, m := range msgs {
		assert.False(t, m.IsProvisional)
	}
	c, _ := alice.Conversation(convID)
	assert.Equal(t, sent.ID, c.LastMessage.ID)
	assert.Equal(t, 0, c.UnreadCount)
}

func TestStaleHistoryIsDiscarded(t *testing.T) {
	h := newHarness(t, "alice", "bob", "carol")
	withBob := h.connect(t, "alice", "bob")
	withCarol := h.connect(t, "alice", "carol")
	_, err := h.svc.SendMessage(t.Context(), "bob", withBob, "from bob")
	require.NoError(t, err)
	fromCarol, err := h.svc.SendMessage(t.Context(), "carol", withCarol, "from carol")
	require.NoError(t, err)

	hold := make(chan struct{})
	hooked := &hookedAPI{Client: h.svc.Client("alice")}
	hooked.set(func(a *hookedAPI) {
		a.beforeList = func(id string) {
			if id == withBob {
				<-hold
			}
		}
	})
	alice := h.signIn(t, "alice", hooked, nil)

	slow := make(chan error, 1)
	go func() { slow <- alice.OpenSession(context.Background(), withBob) }()
	waitFor(t, func() bool { return alice.OpenConversationID() == withBob }, "bob's session opened")

	require.NoError(t, alice.OpenSession(t.Context(), withCarol))
	close(hold)
	require.NoError(t, <-slow, "stale load is not an error")

	assert.Equal(t, withCarol, alice.OpenConversationID())
	assert.Equal(t, []string{fromCarol.ID}, messageIDs(alice.Messages()))
	assert.True(t, alice.HistoryLoaded())
}

func TestOpenSessionMarksRead(t *testing.T) {
	h := newHarness(t, "alice", "bob")
	convID := h.connect(t, "alice", "bob")
	alice := h.signIn(t, "alice", nil, nil)

	_, err := h.svc.SendMessage(t.Context(), "bob", convID, "one")
	require.NoError(t, err)
	_, err = h.svc.SendMessage(t.Context(), "bob", convID, "two")
	require.NoError(t, err)
	waitFor(t, func() bool { return alice.TotalUnread() == 2 }, "two unread")

	require.NoError(t, alice.OpenSession(t.Context(), convID))
	assert.Equal(t, 0, alice.TotalUnread())
	assert.Len(t, alice.Messages(), 2)

	// Messages arriving in the open conversation stay read.
	m, err := h.svc.SendMessage(t.Context(), "bob", convID, "three")
	require.NoError(t, err)
	waitFor(t, func() bool { return hasMessage(alice.Messages(), m.ID) }, "pushed into session")
	assert.Equal(t, 0, alice.TotalUnread())

	alice.CloseSession()
	assert.Empty(t, alice.OpenConversationID())
	assert.Empty(t, alice.Messages())

	_, err = h.svc.SendMessage(t.Context(), "bob", convID, "four")
	require.NoError(t, err)
	waitFor(t, func() bool { return alice.TotalUnread() == 1 }, "unread after close")
}

func TestRedeliveredPushIsIgnored(t *testing.T) {
	h := newHarness(t, "alice", "bob")
	convID := h.connect(t, "alice", "bob")
	alice := h.signIn(t, "alice", nil, nil)

	m := chat.Message{ID: "m-dup", ConversationID: convID, Sender: "bob", Content: "again", CreatedAt: time.Now()}
	h.hub.Publish(chat.MessageReceived{Message: m}, "alice")
	h.hub.Publish(chat.MessageReceived{Message: m}, "alice")

	waitFor(t, func() bool { return alice.TotalUnread() >= 1 }, "push applied")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, alice.TotalUnread())
}

func TestUnknownConversationPushResyncs(t *testing.T) {
	h := newHarness(t, "alice", "carol")
	convID := h.connect(t, "carol", "alice")

	hooked := &hookedAPI{Client: h.svc.Client("alice"), hideConvs: true}
	alice := h.signIn(t, "alice", hooked, nil)
	require.Empty(t, alice.Conversations())

	hooked.set(func(a *hookedAPI) { a.hideConvs = false })
	m, err := h.svc.SendMessage(t.Context(), "carol", convID, "remember me?")
	require.NoError(t, err)

	waitFor(t, func() bool {
		c, ok := alice.Conversation(convID)
		return ok && c.LastMessage != nil && c.LastMessage.ID == m.ID
	}, "conversation fetched from listing")
	c, _ := alice.Conversation(convID)
	assert.Equal(t, "carol", c.Partner.ID)
	assert.Equal(t, 1, c.UnreadCount)
}

func TestReconnectResyncsMissedMessages(t *testing.T) {
	h := newHarness(t, "alice", "bob")
	convID := h.connect(t, "alice", "bob")

	transport := &pausableTransport{hub: h.hub}
	alice := h.signIn(t, "alice", nil, transport)

	transport.drop()
	waitFor(t, func() bool { return !h.hub.IsOnline("alice") }, "alice offline")
	waitFor(t, func() bool { return errors.Is(alice.ChannelErr(), chat.ErrChannelUnavailable) }, "channel reports unavailable")

	missed, err := h.svc.SendMessage(t.Context(), "bob", convID, "while you were away")
	require.NoError(t, err)

	transport.resume()
	h.waitOnline(t, alice, "alice")
	waitFor(t, func() bool {
		c, ok := alice.Conversation(convID)
		return ok && c.LastMessage != nil && c.LastMessage.ID == missed.ID
	}, "missed message recovered by resync")
	assert.NoError(t, alice.ChannelErr())
}

func TestPresence(t *testing.T) {
	h := newHarness(t, "alice", "bob")
	convID := h.connect(t, "alice", "bob")
	alice := h.signIn(t, "alice", nil, nil)
	assert.False(t, alice.IsOnline("bob"))

	bob := h.signIn(t, "bob", nil, nil)
	waitFor(t, func() bool { return alice.IsOnline("bob") }, "bob online")
	c, _ := alice.Conversation(convID)
	assert.True(t, c.Partner.Online)
	assert.ElementsMatch(t, []string{"alice", "bob"}, alice.OnlineUsers())

	require.NoError(t, bob.Logout(t.Context()))
	waitFor(t, func() bool { return !alice.IsOnline("bob") }, "bob offline")
}

func TestRequestLifecycle_CrossingRequests(t *testing.T) {
	h := newHarness(t, "alice", "bob")
	alice := h.signIn(t, "alice", nil, nil)
	bob := h.signIn(t, "bob", nil, nil)

	req, err := alice.SendRequest(t.Context(), "bob", "hi, it's alice")
	require.NoError(t, err)
	assert.Len(t, alice.OutgoingRequests(), 1)

	waitFor(t, func() bool { return len(bob.IncomingRequests()) == 1 }, "bob receives request")

	// The same pair in either direction is already pending.
	_, err = bob.SendRequest(t.Context(), "alice", "")
	assert.ErrorIs(t, err, chat.ErrRequestPending)
	_, err = alice.SendRequest(t.Context(), "bob", "")
	assert.ErrorIs(t, err, chat.ErrRequestPending)

	_, err = alice.ResolveRequest(t.Context(), req.ID, chat.StatusAccepted)
	assert.ErrorIs(t, err, chat.ErrNotReceiver)

	resolved, err := bob.ResolveRequest(t.Context(), req.ID, chat.StatusAccepted)
	require.NoError(t, err)
	assert.Equal(t, chat.StatusAccepted, resolved.Status)

	require.Len(t, bob.Conversations(), 1, "accept returns with the conversation listed")
	assert.Empty(t, bob.IncomingRequests())

	waitFor(t, func() bool { return len(alice.Conversations()) == 1 }, "alice resyncs after acceptance")
	assert.Empty(t, alice.OutgoingRequests())
	assert.Equal(t, "bob", alice.Conversations()[0].Partner.ID)

	_, err = alice.SendRequest(t.Context(), "bob", "")
	assert.ErrorIs(t, err, chat.ErrAlreadyConnected)
}

func TestResolveRequest_DoubleAccept(t *testing.T) {
	h := newHarness(t, "alice", "bob")
	alice := h.signIn(t, "alice", nil, nil)
	bob := h.signIn(t, "bob", nil, nil)

	req, err := alice.SendRequest(t.Context(), "bob", "")
	require.NoError(t, err)
	waitFor(t, func() bool { return len(bob.IncomingRequests()) == 1 }, "bob receives request")

	// A second device of bob's resolves through the same server.
	other := h.svc.Client("bob")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errs[0] = bob.ResolveRequest(context.Background(), req.ID, chat.StatusAccepted)
	}()
	go func() {
		defer wg.Done()
		_, errs[1] = other.ResolveRequest(context.Background(), req.ID, chat.StatusAccepted)
	}()
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		if _, isStatus := status.FromError(err); isStatus {
			assert.Equal(t, codes.Aborted, status.Code(err))
		} else {
			assert.ErrorIs(t, err, chat.ErrRequestAlreadyResolved)
		}
	}
	assert.Equal(t, 1, ok, "exactly one accept wins")

	waitFor(t, func() bool { return len(bob.Conversations()) == 1 }, "bob has one conversation")
	waitFor(t, func() bool { return len(alice.Conversations()) == 1 }, "alice has one conversation")
	assert.Empty(t, bob.IncomingRequests())
}

func TestRejectLeavesNoConversation(t *testing.T) {
	h := newHarness(t, "alice", "bob")
	alice := h.signIn(t, "alice", nil, nil)
	bob := h.signIn(t, "bob", nil, nil)

	req, err := alice.SendRequest(t.Context(), "bob", "")
	require.NoError(t, err)
	waitFor(t, func() bool { return len(bob.IncomingRequests()) == 1 }, "bob receives request")

	_, err = bob.ResolveRequest(t.Context(), req.ID, "MAYBE")
	assert.ErrorIs(t, err, chat.ErrInvalidDecision)

	_, err = bob.ResolveRequest(t.Context(), req.ID, chat.StatusRejected)
	require.NoError(t, err)
	waitFor(t, func() bool { return len(alice.OutgoingRequests()) == 0 }, "alice sees rejection")
	assert.Empty(t, alice.Conversations())
	assert.Empty(t, bob.Conversations())

	_, err = bob.ResolveRequest(t.Context(), req.ID, chat.StatusAccepted)
	assert.ErrorIs(t, err, chat.ErrRequestAlreadyResolved)
}

func TestActionsRequireIdentity(t *testing.T) {
	h := newHarness(t, "alice")
	c := New(h.hub, testOptions(), nil)
	defer c.Close()

	_, err := c.SendMessage(t.Context(), "c1", "hi")
	assert.ErrorIs(t, err, chat.ErrNoIdentity)
	_, err = c.SendRequest(t.Context(), "alice", "")
	assert.ErrorIs(t, err, chat.ErrNoIdentity)
	_, err = c.ResolveRequest(t.Context(), "r1", chat.StatusAccepted)
	assert.ErrorIs(t, err, chat.ErrNoIdentity)
	assert.ErrorIs(t, c.OpenSession(t.Context(), "c1"), chat.ErrNoIdentity)
	assert.ErrorIs(t, c.Sync(t.Context()), chat.ErrNoIdentity)
	assert.ErrorIs(t, c.SetIdentity(t.Context(), "", h.svc.Client("alice")), chat.ErrNoIdentity)
	assert.Equal(t, channel.StateDisconnected, c.ChannelState())
}

func TestLocalValidation(t *testing.T) {
	h := newHarness(t, "alice", "bob")
	convID := h.connect(t, "alice", "bob")
	alice := h.signIn(t, "alice", nil, nil)

	_, err := alice.SendMessage(t.Context(), convID, "  \n ")
	assert.ErrorIs(t, err, chat.ErrEmptyContent)
	_, err = alice.SendMessage(t.Context(), "unknown", "hi")
	assert.ErrorIs(t, err, chat.ErrNotFound)
	assert.ErrorIs(t, alice.OpenSession(t.Context(), "unknown"), chat.ErrNotFound)

	_, err = alice.SendRequest(t.Context(), "alice", "")
	assert.ErrorIs(t, err, chat.ErrSelfRequest)
	_, err = alice.SendRequest(t.Context(), "bob", "")
	assert.ErrorIs(t, err, chat.ErrAlreadyConnected)

	_, err = alice.ResolveRequest(t.Context(), "missing", chat.StatusAccepted)
	assert.ErrorIs(t, err, chat.ErrNotFound)
}

func TestIdentitySwitchClearsState(t *testing.T) {
	h := newHarness(t, "alice", "bob", "carol")
	withBob := h.connect(t, "alice", "bob")
	h.connect(t, "carol", "bob")

	c := h.signIn(t, "alice", nil, nil)
	require.NoError(t, c.OpenSession(t.Context(), withBob))

	require.NoError(t, c.SetIdentity(t.Context(), "carol", h.svc.Client("carol")))
	h.waitOnline(t, c, "carol")
	waitFor(t, func() bool { return !h.hub.IsOnline("alice") }, "alice's channel closed")

	assert.Equal(t, "carol", c.Identity())
	assert.Empty(t, c.OpenConversationID())
	assert.Empty(t, c.Messages())
	convs := c.Conversations()
	require.Len(t, convs, 1)
	assert.Equal(t, "bob", convs[0].Partner.ID)

	// Pushes for alice no longer reach this client.
	_, err := h.svc.SendMessage(t.Context(), "bob", withBob, "for alice only")
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	_, ok := c.Conversation(withBob)
	assert.False(t, ok)

	require.NoError(t, c.Logout(t.Context()))
	assert.Empty(t, c.Identity())
	assert.Empty(t, c.Conversations())
	assert.Equal(t, channel.StateDisconnected, c.ChannelState())
}

func TestResultAfterLogoutIsDropped(t *testing.T) {
	h := newHarness(t, "alice", "bob")
	convID := h.connect(t, "alice", "bob")

	release := make(chan struct{})
	hooked := &hookedAPI{Client: h.svc.Client("alice")}
	alice := h.signIn(t, "alice", hooked, nil)
	hooked.set(func(a *hookedAPI) { a.beforeSend = func() { <-release } })

	done := make(chan error, 1)
	go func() {
		_, err := alice.SendMessage(context.Background(), convID, "late")
		done <- err
	}()
	waitFor(t, func() bool {
		c, ok := alice.Conversation(convID)
		return ok && c.LastMessage != nil && c.LastMessage.IsProvisional
	}, "provisional shown")

	require.NoError(t, alice.Logout(t.Context()))
	close(release)

	err := <-done
	assert.ErrorIs(t, err, chat.ErrSendFailed)
	assert.True(t, errors.Is(err, errIdentityChanged))
	assert.Empty(t, alice.Conversations())
}

func TestChangesSignal(t *testing.T) {
	h := newHarness(t, "alice", "bob")
	convID := h.connect(t, "alice", "bob")
	alice := h.signIn(t, "alice", nil, nil)

	// Drain anything pending from sign-in.
	for len(alice.Changes()) > 0 {
		<-alice.Changes()
	}

	_, err := h.svc.SendMessage(t.Context(), "bob", convID, "ping")
	require.NoError(t, err)

	select {
	case <-alice.Changes():
	case <-time.After(waitTimeout):
		t.Fatal("no change signal after push")
	}
}
