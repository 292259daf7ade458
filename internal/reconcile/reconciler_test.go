// ABOUTME: Tests for optimistic send reconciliation and push handling
// ABOUTME: Covers echo/confirm ordering, rollback, redelivery and stale sessions

package reconcile

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-inbox/internal/chat"
	"github.com/2389/coven-inbox/internal/conversation"
	"github.com/2389/coven-inbox/internal/dedupe"
	"github.com/2389/coven-inbox/internal/session"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store   *conversation.Store
	session *session.Session
	seen    *dedupe.Cache
	rec     *Reconciler
}

func newFixture(t *testing.T, self string, convs ...chat.Conversation) *fixture {
	t.Helper()
	now := func() time.Time { return epoch }
	st := conversation.NewStore(nil, nil, conversation.WithClock(now))
	st.Reset(self)
	st.Replace(convs)
	sess := session.New(nil)
	seen := dedupe.New(time.Minute, 100)
	t.Cleanup(seen.Close)
	return &fixture{
		store:   st,
		session: sess,
		seen:    seen,
		rec:     New(st, sess, seen, nil, WithClock(now)),
	}
}

func (f *fixture) open(t *testing.T, convID string, history ...chat.Message) {
	t.Helper()
	ticket := f.session.Open(convID)
	require.NoError(t, f.session.Load(ticket, history))
	f.store.SetOpen(convID)
}

func emptyConv(id, partner string) chat.Conversation {
	return chat.Conversation{ID: id, Partner: chat.Partner{ID: partner}, UpdatedAt: epoch.Add(-time.Hour)}
}

func countID(ms []chat.Message, id string) int {
	n := 0
	for _, m := range ms {
		if m.ID == id {
			n++
		}
	}
	return n
}

func TestReconciler_SendThenConfirm(t *testing.T) {
	f := newFixture(t, "X", emptyConv("C123", "Y"))
	f.open(t, "C123")

	p, err := f.rec.Begin("C123", "hello")
	require.NoError(t, err)

	hist := f.session.Messages()
	require.Len(t, hist, 1)
	assert.True(t, hist[0].IsProvisional)
	assert.True(t, strings.HasPrefix(hist[0].ID, TempIDPrefix))
	assert.Equal(t, "X", hist[0].Sender)

	f.rec.Confirm(p, chat.Message{ID: "m1", ConversationID: "C123", Sender: "X", Content: "hello", CreatedAt: epoch})

	hist = f.session.Messages()
	require.Len(t, hist, 1)
	assert.Equal(t, "m1", hist[0].ID)
	assert.False(t, hist[0].IsProvisional)

	c, _ := f.store.Get("C123")
	assert.Equal(t, 0, c.UnreadCount)
	assert.Equal(t, "m1", c.LastMessage.ID)
}

// Confirmation first, then the echo.
func TestReconciler_ConfirmThenEcho(t *testing.T) {
	f := newFixture(t, "X", emptyConv("C1", "Y"))
	f.open(t, "C1")

	p, err := f.rec.Begin("C1", "hi")
	require.NoError(t, err)
	confirmed := chat.Message{ID: "m1", ConversationID: "C1", Sender: "X", Content: "hi", CreatedAt: epoch}
	f.rec.Confirm(p, confirmed)
	res := f.rec.Receive(confirmed)

	assert.False(t, res.Appended)
	hist := f.session.Messages()
	assert.Len(t, hist, 1)
	assert.Equal(t, 1, countID(hist, "m1"))

	c, _ := f.store.Get("C1")
	assert.Equal(t, 0, c.UnreadCount)
}

// Echo first, then the confirmation.
func TestReconciler_EchoThenConfirm(t *testing.T) {
	f := newFixture(t, "X", emptyConv("C1", "Y"))
	f.open(t, "C1", chat.Message{ID: "m0", ConversationID: "C1", Sender: "Y", Content: "yo"})

	p, err := f.rec.Begin("C1", "hi")
	require.NoError(t, err)
	confirmed := chat.Message{ID: "m1", ConversationID: "C1", Sender: "X", Content: "hi", CreatedAt: epoch}

	res := f.rec.Receive(confirmed)
	assert.True(t, res.Appended)

	f.rec.Confirm(p, confirmed)

	hist := f.session.Messages()
	require.Len(t, hist, 2)
	assert.Equal(t, "m0", hist[0].ID)
	assert.Equal(t, "m1", hist[1].ID)
	assert.False(t, hist[1].IsProvisional)
}

// Identical text sent twice must not be confused: matching is by temp ID.
func TestReconciler_DuplicateTextMatchedByTempID(t *testing.T) {
	f := newFixture(t, "X", emptyConv("C1", "Y"))
	f.open(t, "C1")

	p1, err := f.rec.Begin("C1", "same")
	require.NoError(t, err)
	p2, err := f.rec.Begin("C1", "same")
	require.NoError(t, err)

	f.rec.Confirm(p2, chat.Message{ID: "m2", ConversationID: "C1", Sender: "X", Content: "same"})
	hist := f.session.Messages()
	assert.True(t, hist[0].IsProvisional, "first send still pending")
	assert.Equal(t, "m2", hist[1].ID)

	f.rec.Confirm(p1, chat.Message{ID: "m1", ConversationID: "C1", Sender: "X", Content: "same"})
	hist = f.session.Messages()
	assert.Equal(t, []string{"m1", "m2"}, []string{hist[0].ID, hist[1].ID})
}

func TestReconciler_FailRollsBack(t *testing.T) {
	prev := &chat.Message{ID: "m0", ConversationID: "C1", Sender: "Y", Content: "before"}
	c := emptyConv("C1", "Y")
	c.LastMessage = prev
	f := newFixture(t, "X", c)
	f.open(t, "C1", *prev)

	p, err := f.rec.Begin("C1", "doomed")
	require.NoError(t, err)
	require.Len(t, f.session.Messages(), 2)

	err = f.rec.Fail(p, errors.New("connection reset"))
	assert.ErrorIs(t, err, chat.ErrSendFailed)
	assert.ErrorContains(t, err, "connection reset")
	assert.True(t, chat.Retryable(err))

	hist := f.session.Messages()
	require.Len(t, hist, 1)
	assert.Equal(t, "m0", hist[0].ID)

	got, _ := f.store.Get("C1")
	require.NotNil(t, got.LastMessage)
	assert.Equal(t, "m0", got.LastMessage.ID)
}

func TestReconciler_OverlappingSendsBothFail(t *testing.T) {
	f := newFixture(t, "X", emptyConv("C1", "Y"))
	f.open(t, "C1")

	p1, err := f.rec.Begin("C1", "one")
	require.NoError(t, err)
	p2, err := f.rec.Begin("C1", "two")
	require.NoError(t, err)

	_ = f.rec.Fail(p1, errors.New("timeout"))
	_ = f.rec.Fail(p2, errors.New("timeout"))

	assert.Empty(t, f.session.Messages())
	got, _ := f.store.Get("C1")
	assert.Nil(t, got.LastMessage, "no provisional preview may outlive its send")
}

func TestReconciler_OverlappingSendsFirstConfirmedSecondFails(t *testing.T) {
	f := newFixture(t, "X", emptyConv("C1", "Y"))
	f.open(t, "C1")

	p1, err := f.rec.Begin("C1", "one")
	require.NoError(t, err)
	p2, err := f.rec.Begin("C1", "two")
	require.NoError(t, err)

	f.rec.Confirm(p1, chat.Message{ID: "m1", ConversationID: "C1", Sender: "X", Content: "one", CreatedAt: epoch})
	_ = f.rec.Fail(p2, errors.New("timeout"))

	hist := f.session.Messages()
	require.Len(t, hist, 1)
	assert.Equal(t, "m1", hist[0].ID)

	got, _ := f.store.Get("C1")
	require.NotNil(t, got.LastMessage)
	assert.Equal(t, "m1", got.LastMessage.ID)
	assert.False(t, got.LastMessage.IsProvisional)
}

func TestReconciler_FailKeepsWrappedCause(t *testing.T) {
	f := newFixture(t, "X", emptyConv("C1", "Y"))
	f.open(t, "C1")
	p, err := f.rec.Begin("C1", "x")
	require.NoError(t, err)

	err = f.rec.Fail(p, chat.ErrNotParticipant)
	assert.ErrorIs(t, err, chat.ErrSendFailed)
	assert.ErrorIs(t, err, chat.ErrNotParticipant)
}

func TestReconciler_BeginValidation(t *testing.T) {
	f := newFixture(t, "X", emptyConv("C1", "Y"))

	_, err := f.rec.Begin("C1", "   ")
	assert.ErrorIs(t, err, chat.ErrEmptyContent)

	_, err = f.rec.Begin("nope", "hi")
	assert.ErrorIs(t, err, chat.ErrNotFound)
}

func TestReconciler_SendWithoutOpenSessionUpdatesSidebarOnly(t *testing.T) {
	f := newFixture(t, "X", emptyConv("C1", "Y"))

	p, err := f.rec.Begin("C1", "hi")
	require.NoError(t, err)
	assert.Empty(t, f.session.Messages())

	c, _ := f.store.Get("C1")
	assert.Equal(t, p.TempID(), c.LastMessage.ID)
}

func TestReconciler_ConfirmAfterSessionSwitch(t *testing.T) {
	f := newFixture(t, "X", emptyConv("C1", "Y"), emptyConv("C2", "Z"))
	f.open(t, "C1")

	p, err := f.rec.Begin("C1", "hi")
	require.NoError(t, err)
	f.open(t, "C2")

	f.rec.Confirm(p, chat.Message{ID: "m1", ConversationID: "C1", Sender: "X", Content: "hi"})
	assert.Empty(t, f.session.Messages(), "C2 history untouched")

	c, _ := f.store.Get("C1")
	assert.Equal(t, "m1", c.LastMessage.ID)
}

func TestReconciler_ReceiveBackgroundConversation(t *testing.T) {
	f := newFixture(t, "Y", emptyConv("C123", "X"), emptyConv("C9", "Z"))
	f.open(t, "C9")

	res := f.rec.Receive(chat.Message{ID: "m1", ConversationID: "C123", Sender: "X", Content: "hi"})
	assert.False(t, res.Appended)
	assert.False(t, res.Unknown)

	c, _ := f.store.Get("C123")
	assert.Equal(t, 1, c.UnreadCount)
	assert.Equal(t, "C123", f.store.Conversations()[0].ID)
}

func TestReconciler_RedeliveryIgnored(t *testing.T) {
	f := newFixture(t, "Y", emptyConv("C1", "X"))
	m := chat.Message{ID: "m1", ConversationID: "C1", Sender: "X", Content: "hi"}

	assert.False(t, f.rec.Receive(m).Duplicate)
	assert.True(t, f.rec.Receive(m).Duplicate)

	c, _ := f.store.Get("C1")
	assert.Equal(t, 1, c.UnreadCount, "a redelivered push must not count twice")
}

func TestReconciler_UnknownConversationFlagged(t *testing.T) {
	f := newFixture(t, "Y")
	res := f.rec.Receive(chat.Message{ID: "m1", ConversationID: "new", Sender: "X", Content: "hi"})
	assert.True(t, res.Unknown)
}

func TestReconciler_ResetClearsSeen(t *testing.T) {
	f := newFixture(t, "Y", emptyConv("C1", "X"))
	m := chat.Message{ID: "m1", ConversationID: "C1", Sender: "X", Content: "hi"}
	f.rec.Receive(m)
	f.rec.Reset()
	assert.False(t, f.rec.Receive(m).Duplicate)
}

func TestReconciler_NilSeenDisablesFilter(t *testing.T) {
	st := conversation.NewStore(nil, nil)
	st.Reset("Y")
	st.Replace([]chat.Conversation{emptyConv("C1", "X")})
	r := New(st, session.New(nil), nil, nil)

	m := chat.Message{ID: "m1", ConversationID: "C1", Sender: "X", Content: "hi"}
	r.Receive(m)
	r.Receive(m)
	c, _ := st.Get("C1")
	assert.Equal(t, 2, c.UnreadCount)
	r.Reset()
}
