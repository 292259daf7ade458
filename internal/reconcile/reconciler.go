// ABOUTME: MessageReconciler: optimistic send, confirm/rollback, and push dedup
// ABOUTME: Keeps session history and the sidebar consistent whatever order results arrive in

package reconcile

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-inbox/internal/chat"
	"github.com/2389/coven-inbox/internal/conversation"
	"github.com/2389/coven-inbox/internal/session"
)

// TempIDPrefix marks locally generated message IDs.
const TempIDPrefix = "tmp-"

// Seen is the redelivery filter. dedupe.Cache satisfies it.
type Seen interface {
	CheckAndMark(key string) bool
	Reset()
}

// Reconciler mediates between local sends, their async results and pushed
// messages. Not safe for concurrent use; the inbox engine calls it from its
// event loop.
type Reconciler struct {
	store   *conversation.Store
	session *session.Session
	seen    Seen
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithClock replaces time.Now for provisional timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// New creates a Reconciler. seen may be nil to disable redelivery filtering.
func New(store *conversation.Store, sess *session.Session, seen Seen, logger *slog.Logger, opts ...Option) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reconciler{
		store:   store,
		session: sess,
		seen:    seen,
		now:     time.Now,
		logger:  logger.With("component", "reconciler"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Pending is one in-flight send. The temp ID it carries is the only thing
// used to find the provisional message again.
type Pending struct {
	Provisional chat.Message
}

// TempID returns the provisional message ID.
func (p *Pending) TempID() string { return p.Provisional.ID }

// Begin creates the provisional message and shows it immediately in the
// open session (if it is this conversation) and in the sidebar.
func (r *Reconciler) Begin(conversationID, content string) (*Pending, error) {
	if err := chat.ValidateContent(content); err != nil {
		return nil, err
	}
	if _, ok := r.store.Get(conversationID); !ok {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, chat.ErrNotFound)
	}

	p := &Pending{Provisional: chat.Message{
		ID:             TempIDPrefix + uuid.New().String(),
		ConversationID: conversationID,
		Sender:         r.store.SelfID(),
		Content:        content,
		CreatedAt:      r.now(),
		IsRead:         true,
		IsProvisional:  true,
	}}

	r.session.Append(p.Provisional)
	r.store.ApplyLocalSend(p.Provisional)

	r.logger.Debug("provisional message created",
		"conversation_id", conversationID,
		"temp_id", p.TempID())
	return p, nil
}

// Confirm swaps the provisional message for the server's version without
// moving it.
func (r *Reconciler) Confirm(p *Pending, confirmed chat.Message) {
	confirmed.IsProvisional = false
	swapped := r.session.Swap(p.TempID(), confirmed)
	r.store.ConfirmLocalSend(p.TempID(), confirmed)

	r.logger.Debug("send confirmed",
		"conversation_id", confirmed.ConversationID,
		"temp_id", p.TempID(),
		"message_id", confirmed.ID,
		"in_session", swapped)
}

// Fail rolls the provisional message back and returns the error to surface,
// which always matches chat.ErrSendFailed.
func (r *Reconciler) Fail(p *Pending, cause error) error {
	r.session.Remove(p.TempID())
	r.store.RevertLocalSend(p.Provisional)

	r.logger.Debug("send rolled back",
		"conversation_id", p.Provisional.ConversationID,
		"temp_id", p.TempID(),
		"error", cause)

	if errors.Is(cause, chat.ErrSendFailed) {
		return cause
	}
	return fmt.Errorf("%w: %w", chat.ErrSendFailed, cause)
}

// ReceiveResult describes what a pushed message did.
type ReceiveResult struct {
	// Duplicate is set when the transport redelivered an already applied push.
	Duplicate bool
	// Appended is set when the message joined the open session's history.
	Appended bool
	// Unknown is set when the conversation isn't in the store; the caller
	// must resync the conversation list.
	Unknown bool
}

// Receive applies a messageReceived push.
func (r *Reconciler) Receive(msg chat.Message) ReceiveResult {
	if r.seen != nil && r.seen.CheckAndMark(msg.ConversationID+"/"+msg.ID) {
		r.logger.Debug("dropping redelivered push", "message_id", msg.ID)
		return ReceiveResult{Duplicate: true}
	}

	var res ReceiveResult
	if r.session.IsOpen(msg.ConversationID) {
		res.Appended = r.session.Append(msg)
	}
	res.Unknown = !r.store.UpsertFromPush(msg)
	return res
}

// Reset forgets redelivery state. Called on identity change.
func (r *Reconciler) Reset() {
	if r.seen != nil {
		r.seen.Reset()
	}
}
