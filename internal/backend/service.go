// ABOUTME: Reference inbox server: persists through the store, then fans out over the hub
// ABOUTME: Enforces the server-authoritative rules for messages and connection requests

package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-inbox/internal/chat"
	"github.com/2389/coven-inbox/internal/store"
)

// Service is the server side of the inbox. Every write is persisted before
// the matching event is published.
type Service struct {
	store  store.Store
	hub    *Hub
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a Service. Pass nil logger for default.
func New(st store.Store, hub *Hub, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:  st,
		hub:    hub,
		logger: logger.With("component", "backend"),
		now:    time.Now,
		newID:  func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Hub returns the event hub.
func (s *Service) Hub() *Hub { return s.hub }

// RegisterUser creates an account.
func (s *Service) RegisterUser(ctx context.Context, id, displayName, avatarURL string) (*store.User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: empty user id", chat.ErrNoIdentity)
	}
	if displayName == "" {
		displayName = id
	}
	u := &store.User{ID: id, DisplayName: displayName, AvatarURL: avatarURL, CreatedAt: s.now()}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return nil, fmt.Errorf("registering %s: %w", id, err)
	}
	s.logger.Info("user registered", "user_id", id)
	return u, nil
}

// UserExists implements auth.UserLookup.
func (s *Service) UserExists(ctx context.Context, userID string) bool {
	_, err := s.store.GetUser(ctx, userID)
	return err == nil
}

// ListConversations builds viewer's sidebar.
func (s *Service) ListConversations(ctx context.Context, viewer string) ([]chat.Conversation, error) {
	convs, err := s.store.ListConversationsForUser(ctx, viewer)
	if err != nil {
		return nil, err
	}

	out := make([]chat.Conversation, 0, len(convs))
	for _, c := range convs {
		view, err := s.conversationView(ctx, viewer, c)
		if err != nil {
			return nil, err
		}
		out = append(out, view)
	}
	return out, nil
}

func (s *Service) conversationView(ctx context.Context, viewer string, c *store.Conversation) (chat.Conversation, error) {
	partner, err := s.partner(ctx, c.Partner(viewer))
	if err != nil {
		return chat.Conversation{}, err
	}
	view := chat.Conversation{
		ID:        c.ID,
		Partner:   partner,
		UpdatedAt: c.UpdatedAt,
	}

	last, err := s.store.LastMessage(ctx, c.ID)
	switch {
	case err == nil:
		mark, err := s.store.LastRead(ctx, c.ID, viewer)
		if err != nil {
			return chat.Conversation{}, err
		}
		m := messageView(last, viewer, mark)
		view.LastMessage = &m
	case !errors.Is(err, store.ErrNotFound):
		return chat.Conversation{}, err
	}

	if view.UnreadCount, err = s.store.CountUnread(ctx, c.ID, viewer); err != nil {
		return chat.Conversation{}, err
	}
	return view, nil
}

func (s *Service) partner(ctx context.Context, userID string) (chat.Partner, error) {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return chat.Partner{}, fmt.Errorf("partner %s: %w", userID, err)
	}
	return chat.Partner{
		ID:          u.ID,
		DisplayName: u.DisplayName,
		AvatarURL:   u.AvatarURL,
		Online:      s.hub.IsOnline(u.ID),
	}, nil
}

func messageView(m *store.Message, viewer string, readMark time.Time) chat.Message {
	return chat.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Sender:         m.Sender,
		Content:        m.Content,
		CreatedAt:      m.CreatedAt,
		IsRead:         m.Sender == viewer || !m.CreatedAt.After(readMark),
	}
}

// conversationFor loads a conversation viewer takes part in.
func (s *Service) conversationFor(ctx context.Context, viewer, conversationID string) (*store.Conversation, error) {
	c, err := s.store.GetConversation(ctx, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, chat.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if c.Partner(viewer) == "" {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, chat.ErrNotParticipant)
	}
	return c, nil
}

// ListMessages returns the history oldest first and marks it read for
// viewer. IsRead reflects the state before this call.
func (s *Service) ListMessages(ctx context.Context, viewer, conversationID string) ([]chat.Message, error) {
	if _, err := s.conversationFor(ctx, viewer, conversationID); err != nil {
		return nil, err
	}

	msgs, err := s.store.ListMessages(ctx, conversationID, 0)
	if err != nil {
		return nil, err
	}
	mark, err := s.store.LastRead(ctx, conversationID, viewer)
	if err != nil {
		return nil, err
	}

	out := make([]chat.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageView(m, viewer, mark))
	}

	if len(msgs) > 0 {
		if err := s.store.MarkRead(ctx, conversationID, viewer, msgs[len(msgs)-1].CreatedAt); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// SendMessage persists a message from sender and pushes it to both
// participants, the sender included.
func (s *Service) SendMessage(ctx context.Context, sender, conversationID, content string) (chat.Message, error) {
	if err := chat.ValidateContent(content); err != nil {
		return chat.Message{}, err
	}
	c, err := s.conversationFor(ctx, sender, conversationID)
	if err != nil {
		return chat.Message{}, err
	}

	m := &store.Message{
		ID:             s.newID(),
		ConversationID: conversationID,
		Sender:         sender,
		Content:        content,
		CreatedAt:      s.now(),
	}
	if err := s.store.SaveMessage(ctx, m); err != nil {
		return chat.Message{}, fmt.Errorf("saving message: %w", err)
	}

	sent := messageView(m, sender, time.Time{})
	pushed := sent
	pushed.IsRead = false
	s.hub.Publish(chat.MessageReceived{Message: pushed}, c.Partner(sender))
	s.hub.Publish(chat.MessageReceived{Message: sent}, sender)

	s.logger.Debug("message sent",
		"conversation_id", conversationID,
		"message_id", m.ID,
		"sender", sender)
	return sent, nil
}

// ListPendingRequests returns pending requests viewer sent or received.
func (s *Service) ListPendingRequests(ctx context.Context, viewer string) ([]chat.ConnectionRequest, error) {
	list, err := s.store.ListPendingRequests(ctx, viewer)
	if err != nil {
		return nil, err
	}
	out := make([]chat.ConnectionRequest, 0, len(list))
	for _, r := range list {
		out = append(out, *r)
	}
	return out, nil
}

// SendRequest creates a pending request from initiator to receiverID and
// notifies the receiver.
func (s *Service) SendRequest(ctx context.Context, initiator, receiverID, message string) (chat.ConnectionRequest, error) {
	if receiverID == "" || receiverID == initiator {
		return chat.ConnectionRequest{}, chat.ErrSelfRequest
	}
	from, err := s.store.GetUser(ctx, initiator)
	if err != nil {
		return chat.ConnectionRequest{}, fmt.Errorf("user %s: %w", initiator, chat.ErrNotFound)
	}
	if _, err := s.store.GetUser(ctx, receiverID); err != nil {
		return chat.ConnectionRequest{}, fmt.Errorf("user %s: %w", receiverID, chat.ErrNotFound)
	}

	if _, err := s.store.GetConversationByPair(ctx, initiator, receiverID); err == nil {
		return chat.ConnectionRequest{}, fmt.Errorf("%s and %s: %w", initiator, receiverID, chat.ErrAlreadyConnected)
	} else if !errors.Is(err, store.ErrNotFound) {
		return chat.ConnectionRequest{}, err
	}

	req := chat.ConnectionRequest{
		ID:        s.newID(),
		Initiator: initiator,
		Receiver:  receiverID,
		Message:   message,
		Status:    chat.StatusPending,
		CreatedAt: s.now(),
	}
	if err := s.store.CreateRequest(ctx, &req); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return chat.ConnectionRequest{}, fmt.Errorf("%s and %s: %w", initiator, receiverID, chat.ErrRequestPending)
		}
		return chat.ConnectionRequest{}, err
	}

	s.hub.Publish(chat.ConnectionRequestReceived{Request: req, InitiatorName: from.DisplayName}, receiverID)
	s.logger.Info("connection request created",
		"request_id", req.ID,
		"initiator", initiator,
		"receiver", receiverID)
	return req, nil
}

// ResolveRequest accepts or rejects a pending request. Only the receiver may
// resolve. Accepting creates the conversation atomically with the status
// change, and both sides are notified.
func (s *Service) ResolveRequest(ctx context.Context, resolver, requestID string, decision chat.RequestStatus) (chat.ConnectionRequest, error) {
	if decision != chat.StatusAccepted && decision != chat.StatusRejected {
		return chat.ConnectionRequest{}, fmt.Errorf("%w: %q", chat.ErrInvalidDecision, decision)
	}

	req, err := s.store.GetRequest(ctx, requestID)
	if errors.Is(err, store.ErrNotFound) {
		return chat.ConnectionRequest{}, fmt.Errorf("request %s: %w", requestID, chat.ErrNotFound)
	}
	if err != nil {
		return chat.ConnectionRequest{}, err
	}
	if req.Receiver != resolver {
		return chat.ConnectionRequest{}, fmt.Errorf("request %s: %w", requestID, chat.ErrNotReceiver)
	}
	if err := req.Status.Transition(decision); err != nil {
		return chat.ConnectionRequest{}, err
	}

	var conv *store.Conversation
	if decision == chat.StatusAccepted {
		a, b := req.Initiator, req.Receiver
		if a > b {
			a, b = b, a
		}
		now := s.now()
		conv = &store.Conversation{ID: s.newID(), UserA: a, UserB: b, CreatedAt: now, UpdatedAt: now}
	}

	resolved, err := s.store.ResolveRequest(ctx, requestID, decision, conv)
	switch {
	case errors.Is(err, store.ErrNotPending):
		return chat.ConnectionRequest{}, fmt.Errorf("request %s: %w", requestID, chat.ErrRequestAlreadyResolved)
	case errors.Is(err, store.ErrDuplicate):
		return chat.ConnectionRequest{}, fmt.Errorf("request %s: %w", requestID, chat.ErrAlreadyConnected)
	case err != nil:
		return chat.ConnectionRequest{}, err
	}

	accepter := ""
	if u, err := s.store.GetUser(ctx, resolver); err == nil {
		accepter = u.DisplayName
	}
	s.hub.Publish(chat.ConnectionRequestResolved{Request: *resolved, AccepterName: accepter},
		resolved.Initiator, resolved.Receiver)

	s.logger.Info("connection request resolved",
		"request_id", requestID,
		"status", decision)
	return *resolved, nil
}
