// ABOUTME: Client-side connection request state machine
// ABOUTME: Pre-flight checks for send/resolve plus application of server results and pushes

// Package requests tracks connection requests involving the active user.
package requests

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/2389/coven-inbox/internal/chat"
)

// Connections answers whether a conversation with a user already exists.
type Connections interface {
	HasPartner(userID string) bool
}

// Lifecycle holds the requests involving the active user. Not safe for
// concurrent use; the inbox engine owns it on its event loop.
type Lifecycle struct {
	selfID      string
	connections Connections
	byID        map[string]*chat.ConnectionRequest
	order       []string // insertion order
	logger      *slog.Logger
}

// New creates an empty lifecycle. Pass nil logger for default.
func New(connections Connections, logger *slog.Logger) *Lifecycle {
	if logger == nil {
		logger = slog.Default()
	}
	return &Lifecycle{
		connections: connections,
		byID:        make(map[string]*chat.ConnectionRequest),
		logger:      logger.With("component", "requests"),
	}
}

// Reset drops every request and binds to a new identity.
func (l *Lifecycle) Reset(selfID string) {
	l.selfID = selfID
	l.byID = make(map[string]*chat.ConnectionRequest)
	l.order = nil
}

// CheckSend validates a new request to receiverID before it is issued.
func (l *Lifecycle) CheckSend(receiverID string) error {
	if l.selfID == "" {
		return chat.ErrNoIdentity
	}
	if receiverID == "" || receiverID == l.selfID {
		return chat.ErrSelfRequest
	}
	if l.connections != nil && l.connections.HasPartner(receiverID) {
		return fmt.Errorf("%s: %w", receiverID, chat.ErrAlreadyConnected)
	}
	if r := l.pendingBetween(l.selfID, receiverID); r != nil {
		return fmt.Errorf("request %s: %w", r.ID, chat.ErrRequestPending)
	}
	return nil
}

// CheckResolve validates resolving requestID with decision.
func (l *Lifecycle) CheckResolve(requestID string, decision chat.RequestStatus) error {
	if decision != chat.StatusAccepted && decision != chat.StatusRejected {
		return fmt.Errorf("%w: %q", chat.ErrInvalidDecision, decision)
	}
	r, ok := l.byID[requestID]
	if !ok {
		return fmt.Errorf("request %s: %w", requestID, chat.ErrNotFound)
	}
	if r.Receiver != l.selfID {
		return fmt.Errorf("request %s: %w", requestID, chat.ErrNotReceiver)
	}
	return r.Status.Transition(decision)
}

// RecordSent stores a request the server just created for us.
func (l *Lifecycle) RecordSent(r chat.ConnectionRequest) {
	l.put(r)
}

// Replace installs the pending-request listing. Resolved requests already
// known locally are kept so conflicts can still be reported.
func (l *Lifecycle) Replace(list []chat.ConnectionRequest) {
	kept := make(map[string]*chat.ConnectionRequest)
	var order []string
	for _, id := range l.order {
		if r := l.byID[id]; r.Status.Terminal() {
			kept[id] = r
			order = append(order, id)
		}
	}
	l.byID, l.order = kept, order
	for _, r := range list {
		l.put(r)
	}
}

// Received applies a connectionRequestReceived push.
func (l *Lifecycle) Received(ev chat.ConnectionRequestReceived) {
	if !ev.Request.Involves(l.selfID) {
		l.logger.Warn("ignoring request for another user", "request_id", ev.Request.ID)
		return
	}
	l.put(ev.Request)
	l.logger.Info("connection request received",
		"request_id", ev.Request.ID,
		"from", ev.Request.Initiator,
		"initiator_name", ev.InitiatorName)
}

// Resolved applies a connectionRequestResolved push.
func (l *Lifecycle) Resolved(ev chat.ConnectionRequestResolved) error {
	if !ev.Request.Involves(l.selfID) {
		l.logger.Warn("ignoring resolution for another user", "request_id", ev.Request.ID)
		return nil
	}
	l.logger.Info("connection request resolved",
		"request_id", ev.Request.ID,
		"status", ev.Request.Status,
		"accepter_name", ev.AccepterName)
	return l.Apply(ev.Request)
}

// Apply records a server-side state for a request, validating the
// transition if the request was already known. Repeating the same terminal
// state is a no-op.
func (l *Lifecycle) Apply(r chat.ConnectionRequest) error {
	cur, ok := l.byID[r.ID]
	if !ok {
		l.put(r)
		return nil
	}
	if cur.Status == r.Status {
		return nil
	}
	if err := cur.Status.Transition(r.Status); err != nil {
		return err
	}
	cur.Status = r.Status
	return nil
}

// Get returns a request by ID.
func (l *Lifecycle) Get(requestID string) (chat.ConnectionRequest, bool) {
	r, ok := l.byID[requestID]
	if !ok {
		return chat.ConnectionRequest{}, false
	}
	return *r, true
}

// Incoming returns pending requests waiting for this user's decision.
func (l *Lifecycle) Incoming() []chat.ConnectionRequest {
	return l.filter(func(r *chat.ConnectionRequest) bool {
		return r.Status == chat.StatusPending && r.Receiver == l.selfID
	})
}

// Outgoing returns pending requests this user sent.
func (l *Lifecycle) Outgoing() []chat.ConnectionRequest {
	return l.filter(func(r *chat.ConnectionRequest) bool {
		return r.Status == chat.StatusPending && r.Initiator == l.selfID
	})
}

func (l *Lifecycle) filter(keep func(*chat.ConnectionRequest) bool) []chat.ConnectionRequest {
	var out []chat.ConnectionRequest
	for _, id := range l.order {
		if r := l.byID[id]; keep(r) {
			out = append(out, *r)
		}
	}
	return out
}

func (l *Lifecycle) pendingBetween(a, b string) *chat.ConnectionRequest {
	key := chat.PairKey(a, b)
	for _, id := range l.order {
		r := l.byID[id]
		if r.Status == chat.StatusPending && chat.PairKey(r.Initiator, r.Receiver) == key {
			return r
		}
	}
	return nil
}

func (l *Lifecycle) put(r chat.ConnectionRequest) {
	if cur, ok := l.byID[r.ID]; ok {
		*cur = r
		return
	}
	l.byID[r.ID] = &r
	if !slices.Contains(l.order, r.ID) {
		l.order = append(l.order, r.ID)
	}
}
