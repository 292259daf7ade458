// ABOUTME: Core data types shared by every inbox component
// ABOUTME: Conversation, Message, ConnectionRequest and the request state machine

package chat

import (
	"fmt"
	"strings"
	"time"
)

// Partner is the other participant of a one-to-one conversation.
type Partner struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatar,omitempty"`
	// Online is derived from presence when a view is built. It is never stored.
	Online bool `json:"online"`
}

// Message is a single chat message. Provisional messages carry a local
// temporary ID until the server confirms them.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Sender         string    `json:"sender"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
	IsRead         bool      `json:"isRead"`
	IsProvisional  bool      `json:"-"`
}

// Conversation is the sidebar summary of a conversation.
type Conversation struct {
	ID          string    `json:"id"`
	Partner     Partner   `json:"partner"`
	LastMessage *Message  `json:"lastMessage,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
	UnreadCount int       `json:"unreadCount"`
}

// Clone returns a deep copy so callers can't mutate store state.
func (c Conversation) Clone() Conversation {
	if c.LastMessage != nil {
		m := *c.LastMessage
		c.LastMessage = &m
	}
	return c
}

// RequestStatus is the state of a ConnectionRequest.
type RequestStatus string

// Request states. REJECTED and ACCEPTED are terminal.
const (
	StatusPending  RequestStatus = "PENDING"
	StatusAccepted RequestStatus = "ACCEPTED"
	StatusRejected RequestStatus = "REJECTED"
)

// Terminal reports whether no further transitions are possible.
func (s RequestStatus) Terminal() bool {
	return s == StatusAccepted || s == StatusRejected
}

// Transition validates moving from s to next.
func (s RequestStatus) Transition(next RequestStatus) error {
	switch {
	case s == StatusPending && (next == StatusAccepted || next == StatusRejected):
		return nil
	case s.Terminal():
		return fmt.Errorf("%w: %s -> %s", ErrRequestAlreadyResolved, s, next)
	default:
		return fmt.Errorf("%w: %s -> %s", ErrInvalidDecision, s, next)
	}
}

// ParseDecision converts user input into a resolving status.
func ParseDecision(s string) (RequestStatus, error) {
	switch RequestStatus(strings.ToUpper(strings.TrimSpace(s))) {
	case StatusAccepted:
		return StatusAccepted, nil
	case StatusRejected:
		return StatusRejected, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidDecision, s)
}

// ConnectionRequest asks the receiver to open a conversation with the initiator.
type ConnectionRequest struct {
	ID        string        `json:"id"`
	Initiator string        `json:"initiator"`
	Receiver  string        `json:"receiver"`
	Message   string        `json:"message,omitempty"`
	Status    RequestStatus `json:"status"`
	CreatedAt time.Time     `json:"createdAt"`
}

// Involves reports whether userID is either side of the request.
func (r ConnectionRequest) Involves(userID string) bool {
	return r.Initiator == userID || r.Receiver == userID
}

// PairKey is the same for (a, b) and (b, a).
func PairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

// ValidateContent rejects empty and whitespace-only message bodies.
func ValidateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}
	return nil
}
