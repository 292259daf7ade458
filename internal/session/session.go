// ABOUTME: ConversationSession: message history for the one open conversation
// ABOUTME: Tickets tag in-flight history loads so stale results are discarded

// Package session scopes message history to a single open conversation.
package session

import (
	"log/slog"

	"github.com/2389/coven-inbox/internal/chat"
)

// Ticket identifies one Open call. A load result is only applied if its
// ticket is still current.
type Ticket struct {
	ConversationID string
	Generation     uint64
}

// Session holds at most one conversation's history. Not safe for concurrent
// use; the inbox engine owns it on its event loop.
type Session struct {
	current  Ticket
	open     bool
	loaded   bool
	messages []chat.Message
	logger   *slog.Logger
}

// New creates a closed session. Pass nil logger for default.
func New(logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{logger: logger.With("component", "session")}
}

// Open switches to conversationID, discarding any previous history, and
// returns the ticket the history load must present.
func (s *Session) Open(conversationID string) Ticket {
	s.current = Ticket{ConversationID: conversationID, Generation: s.current.Generation + 1}
	s.open = true
	s.loaded = false
	s.messages = nil
	s.logger.Debug("session opened", "conversation_id", conversationID, "generation", s.current.Generation)
	return s.current
}

// Close discards history.
func (s *Session) Close() {
	if s.open {
		s.logger.Debug("session closed", "conversation_id", s.current.ConversationID)
	}
	s.current.Generation++
	s.current.ConversationID = ""
	s.open = false
	s.loaded = false
	s.messages = nil
}

// Current reports the ticket of the open session.
func (s *Session) Current() (Ticket, bool) { return s.current, s.open }

// ConversationID returns the open conversation, or "".
func (s *Session) ConversationID() string {
	if !s.open {
		return ""
	}
	return s.current.ConversationID
}

// IsOpen reports whether conversationID is the open conversation.
func (s *Session) IsOpen(conversationID string) bool {
	return s.open && s.current.ConversationID == conversationID
}

// Loaded reports whether the history load for the open session completed.
func (s *Session) Loaded() bool { return s.loaded }

// Load installs fetched history. Messages appended locally while the load was
// in flight and missing from the listing are kept after it, in their
// original order.
func (s *Session) Load(t Ticket, history []chat.Message) error {
	if !s.open || t != s.current {
		s.logger.Debug("discarding stale history",
			"conversation_id", t.ConversationID,
			"generation", t.Generation)
		return chat.ErrStaleSessionResult
	}

	merged := make([]chat.Message, 0, len(history)+len(s.messages))
	seen := make(map[string]struct{}, len(history))
	for _, m := range history {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		merged = append(merged, m)
	}
	for _, m := range s.messages {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		merged = append(merged, m)
	}
	s.messages = merged
	s.loaded = true
	return nil
}

// Append adds msg to the open conversation's history unless a message with
// the same ID is already there. It reports whether msg was added.
func (s *Session) Append(msg chat.Message) bool {
	if !s.IsOpen(msg.ConversationID) || s.index(msg.ID) >= 0 {
		return false
	}
	s.messages = append(s.messages, msg)
	return true
}

// Has reports whether a message with id is in the history.
func (s *Session) Has(id string) bool { return s.index(id) >= 0 }

// Swap replaces the message with tempID by confirmed, in place. If the
// confirmed ID is already present (its echo arrived first) that copy is
// dropped so exactly one remains, at the provisional position.
func (s *Session) Swap(tempID string, confirmed chat.Message) bool {
	i := s.index(tempID)
	if i < 0 {
		return false
	}
	confirmed.IsProvisional = false
	s.messages[i] = confirmed

	for j := range s.messages {
		if j != i && s.messages[j].ID == confirmed.ID {
			s.messages = append(s.messages[:j], s.messages[j+1:]...)
			break
		}
	}
	return true
}

// Remove drops the message with id. Reports whether it was found.
func (s *Session) Remove(id string) bool {
	i := s.index(id)
	if i < 0 {
		return false
	}
	s.messages = append(s.messages[:i], s.messages[i+1:]...)
	return true
}

// Messages returns a copy of the history in display order.
func (s *Session) Messages() []chat.Message {
	out := make([]chat.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *Session) index(id string) int {
	for i, m := range s.messages {
		if m.ID == id {
			return i
		}
	}
	return -1
}
