// ABOUTME: Channel event names, payloads and the JSON wire envelope
// ABOUTME: Names and payload field names are a compatibility contract with the server

package chat

import (
	"encoding/json"
	"fmt"
)

// Channel event names.
const (
	EventPresenceUpdate            = "presenceUpdate"
	EventMessageReceived           = "messageReceived"
	EventConnectionRequestReceived = "connectionRequestReceived"
	EventConnectionRequestResolved = "connectionRequestResolved"
)

// EventTypes lists every event a channel can deliver.
var EventTypes = []string{
	EventPresenceUpdate,
	EventMessageReceived,
	EventConnectionRequestReceived,
	EventConnectionRequestResolved,
}

// KnownEvent reports whether name is part of the channel contract.
func KnownEvent(name string) bool {
	for _, t := range EventTypes {
		if t == name {
			return true
		}
	}
	return false
}

// Event is a decoded channel event.
type Event interface {
	EventType() string
}

// PresenceUpdate carries the full current online set, not a delta.
type PresenceUpdate struct {
	OnlineUserIDs []string `json:"onlineUserIds"`
}

// MessageReceived is pushed for every persisted message, including the
// sender's own echo.
type MessageReceived struct {
	Message
}

// ConnectionRequestReceived is pushed to the receiver of a new request.
type ConnectionRequestReceived struct {
	Request       ConnectionRequest `json:"request"`
	InitiatorName string            `json:"initiatorName"`
}

// ConnectionRequestResolved is pushed to the initiator once the receiver decides.
type ConnectionRequestResolved struct {
	Request      ConnectionRequest `json:"request"`
	AccepterName string            `json:"accepterName"`
}

func (PresenceUpdate) EventType() string            { return EventPresenceUpdate }
func (MessageReceived) EventType() string           { return EventMessageReceived }
func (ConnectionRequestReceived) EventType() string { return EventConnectionRequestReceived }
func (ConnectionRequestResolved) EventType() string { return EventConnectionRequestResolved }

// Envelope is the wire frame: {"type": ..., "payload": {...}}.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// EncodeEvent wraps ev in an envelope.
func EncodeEvent(ev Event) (Envelope, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return Envelope{}, fmt.Errorf("encoding %s: %w", ev.EventType(), err)
	}
	return Envelope{Type: ev.EventType(), Payload: payload}, nil
}

// DecodeEvent parses an envelope into its typed event.
func DecodeEvent(env Envelope) (Event, error) {
	var (
		ev  Event
		err error
	)
	switch env.Type {
	case EventPresenceUpdate:
		var p PresenceUpdate
		err = json.Unmarshal(env.Payload, &p)
		ev = p
	case EventMessageReceived:
		var p MessageReceived
		err = json.Unmarshal(env.Payload, &p)
		ev = p
	case EventConnectionRequestReceived:
		var p ConnectionRequestReceived
		err = json.Unmarshal(env.Payload, &p)
		ev = p
	case EventConnectionRequestResolved:
		var p ConnectionRequestResolved
		err = json.Unmarshal(env.Payload, &p)
		ev = p
	default:
		return nil, fmt.Errorf("unknown event type %q", env.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", env.Type, err)
	}
	return ev, nil
}
