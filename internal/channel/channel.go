// ABOUTME: MessageChannel: one authenticated push connection per active identity
// ABOUTME: Owns the subscription registry and releases it on Disconnect

package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-inbox/internal/chat"
)

var (
	// ErrAlreadyOpen is returned by Connect while a channel is live.
	ErrAlreadyOpen = errors.New("channel already open")
	// ErrUnknownEvent is returned when subscribing to a name outside the event contract.
	ErrUnknownEvent = errors.New("unknown event type")
)

// Stream is one open transport connection. Events is closed when the
// connection ends for any reason.
type Stream interface {
	Events() <-chan chat.Envelope
	Close() error
}

// Transport opens streams for a user. Reconnect policy lives in Channel.
type Transport interface {
	Open(ctx context.Context, userID string) (Stream, error)
}

// Handler receives decoded events. Handlers run on the channel's pump
// goroutine, one at a time, and must not call Disconnect.
type Handler func(chat.Event)

// SubscriptionID identifies a registration for Off.
type SubscriptionID string

// State of the channel.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Options tunes reconnect behaviour.
type Options struct {
	ReconnectInterval    time.Duration
	MaxReconnectInterval time.Duration
	// OnStateChange is called from the pump goroutine on every transition.
	OnStateChange func(State)
}

type subscription struct {
	id      SubscriptionID
	handler Handler
}

// Channel is the single push connection for the active identity.
type Channel struct {
	transport Transport
	opts      Options
	logger    *slog.Logger

	mu       sync.Mutex
	identity string
	state    State
	lastErr  error
	subs     map[string][]subscription // event type -> handlers in registration order
	cancel   context.CancelFunc
	done     chan struct{}
}

// New creates a disconnected channel. Pass nil logger for default.
func New(transport Transport, opts Options, logger *slog.Logger) *Channel {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = time.Second
	}
	if opts.MaxReconnectInterval < opts.ReconnectInterval {
		opts.MaxReconnectInterval = 30 * time.Second
		if opts.MaxReconnectInterval < opts.ReconnectInterval {
			opts.MaxReconnectInterval = opts.ReconnectInterval
		}
	}
	return &Channel{
		transport: transport,
		opts:      opts,
		logger:    logger.With("component", "channel"),
		subs:      make(map[string][]subscription),
	}
}

// On registers handler for eventType. Subscriptions may be made before
// Connect so that no early event is missed.
func (c *Channel) On(eventType string, handler Handler) (SubscriptionID, error) {
	if !chat.KnownEvent(eventType) {
		return "", fmt.Errorf("%w: %q", ErrUnknownEvent, eventType)
	}
	id := SubscriptionID(uuid.New().String())

	c.mu.Lock()
	c.subs[eventType] = append(c.subs[eventType], subscription{id: id, handler: handler})
	c.mu.Unlock()

	c.logger.Debug("subscriber added", "event", eventType, "sub_id", id)
	return id, nil
}

// Off removes a registration. Unknown IDs are ignored.
func (c *Channel) Off(eventType string, id SubscriptionID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	subs := c.subs[eventType]
	for i, s := range subs {
		if s.id == id {
			c.subs[eventType] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(c.subs[eventType]) == 0 {
		delete(c.subs, eventType)
	}
}

// Subscribers returns how many handlers are registered for eventType.
func (c *Channel) Subscribers(eventType string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs[eventType])
}

// Connect starts the channel for userID. Transport failures are not returned:
// the channel keeps retrying in the background and Err reports
// chat.ErrChannelUnavailable meanwhile.
func (c *Channel) Connect(ctx context.Context, userID string) error {
	if userID == "" {
		return chat.ErrNoIdentity
	}

	c.mu.Lock()
	if c.cancel != nil {
		open := c.identity
		c.mu.Unlock()
		return fmt.Errorf("%w for %q", ErrAlreadyOpen, open)
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.identity = userID
	c.cancel = cancel
	c.done = done
	c.lastErr = nil
	c.mu.Unlock()

	c.logger.Info("channel connecting", "user_id", userID)
	go c.pump(runCtx, userID, done)
	return nil
}

// Disconnect tears the channel down, waits for the pump to exit and
// releases every subscription. Safe to call when not connected.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	cancel, done, identity := c.cancel, c.done, c.identity
	c.cancel = nil
	c.done = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	c.mu.Lock()
	c.subs = make(map[string][]subscription)
	c.identity = ""
	c.lastErr = nil
	c.mu.Unlock()

	if cancel != nil {
		c.logger.Info("channel disconnected", "user_id", identity)
	}
}

// Identity returns the user the channel is open for, or "".
func (c *Channel) Identity() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns nil while connected, otherwise an error wrapping
// chat.ErrChannelUnavailable and the last transport failure if any.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateConnected {
		return nil
	}
	if c.lastErr != nil {
		return fmt.Errorf("%w: %v", chat.ErrChannelUnavailable, c.lastErr)
	}
	return chat.ErrChannelUnavailable
}

func (c *Channel) setState(s State, cause error) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	if cause != nil {
		c.lastErr = cause
	}
	c.mu.Unlock()

	if changed && c.opts.OnStateChange != nil {
		c.opts.OnStateChange(s)
	}
}

// pump owns the stream for one Connect call: open, read, reopen with backoff.
func (c *Channel) pump(ctx context.Context, userID string, done chan struct{}) {
	defer close(done)
	defer c.setState(StateDisconnected, nil)

	c.setState(StateConnecting, nil)
	backoff := c.opts.ReconnectInterval

	for {
		stream, err := c.transport.Open(ctx, userID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.setState(StateConnecting, err)
			c.logger.Warn("channel open failed, retrying",
				"user_id", userID,
				"error", err,
				"retry_in", backoff)
			if !sleep(ctx, backoff) {
				return
			}
			backoff = min(backoff*2, c.opts.MaxReconnectInterval)
			continue
		}

		c.setState(StateConnected, nil)
		backoff = c.opts.ReconnectInterval
		c.logger.Info("channel connected", "user_id", userID)

		c.read(ctx, stream)
		if err := stream.Close(); err != nil {
			c.logger.Debug("closing stream", "error", err)
		}
		if ctx.Err() != nil {
			return
		}

		c.setState(StateConnecting, errors.New("stream closed"))
		c.logger.Warn("channel lost, reconnecting", "user_id", userID, "retry_in", backoff)
		if !sleep(ctx, backoff) {
			return
		}
	}
}

func (c *Channel) read(ctx context.Context, stream Stream) {
	events := stream.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-events:
			if !ok {
				return
			}
			ev, err := chat.DecodeEvent(env)
			if err != nil {
				c.logger.Warn("dropping undecodable event", "type", env.Type, "error", err)
				continue
			}
			c.dispatch(ev)
		}
	}
}

func (c *Channel) dispatch(ev chat.Event) {
	c.mu.Lock()
	subs := make([]subscription, len(c.subs[ev.EventType()]))
	copy(subs, c.subs[ev.EventType()])
	c.mu.Unlock()

	for _, s := range subs {
		s.handler(ev)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
