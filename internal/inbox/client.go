// ABOUTME: Inbox client engine: single event loop owning all conversation state
// ABOUTME: Wires channel, presence, store, session, reconciler and request lifecycle per identity

package inbox

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/2389/coven-inbox/internal/api"
	"github.com/2389/coven-inbox/internal/channel"
	"github.com/2389/coven-inbox/internal/chat"
	"github.com/2389/coven-inbox/internal/conversation"
	"github.com/2389/coven-inbox/internal/dedupe"
	"github.com/2389/coven-inbox/internal/presence"
	"github.com/2389/coven-inbox/internal/reconcile"
	"github.com/2389/coven-inbox/internal/requests"
	"github.com/2389/coven-inbox/internal/session"
)

// ErrClosed is returned by actions after Close.
var ErrClosed = errors.New("inbox client closed")

const opsBufferSize = 256

// Options configures a Client. Zero values pick sensible defaults.
type Options struct {
	Channel        channel.Options
	DedupeTTL      time.Duration
	DedupeSize     int
	RequestTimeout time.Duration
	Now            func() time.Time
}

func (o *Options) defaults() {
	if o.DedupeTTL <= 0 {
		o.DedupeTTL = 10 * time.Minute
	}
	if o.DedupeSize <= 0 {
		o.DedupeSize = 10000
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 15 * time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Client is the engine behind the UI. Every mutation of conversation state
// runs on one event loop goroutine; user actions, channel events and async
// completions are all posted to it. Views may be read from any goroutine.
type Client struct {
	transport channel.Transport
	opts      Options
	logger    *slog.Logger

	presence   *presence.Tracker
	store      *conversation.Store
	session    *session.Session
	requests   *requests.Lifecycle
	reconciler *reconcile.Reconciler
	seen       *dedupe.Cache

	identityMu sync.Mutex // serializes SetIdentity/Logout
	channel    atomic.Pointer[channel.Channel]

	ops     chan func()
	changes chan struct{}
	quit    chan struct{}
	done    chan struct{}
	closing sync.Once

	// Owned by the loop.
	identity      string
	api           api.Client
	epoch         uint64
	resyncing     bool
	resyncAgain   bool
	everConnected bool
}

// New creates a client and starts its event loop. Call SetIdentity to sign
// in and Close to release everything.
func New(transport channel.Transport, opts Options, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	opts.defaults()

	c := &Client{
		transport: transport,
		opts:      opts,
		logger:    logger.With("component", "inbox"),
		ops:       make(chan func(), opsBufferSize),
		changes:   make(chan struct{}, 1),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	c.presence = presence.NewTracker(logger)
	c.store = conversation.NewStore(c.presence, logger, conversation.WithClock(opts.Now))
	c.session = session.New(logger)
	c.requests = requests.New(c.store, logger)
	c.seen = dedupe.New(opts.DedupeTTL, opts.DedupeSize)
	c.reconciler = reconcile.New(c.store, c.session, c.seen, logger, reconcile.WithClock(opts.Now))

	go c.run()
	return c
}

func (c *Client) run() {
	defer close(c.done)
	for {
		select {
		case op := <-c.ops:
			op()
		case <-c.quit:
			return
		}
	}
}

// post queues op on the loop. False means the client is closed.
func (c *Client) post(op func()) bool {
	select {
	case <-c.quit:
		return false
	default:
	}
	select {
	case c.ops <- op:
		return true
	case <-c.quit:
		return false
	}
}

// do runs op on the loop and waits for it.
func (c *Client) do(ctx context.Context, op func()) error {
	finished := make(chan struct{})
	if !c.post(func() { op(); close(finished) }) {
		return ErrClosed
	}
	select {
	case <-finished:
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Changes delivers a coalesced signal whenever any view may have changed.
func (c *Client) Changes() <-chan struct{} { return c.changes }

func (c *Client) notify() {
	select {
	case c.changes <- struct{}{}:
	default:
	}
}

// SetIdentity signs userID in using a. Any previous identity is torn down
// first: its channel is fully disconnected before the new one connects, and
// all conversation, session, presence and request state is cleared.
// The returned error reports a failed initial sync; the identity stays active.
func (c *Client) SetIdentity(ctx context.Context, userID string, a api.Client) error {
	if userID == "" || a == nil {
		return chat.ErrNoIdentity
	}
	c.identityMu.Lock()
	defer c.identityMu.Unlock()

	if err := c.teardown(ctx); err != nil {
		return err
	}

	var epoch uint64
	if err := c.do(ctx, func() {
		c.identity = userID
		c.api = a
		c.store.Reset(userID)
		c.requests.Reset(userID)
		epoch = c.epoch
	}); err != nil {
		return err
	}

	ch := c.newChannel(epoch)
	if err := c.subscribe(ch, epoch); err != nil {
		return err
	}
	if err := ch.Connect(context.WithoutCancel(ctx), userID); err != nil {
		return err
	}
	c.channel.Store(ch)
	c.logger.Info("identity set", "user_id", userID)

	return c.Sync(ctx)
}

// Logout tears down the active identity.
func (c *Client) Logout(ctx context.Context) error {
	c.identityMu.Lock()
	defer c.identityMu.Unlock()
	return c.teardown(ctx)
}

// teardown clears state on the loop, then disconnects the old channel
// outside it so a pump blocked on post can drain.
func (c *Client) teardown(ctx context.Context) error {
	var prev string
	if err := c.do(ctx, func() {
		prev = c.identity
		c.epoch++
		c.identity = ""
		c.api = nil
		c.resyncing = false
		c.resyncAgain = false
		c.everConnected = false
		c.session.Close()
		c.store.Reset("")
		c.requests.Reset("")
		c.presence.Reset()
		c.reconciler.Reset()
		c.notify()
	}); err != nil {
		return err
	}
	if ch := c.channel.Swap(nil); ch != nil {
		ch.Disconnect()
	}
	if prev != "" {
		c.logger.Info("identity cleared", "user_id", prev)
	}
	return nil
}

func (c *Client) newChannel(epoch uint64) *channel.Channel {
	opts := c.opts.Channel
	userHook := opts.OnStateChange
	opts.OnStateChange = func(s channel.State) {
		c.post(func() {
			if c.epoch != epoch {
				return
			}
			if s == channel.StateConnected {
				if c.everConnected {
					// Pushes were missed while the channel was down.
					c.resync()
					c.syncRequestsAsync()
				}
				c.everConnected = true
			}
			c.notify()
		})
		if userHook != nil {
			userHook(s)
		}
	}
	return channel.New(c.transport, opts, c.logger)
}

// subscribe registers the engine's handlers. Each one re-checks the epoch on
// the loop so an event from a previous identity is never applied.
func (c *Client) subscribe(ch *channel.Channel, epoch uint64) error {
	handlers := map[string]func(chat.Event){
		chat.EventPresenceUpdate: func(ev chat.Event) {
			c.presence.Apply(ev.(chat.PresenceUpdate))
		},
		chat.EventMessageReceived: func(ev chat.Event) {
			c.handleMessage(ev.(chat.MessageReceived).Message)
		},
		chat.EventConnectionRequestReceived: func(ev chat.Event) {
			c.requests.Received(ev.(chat.ConnectionRequestReceived))
		},
		chat.EventConnectionRequestResolved: func(ev chat.Event) {
			c.handleResolved(ev.(chat.ConnectionRequestResolved))
		},
	}
	for _, name := range chat.EventTypes {
		fn := handlers[name]
		if _, err := ch.On(name, func(ev chat.Event) {
			c.post(func() {
				if c.epoch != epoch {
					return
				}
				fn(ev)
				c.notify()
			})
		}); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) handleMessage(msg chat.Message) {
	res := c.reconciler.Receive(msg)
	if res.Unknown {
		c.logger.Debug("message for unknown conversation, resyncing",
			"conversation_id", msg.ConversationID)
		c.resync()
	}
}

func (c *Client) handleResolved(ev chat.ConnectionRequestResolved) {
	if err := c.requests.Resolved(ev); err != nil {
		c.logger.Warn("conflicting request resolution", "request_id", ev.Request.ID, "error", err)
		return
	}
	if ev.Request.Status == chat.StatusAccepted {
		c.resync()
	}
}

// resync refreshes the conversation list in the background. Concurrent
// requests coalesce into one follow-up fetch. Loop only.
func (c *Client) resync() {
	if c.api == nil {
		return
	}
	if c.resyncing {
		c.resyncAgain = true
		return
	}
	c.resyncing = true
	epoch, a := c.epoch, c.api

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.RequestTimeout)
		convs, err := a.ListConversations(ctx)
		cancel()

		c.post(func() {
			if c.epoch != epoch {
				return
			}
			c.resyncing = false
			if err != nil {
				c.logger.Warn("conversation resync failed", "error", err)
			} else {
				c.store.Replace(convs)
				c.notify()
			}
			if c.resyncAgain {
				c.resyncAgain = false
				c.resync()
			}
		})
	}()
}

// syncRequestsAsync refreshes pending requests in the background. Loop only.
func (c *Client) syncRequestsAsync() {
	if c.api == nil {
		return
	}
	epoch, a := c.epoch, c.api
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.RequestTimeout)
		defer cancel()
		list, err := a.ListPendingRequests(ctx)
		c.post(func() {
			if c.epoch != epoch {
				return
			}
			if err != nil {
				c.logger.Warn("request resync failed", "error", err)
				return
			}
			c.requests.Replace(list)
			c.notify()
		})
	}()
}

// current returns the api and epoch for an action, or ErrNoIdentity.
func (c *Client) current(ctx context.Context) (api.Client, uint64, error) {
	var (
		a     api.Client
		epoch uint64
	)
	if err := c.do(ctx, func() { a, epoch = c.api, c.epoch }); err != nil {
		return nil, 0, err
	}
	if a == nil {
		return nil, 0, chat.ErrNoIdentity
	}
	return a, epoch, nil
}

// Sync fetches the conversation list and pending requests and installs
// them. Results for an identity that is no longer active are dropped.
func (c *Client) Sync(ctx context.Context) error {
	a, epoch, err := c.current(ctx)
	if err != nil {
		return err
	}
	if err := c.syncConversations(ctx, a, epoch); err != nil {
		return err
	}

	list, err := a.ListPendingRequests(ctx)
	if err != nil {
		return api.FromStatus(err)
	}
	return c.do(ctx, func() {
		if c.epoch != epoch {
			return
		}
		c.requests.Replace(list)
		c.notify()
	})
}

func (c *Client) syncConversations(ctx context.Context, a api.Client, epoch uint64) error {
	convs, err := a.ListConversations(ctx)
	if err != nil {
		return api.FromStatus(err)
	}
	return c.do(ctx, func() {
		if c.epoch != epoch {
			return
		}
		c.store.Replace(convs)
		c.notify()
	})
}

// Close logs out and stops the loop.
func (c *Client) Close() {
	c.closing.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.RequestTimeout)
		defer cancel()
		if err := c.Logout(ctx); err != nil {
			c.logger.Debug("logout during close", "error", err)
		}
		close(c.quit)
		<-c.done
		c.seen.Close()
	})
}
