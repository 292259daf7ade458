// ABOUTME: demo subcommand: drives three inbox clients through the core inbox flows
// ABOUTME: In-process gateway on an ephemeral port, clients connected over real websockets

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/pflag"

	"github.com/2389/coven-inbox/internal/channel"
	"github.com/2389/coven-inbox/internal/chat"
	"github.com/2389/coven-inbox/internal/config"
	"github.com/2389/coven-inbox/internal/gateway"
	"github.com/2389/coven-inbox/internal/inbox"
	"github.com/2389/coven-inbox/internal/transport/wsconn"
)

const demoWait = 5 * time.Second

var demoUsers = []struct{ id, name string }{
	{"alice", "Alice"},
	{"bob", "Bob"},
	{"carol", "Carol"},
}

func runDemo(ctx context.Context, args []string) error {
	var configPath string
	var verbose bool

	flagSet := pflag.NewFlagSet("demo", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "config file for channel, dedupe and database driver settings")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "show debug logs")
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	demoConfig(cfg)

	level := "warn"
	if verbose {
		level = "debug"
	}
	logger := newLogger(config.LoggingConfig{Level: level, Format: cfg.Logging.Format}, os.Stderr)

	color.New(color.FgCyan).Print(banner)
	fmt.Println()

	d, err := newDemo(ctx, cfg, os.Stdout, logger)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Run(ctx)
}

// demoConfig points cfg at a throwaway backend.
func demoConfig(cfg *config.Config) {
	cfg.Server.HTTPAddr = "127.0.0.1:0"
	cfg.Database.Path = ":memory:"
	cfg.Auth.JWTSecret = ""
}

type demo struct {
	out     io.Writer
	gw      *gateway.Gateway
	clients map[string]*inbox.Client
	logger  *slog.Logger

	cancel context.CancelFunc
	done   chan error

	// carolBob is the conversation set up before the clients sign in.
	carolBob string
	failed   int
}

func newDemo(ctx context.Context, cfg *config.Config, out io.Writer, logger *slog.Logger) (*demo, error) {
	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("creating gateway: %w", err)
	}
	if err := gw.Listen(); err != nil {
		_ = gw.Shutdown(context.Background())
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	d := &demo{
		out:     out,
		gw:      gw,
		clients: make(map[string]*inbox.Client),
		logger:  logger,
		cancel:  cancel,
		done:    make(chan error, 1),
	}
	go func() { d.done <- gw.Run(runCtx) }()

	if err := d.seed(ctx); err != nil {
		d.Close()
		return nil, err
	}

	transport := wsconn.New(gw.ChannelURL(), func(ctx context.Context, userID string) (string, error) {
		return gw.IssueToken(userID)
	}, logger, wsconn.WithBuffer(cfg.Channel.BufferSize))

	opts := inbox.Options{
		Channel: channel.Options{
			ReconnectInterval:    cfg.Channel.ReconnectInterval,
			MaxReconnectInterval: cfg.Channel.MaxReconnectInterval,
		},
		DedupeTTL:  cfg.Dedupe.TTL,
		DedupeSize: cfg.Dedupe.MaxSize,
	}
	for _, u := range demoUsers {
		c := inbox.New(transport, opts, logger)
		d.clients[u.id] = c
		if err := c.SetIdentity(ctx, u.id, gw.Service().Client(u.id)); err != nil {
			d.Close()
			return nil, fmt.Errorf("signing in %s: %w", u.id, err)
		}
	}
	return d, nil
}

// seed registers the users and connects carol with bob server-side, so bob
// starts with one conversation in his sidebar.
func (d *demo) seed(ctx context.Context) error {
	svc := d.gw.Service()
	for _, u := range demoUsers {
		if _, err := svc.RegisterUser(ctx, u.id, u.name, ""); err != nil {
			return fmt.Errorf("registering %s: %w", u.id, err)
		}
	}
	req, err := svc.SendRequest(ctx, "carol", "bob", "hey bob")
	if err != nil {
		return fmt.Errorf("seeding request: %w", err)
	}
	if _, err := svc.ResolveRequest(ctx, "bob", req.ID, chat.StatusAccepted); err != nil {
		return fmt.Errorf("seeding accept: %w", err)
	}
	convs, err := svc.ListConversations(ctx, "carol")
	if err != nil || len(convs) != 1 {
		return fmt.Errorf("seeding conversation: %v", err)
	}
	d.carolBob = convs[0].ID
	return nil
}

// Close signs every client out and stops the gateway.
func (d *demo) Close() {
	for _, c := range d.clients {
		c.Close()
	}
	d.cancel()
	select {
	case err := <-d.done:
		if err != nil {
			d.logger.Warn("gateway stopped with error", "error", err)
		}
	case <-time.After(demoWait):
		d.logger.Warn("gateway did not stop in time")
	}
}

func (d *demo) section(title string) {
	fmt.Fprintln(d.out)
	fmt.Fprintln(d.out, color.New(color.FgCyan, color.Bold).Sprint(title))
}

func (d *demo) pass(format string, args ...any) {
	fmt.Fprintf(d.out, "  %s %s\n", color.GreenString("✓"), fmt.Sprintf(format, args...))
}

func (d *demo) fail(format string, args ...any) {
	d.failed++
	fmt.Fprintf(d.out, "  %s %s\n", color.RedString("✗"), fmt.Sprintf(format, args...))
}

// expect polls cond until it holds or the wait runs out.
func (d *demo) expect(ctx context.Context, desc string, cond func() bool) bool {
	deadline := time.NewTimer(demoWait)
	defer deadline.Stop()
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	for {
		if cond() {
			d.pass("%s", desc)
			return true
		}
		select {
		case <-ctx.Done():
			d.fail("%s (%v)", desc, ctx.Err())
			return false
		case <-deadline.C:
			d.fail("%s (timed out)", desc)
			return false
		case <-tick.C:
		}
	}
}

func conversationWith(c *inbox.Client, partnerID string) (chat.Conversation, bool) {
	for _, conv := range c.Conversations() {
		if conv.Partner.ID == partnerID {
			return conv, true
		}
	}
	return chat.Conversation{}, false
}

// Run plays the flows in order. Later sections build on earlier state.
func (d *demo) Run(ctx context.Context) error {
	alice, bob, carol := d.clients["alice"], d.clients["bob"], d.clients["carol"]

	d.section("Presence")
	for id, c := range d.clients {
		d.expect(ctx, id+"'s channel is connected", func() bool {
			return c.ChannelState() == channel.StateConnected
		})
	}
	d.expect(ctx, "alice sees bob and carol online", func() bool {
		return alice.IsOnline("bob") && alice.IsOnline("carol")
	})

	d.section("Crossing connection requests")
	req, err := alice.SendRequest(ctx, "bob", "hi bob, it's alice")
	if err != nil {
		d.fail("alice sends bob a request: %v", err)
		return d.result()
	}
	d.pass("alice sends bob a request (%s)", req.ID)
	d.expect(ctx, "bob receives the request", func() bool {
		for _, r := range bob.IncomingRequests() {
			if r.ID == req.ID {
				return true
			}
		}
		return false
	})
	if _, err := bob.SendRequest(ctx, "alice", "hi alice"); errors.Is(err, chat.ErrRequestPending) {
		d.pass("bob's request to alice fails: %v", err)
	} else {
		d.fail("bob's request to alice should fail with request pending, got %v", err)
	}

	d.section("Accepting a request")
	resolved, err := bob.ResolveRequest(ctx, req.ID, chat.StatusAccepted)
	if err != nil {
		d.fail("bob accepts: %v", err)
		return d.result()
	}
	if resolved.Status == chat.StatusAccepted {
		d.pass("request status is %s", resolved.Status)
	} else {
		d.fail("request status is %s, want %s", resolved.Status, chat.StatusAccepted)
	}
	d.expect(ctx, "bob's store has a conversation with alice", func() bool {
		_, ok := conversationWith(bob, "alice")
		return ok
	})
	d.expect(ctx, "alice's store has a conversation with bob", func() bool {
		_, ok := conversationWith(alice, "bob")
		return ok
	})
	d.expect(ctx, "alice saw the resolution (no outgoing request left)", func() bool {
		return len(alice.OutgoingRequests()) == 0
	})
	if _, err := carol.ResolveRequest(ctx, req.ID, chat.StatusRejected); err != nil {
		d.pass("carol cannot resolve it: %v", err)
	} else {
		d.fail("carol resolved a request addressed to bob")
	}

	conv, ok := conversationWith(alice, "bob")
	if !ok {
		return d.result()
	}
	if _, err := d.gw.Service().SendMessage(ctx, "carol", d.carolBob, "ping from carol"); err != nil {
		d.fail("carol messages bob: %v", err)
	}
	d.expect(ctx, "carol's conversation is on top of bob's list", func() bool {
		convs := bob.Conversations()
		return len(convs) == 2 && convs[0].ID == d.carolBob
	})

	d.section("Optimistic send")
	if err := alice.OpenSession(ctx, conv.ID); err != nil {
		d.fail("alice opens the conversation: %v", err)
		return d.result()
	}
	d.pass("alice opens the conversation (history loaded: %t)", alice.HistoryLoaded())
	sent, err := alice.SendMessage(ctx, conv.ID, "hello")
	if err != nil {
		d.fail("alice sends hello: %v", err)
		return d.result()
	}
	d.pass("server confirmed the message as %s", sent.ID)
	msgs := alice.Messages()
	if len(msgs) == 1 && msgs[0].ID == sent.ID && !msgs[0].IsProvisional {
		d.pass("history holds exactly one confirmed message")
	} else {
		d.fail("history = %d messages, want one confirmed %s", len(msgs), sent.ID)
	}
	if c, _ := alice.Conversation(conv.ID); c.UnreadCount == 0 {
		d.pass("alice's unread count is 0")
	} else {
		d.fail("alice's unread count is %d, want 0", c.UnreadCount)
	}

	d.section("Receiving while not viewing")
	d.expect(ctx, "bob's unread count goes to 1", func() bool {
		c, ok := bob.Conversation(conv.ID)
		return ok && c.UnreadCount == 1
	})
	d.expect(ctx, "alice's conversation moves to the top of bob's list", func() bool {
		convs := bob.Conversations()
		return len(convs) == 2 && convs[0].ID == conv.ID
	})
	d.expect(ctx, "bob's total unread is 2 (alice and carol)", func() bool {
		return bob.TotalUnread() == 2
	})
	if err := bob.OpenSession(ctx, conv.ID); err != nil {
		d.fail("bob opens the conversation: %v", err)
	} else {
		c, _ := bob.Conversation(conv.ID)
		if c.UnreadCount == 0 {
			d.pass("opening it marks it read")
		} else {
			d.fail("unread after opening = %d, want 0", c.UnreadCount)
		}
	}

	return d.result()
}

func (d *demo) result() error {
	fmt.Fprintln(d.out)
	if d.failed > 0 {
		return fmt.Errorf("%d checks failed", d.failed)
	}
	fmt.Fprintln(d.out, color.GreenString("All checks passed."))
	return nil
}
