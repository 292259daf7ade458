// ABOUTME: Websocket implementation of channel.Transport
// ABOUTME: Dials the server's channel endpoint with a bearer token and decodes JSON envelopes

// Package wsconn connects the inbox push channel to a server over websockets.
package wsconn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/coven-inbox/internal/channel"
	"github.com/2389/coven-inbox/internal/chat"
)

const (
	writeWait     = 10 * time.Second
	defaultBuffer = 64
)

// TokenSource returns a bearer token for userID.
type TokenSource func(ctx context.Context, userID string) (string, error)

// Transport dials url for each Open.
type Transport struct {
	url    string
	tokens TokenSource
	dialer *websocket.Dialer
	buffer int
	logger *slog.Logger
}

// Option configures a Transport.
type Option func(*Transport)

// WithDialer overrides websocket.DefaultDialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(t *Transport) { t.dialer = d }
}

// WithBuffer sets the per-stream event buffer.
func WithBuffer(n int) Option {
	return func(t *Transport) {
		if n > 0 {
			t.buffer = n
		}
	}
}

// New creates a transport for the ws:// or wss:// url.
func New(url string, tokens TokenSource, logger *slog.Logger, opts ...Option) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Transport{
		url:    url,
		tokens: tokens,
		dialer: websocket.DefaultDialer,
		buffer: defaultBuffer,
		logger: logger.With("component", "wsconn"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Open dials the endpoint as userID.
func (t *Transport) Open(ctx context.Context, userID string) (channel.Stream, error) {
	header := http.Header{}
	if t.tokens != nil {
		token, err := t.tokens(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("getting channel token: %w", err)
		}
		header.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := t.dialer.DialContext(ctx, t.url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dialing %s: %w (status %d)", t.url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dialing %s: %w", t.url, err)
	}

	s := &stream{
		conn:   conn,
		events: make(chan chat.Envelope, t.buffer),
		closed: make(chan struct{}),
		logger: t.logger.With("user_id", userID),
	}
	go s.readLoop()
	return s, nil
}

type stream struct {
	conn   *websocket.Conn
	events chan chat.Envelope
	closed chan struct{}
	once   sync.Once
	logger *slog.Logger
}

func (s *stream) Events() <-chan chat.Envelope { return s.events }

func (s *stream) readLoop() {
	defer close(s.events)
	for {
		var env chat.Envelope
		if err := s.conn.ReadJSON(&env); err != nil {
			var closeErr *websocket.CloseError
			switch {
			case errors.As(err, &closeErr):
				s.logger.Debug("server closed stream", "code", closeErr.Code, "reason", closeErr.Text)
			default:
				select {
				case <-s.closed:
				default:
					s.logger.Debug("stream read failed", "error", err)
				}
			}
			return
		}
		select {
		case s.events <- env:
		case <-s.closed:
			return
		}
	}
}

// Close sends a close frame and releases the connection. Idempotent.
func (s *stream) Close() error {
	var err error
	s.once.Do(func() {
		close(s.closed)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		err = s.conn.Close()
	})
	return err
}

var _ channel.Transport = (*Transport)(nil)
