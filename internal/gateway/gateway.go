// ABOUTME: Gateway orchestrator for the reference inbox backend
// ABOUTME: Owns the store, hub, service and HTTP server (channel endpoint, user API, health)

package gateway

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/2389/coven-inbox/internal/auth"
	"github.com/2389/coven-inbox/internal/backend"
	"github.com/2389/coven-inbox/internal/config"
	"github.com/2389/coven-inbox/internal/store"
)

// EnvDBPath overrides database.path when set.
const EnvDBPath = "COVEN_INBOX_DB_PATH"

// Gateway orchestrates the reference backend components.
type Gateway struct {
	config     *config.Config
	store      store.Store
	hub        *backend.Hub
	service    *backend.Service
	verifier   *auth.JWTVerifier
	httpServer *http.Server
	logger     *slog.Logger

	mu       sync.Mutex
	listener net.Listener
}

// initStore creates the SQLite store named by config and environment.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv(EnvDBPath); envPath != "" {
		dbPath = envPath
	}

	s, err := store.Open(cfg.Database.Driver, dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// initVerifier builds the channel token verifier. Without a configured
// secret a random one is generated, so tokens only live as long as the process.
func initVerifier(cfg *config.Config, logger *slog.Logger) (*auth.JWTVerifier, error) {
	secret := []byte(cfg.Auth.JWTSecret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("generating jwt secret: %w", err)
		}
		logger.Warn("no auth.jwt_secret configured - using an ephemeral secret")
	}
	return auth.NewJWTVerifier(secret), nil
}

// New creates a Gateway from cfg. The HTTP listener is not bound until
// Listen or Run is called.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	gwLogger := logger.With("component", "gateway")

	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	verifier, err := initVerifier(cfg, gwLogger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	hub := backend.NewHub(cfg.Channel.BufferSize, logger)
	gw := &Gateway{
		config:   cfg,
		store:    s,
		hub:      hub,
		service:  backend.New(s, hub, logger),
		verifier: verifier,
		logger:   gwLogger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", gw.handleHealth)
	mux.HandleFunc("GET /health/ready", gw.handleReady)
	mux.Handle("/channel", backend.ChannelHandler(hub, gw.service, verifier))
	gw.registerAPIRoutes(mux)

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// Service returns the backend service for in-process callers.
func (g *Gateway) Service() *backend.Service { return g.service }

// IssueToken mints a channel token for userID with the configured TTL.
func (g *Gateway) IssueToken(userID string) (string, error) {
	return g.verifier.Generate(userID, g.config.Auth.TokenTTL)
}

// Listen binds the HTTP listener. It is a no-op if already bound.
func (g *Gateway) Listen() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.listener != nil {
		return nil
	}
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}
	g.listener = ln
	return nil
}

// Addr returns the bound address, or "" before Listen.
func (g *Gateway) Addr() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.listener == nil {
		return ""
	}
	return g.listener.Addr().String()
}

// ChannelURL returns the websocket URL of the channel endpoint.
func (g *Gateway) ChannelURL() string {
	return "ws://" + g.Addr() + "/channel"
}

// Run serves HTTP and blocks until the context is canceled or the server
// fails, then shuts everything down.
func (g *Gateway) Run(ctx context.Context) error {
	if err := g.Listen(); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", g.Addr())
		if err := g.httpServer.Serve(g.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown stops the HTTP server, closes every stream and releases the store.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	g.mu.Lock()
	if g.listener != nil {
		_ = g.listener.Close()
	}
	g.mu.Unlock()
	// Hijacked websocket connections are not tracked by Shutdown; closing
	// the hub ends their write loops.
	g.hub.Close()
	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if the store answers.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	users, err := g.store.ListUsers(r.Context())
	if err != nil {
		g.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d users, %d online)", len(users), len(g.hub.Online()))
}
