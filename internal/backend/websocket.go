// ABOUTME: Websocket endpoint serving a user's event stream from the hub
// ABOUTME: Expects auth.HTTPAuthMiddleware in front to put the user ID in the request context

package backend

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/coven-inbox/internal/auth"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ChannelHandler serves the push channel for the authenticated user.
func ChannelHandler(hub *Hub, users auth.UserLookup, verifier auth.TokenVerifier) http.Handler {
	return auth.HTTPAuthMiddleware(users, verifier)(http.HandlerFunc(hub.serveStream))
}

func (h *Hub) serveStream(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserFromContext(r.Context())
	if userID == "" {
		http.Error(w, `{"error":"not authenticated"}`, http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "user_id", userID, "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, streamID := h.Subscribe(ctx, userID)
	h.logger.Info("websocket stream opened", "user_id", userID, "stream_id", streamID)

	// The client sends nothing; reading only surfaces pongs and the close.
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case env, ok := <-events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream closed"),
					time.Now().Add(writeWait))
				h.logger.Info("websocket stream closed by hub", "user_id", userID, "stream_id", streamID)
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(env); err != nil {
				h.logger.Debug("websocket write failed", "user_id", userID, "error", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ctx.Done():
			h.logger.Info("websocket stream closed by client", "user_id", userID, "stream_id", streamID)
			return
		}
	}
}
