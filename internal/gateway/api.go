// ABOUTME: HTTP API handlers for account registration and the user directory
// ABOUTME: POST /api/users registers a user, GET /api/users lists users with presence

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/2389/coven-inbox/internal/chat"
	"github.com/2389/coven-inbox/internal/store"
)

// RegisterUserRequest is the JSON request body for POST /api/users.
type RegisterUserRequest struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// UserResponse is one entry of GET /api/users and the body of a successful POST.
type UserResponse struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	Online      bool      `json:"online"`
	CreatedAt   time.Time `json:"created_at"`
}

func (g *Gateway) registerAPIRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/users", g.handleRegisterUser)
	mux.HandleFunc("GET /api/users", g.handleListUsers)
}

func (g *Gateway) userResponse(u *store.User) UserResponse {
	return UserResponse{
		ID:          u.ID,
		DisplayName: u.DisplayName,
		AvatarURL:   u.AvatarURL,
		Online:      g.hub.IsOnline(u.ID),
		CreatedAt:   u.CreatedAt,
	}
}

// handleRegisterUser handles POST /api/users.
func (g *Gateway) handleRegisterUser(w http.ResponseWriter, r *http.Request) {
	var req RegisterUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	u, err := g.service.RegisterUser(r.Context(), req.ID, req.DisplayName, req.AvatarURL)
	switch {
	case errors.Is(err, chat.ErrNoIdentity):
		g.sendJSONError(w, http.StatusBadRequest, "id is required")
		return
	case errors.Is(err, store.ErrDuplicate):
		g.sendJSONError(w, http.StatusConflict, "user already exists")
		return
	case err != nil:
		g.logger.Error("failed to register user", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(g.userResponse(u))
}

// handleListUsers handles GET /api/users.
func (g *Gateway) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := g.store.ListUsers(r.Context())
	if err != nil {
		g.logger.Error("failed to list users", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	response := make([]UserResponse, 0, len(users))
	for _, u := range users {
		response = append(response, g.userResponse(u))
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
