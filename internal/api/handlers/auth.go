package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/maatrinet/go-intake/internal/backend"
	"github.com/maatrinet/go-intake/internal/domain/wizard"
	"github.com/maatrinet/go-intake/internal/session"
)

// Authenticator verifies credentials against the backend
type Authenticator interface {
	Login(ctx context.Context, phoneOrEmail, password string, adminOnly bool) (*backend.LoginResponse, error)
}

// SessionStore keeps HTTP sessions
type SessionStore interface {
	Create(u session.User) string
	Get(token string) (session.User, error)
	Delete(token string)
}

type AuthHandler struct {
	auth   Authenticator
	store  SessionStore
	logger *zap.Logger
}

func NewAuthHandler(auth Authenticator, store SessionStore, logger *zap.Logger) *AuthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthHandler{auth: auth, store: store, logger: logger}
}

// Routes returns the handler routes
func (h *AuthHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/login", h.Login)
	r.Post("/logout", h.Logout)
	r.Get("/me", h.Me)
	return r
}

type LoginRequest struct {
	PhoneOrEmail string `json:"phone_or_email"`
	Password     string `json:"password"`
	AdminOnly    bool   `json:"admin_only,omitempty"`
}

// LoginResponse carries the session token. The backend token stays on the
// server.
type LoginResponse struct {
	Token string       `json:"token"`
	User  session.User `json:"user"`
	Home  string       `json:"home"`
}

// Login handles POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.PhoneOrEmail) == "" || req.Password == "" {
		jsonError(w, "phone or email and password are required", http.StatusBadRequest)
		return
	}

	resp, err := h.auth.Login(r.Context(), req.PhoneOrEmail, req.Password, req.AdminOnly)
	if err != nil {
		h.logger.Info("login failed", zap.Error(err))
		backendError(w, err, "Login failed. Please check your credentials.")
		return
	}

	user := resp.User()
	token := h.store.Create(user)
	h.logger.Info("user logged in", zap.Int("user_id", user.UserID), zap.String("role", string(user.Role)))

	user.Token = ""
	writeJSON(w, http.StatusOK, LoginResponse{Token: token, User: user, Home: user.Home()})
}

// Logout handles POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		h.store.Delete(strings.TrimSpace(token))
	}
	w.WriteHeader(http.StatusNoContent)
}

// Me handles GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	token, _ := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	user, err := h.store.Get(strings.TrimSpace(token))
	if err != nil {
		jsonError(w, "not logged in", http.StatusUnauthorized)
		return
	}
	user.Token = ""
	writeJSON(w, http.StatusOK, user)
}

// backendError maps a backend failure onto a response, passing the
// backend's message through for client errors.
func backendError(w http.ResponseWriter, err error, fallback string) {
	var apiErr *backend.APIError
	switch {
	case errors.As(err, &apiErr) && apiErr.Status < http.StatusInternalServerError:
		jsonError(w, wizard.UserMessage(err, fallback), apiErr.Status)
	case errors.Is(err, backend.ErrUnavailable):
		jsonError(w, "backend temporarily unavailable", http.StatusServiceUnavailable)
	default:
		jsonError(w, fallback, http.StatusBadGateway)
	}
}
