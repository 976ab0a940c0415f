package handlers

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/maatrinet/go-intake/internal/assistant"
	"github.com/maatrinet/go-intake/internal/session"
)

// ResponderFor returns the responder that answers for user
type ResponderFor func(user session.User) assistant.Responder

// AssistantHandler keeps one chat panel per user
type AssistantHandler struct {
	responderFor ResponderFor
	recorder     assistant.Recorder
	logger       *zap.Logger

	mu     sync.Mutex
	panels map[int]*assistant.Panel
}

func NewAssistantHandler(responderFor ResponderFor, recorder assistant.Recorder, logger *zap.Logger) *AssistantHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AssistantHandler{
		responderFor: responderFor,
		recorder:     recorder,
		logger:       logger,
		panels:       make(map[int]*assistant.Panel),
	}
}

// Routes returns the handler routes
func (h *AssistantHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.Messages)
	r.Post("/", h.Ask)
	r.Delete("/", h.Reset)
	r.Get("/suggestions", h.Suggestions)
	return r
}

func (h *AssistantHandler) panel(user session.User) *assistant.Panel {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.panels[user.UserID]
	if !ok {
		p = assistant.NewPanel(h.responderFor(user), h.recorder, h.logger)
		h.panels[user.UserID] = p
	}
	return p
}

type AskRequest struct {
	Query string `json:"query"`
}

// Ask handles POST /assistant. A blank query or one sent while the
// previous is still running returns 409.
func (h *AssistantHandler) Ask(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	reply, ok := h.panel(currentUser(r)).Send(r.Context(), req.Query)
	if !ok {
		jsonError(w, "query is empty or another query is in progress", http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

// Messages handles GET /assistant
func (h *AssistantHandler) Messages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.panel(currentUser(r)).Messages())
}

// Reset handles DELETE /assistant
func (h *AssistantHandler) Reset(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	delete(h.panels, currentUser(r).UserID)
	h.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (h *AssistantHandler) Suggestions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, assistant.Suggestions)
}
