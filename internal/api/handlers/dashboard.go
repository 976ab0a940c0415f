package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/maatrinet/go-intake/internal/api/middleware"
	"github.com/maatrinet/go-intake/internal/backend"
	"github.com/maatrinet/go-intake/internal/dashboard"
	"github.com/maatrinet/go-intake/internal/export"
	"github.com/maatrinet/go-intake/internal/session"
)

// Operations is the write side of the dashboards.
type Operations interface {
	Applications(ctx context.Context, status string) ([]backend.Application, error)
	UpdateApplicationStatus(ctx context.Context, id int, status string) (*backend.Message, error)
	RecomputePredictions(ctx context.Context) (*backend.RecomputeResult, error)
}

// Backend is what the dashboard handler needs from a per-user client
type Backend interface {
	dashboard.Source
	Operations
}

var _ Backend = (*backend.Client)(nil)

// BackendFor returns a client acting as user
type BackendFor func(user session.User) Backend

// ClientFor binds the shared client to each user's backend token
func ClientFor(c *backend.Client) BackendFor {
	return func(user session.User) Backend { return c.WithToken(user.Token) }
}

// Application statuses an authorizer may set
const (
	StatusApproved = "APPROVED"
	StatusRejected = "REJECTED"
)

type DashboardHandler struct {
	backendFor BackendFor
	logger     *zap.Logger
}

func NewDashboardHandler(backendFor BackendFor, logger *zap.Logger) *DashboardHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DashboardHandler{backendFor: backendFor, logger: logger}
}

// Routes returns the handler routes. All of them expect SessionAuth to
// have run.
func (h *DashboardHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/dashboard", h.Dashboard)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireRole(session.RoleHospital))
		r.Get("/hospital/patients", h.Patients)
		r.Get("/hospital/registry.xlsx", h.Registry)
	})
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireRole(session.RoleAuthorizer))
		r.Get("/applications", h.Applications)
		r.Post("/applications/{id}/status", h.UpdateApplication)
	})
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireRole(session.RoleAdmin))
		r.Post("/predictions/recompute", h.Recompute)
	})
	return r
}

func currentUser(r *http.Request) session.User {
	u, _ := session.FromContext(r.Context())
	return u
}

// Dashboard handles GET /dashboard
func (h *DashboardHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	v, err := dashboard.Load(r.Context(), h.backendFor(user), user)
	if errors.Is(err, dashboard.ErrNoDashboard) {
		jsonError(w, err.Error(), http.StatusForbidden)
		return
	}
	if err != nil {
		h.logger.Error("load dashboard failed", zap.Int("user_id", user.UserID), zap.Error(err))
		backendError(w, err, "Failed to load dashboard")
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// Patients handles GET /hospital/patients?tab=
func (h *DashboardHandler) Patients(w http.ResponseWriter, r *http.Request) {
	tab := r.URL.Query().Get("tab")
	switch tab {
	case "":
		tab = dashboard.TabAll
	case dashboard.TabAll, dashboard.TabHighRisk, dashboard.TabOfftrack:
	default:
		jsonError(w, fmt.Sprintf("unknown tab %q", tab), http.StatusBadRequest)
		return
	}

	user := currentUser(r)
	d, err := h.backendFor(user).HospitalDashboard(r.Context(), user.HospitalID)
	if err != nil {
		backendError(w, err, "Failed to load patients")
		return
	}
	patients := dashboard.Filter(dashboard.SortByRisk(d.PatientList), tab)
	if patients == nil {
		patients = []backend.Patient{}
	}
	writeJSON(w, http.StatusOK, patients)
}

// Registry handles GET /hospital/registry.xlsx
func (h *DashboardHandler) Registry(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	d, err := h.backendFor(user).HospitalDashboard(r.Context(), user.HospitalID)
	if err != nil {
		backendError(w, err, "Failed to load registry")
		return
	}

	var buf bytes.Buffer
	if err := export.WriteRegistry(&buf, d); err != nil {
		h.logger.Error("write registry failed", zap.Int("hospital_id", user.HospitalID), zap.Error(err))
		jsonError(w, "failed to build registry", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="registry-%d.xlsx"`, user.HospitalID))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

// Applications handles GET /applications?status=
func (h *DashboardHandler) Applications(w http.ResponseWriter, r *http.Request) {
	apps, err := h.backendFor(currentUser(r)).Applications(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		backendError(w, err, "Failed to load applications")
		return
	}
	if apps == nil {
		apps = []backend.Application{}
	}
	writeJSON(w, http.StatusOK, apps)
}

type StatusRequest struct {
	Status string `json:"status"`
}

// UpdateApplication handles POST /applications/{id}/status
func (h *DashboardHandler) UpdateApplication(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		jsonError(w, "invalid application id", http.StatusBadRequest)
		return
	}
	var req StatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	status := strings.ToUpper(strings.TrimSpace(req.Status))
	if status != StatusApproved && status != StatusRejected {
		jsonError(w, "status must be APPROVED or REJECTED", http.StatusBadRequest)
		return
	}

	user := currentUser(r)
	msg, err := h.backendFor(user).UpdateApplicationStatus(r.Context(), id, status)
	if err != nil {
		backendError(w, err, "Failed to update application")
		return
	}
	h.logger.Info("application status updated",
		zap.Int("application_id", id),
		zap.String("status", status),
		zap.Int("user_id", user.UserID))
	writeJSON(w, http.StatusOK, msg)
}

// Recompute handles POST /predictions/recompute
func (h *DashboardHandler) Recompute(w http.ResponseWriter, r *http.Request) {
	res, err := h.backendFor(currentUser(r)).RecomputePredictions(r.Context())
	if err != nil {
		backendError(w, err, "Failed to recompute predictions")
		return
	}
	writeJSON(w, http.StatusOK, res)
}
