package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/maatrinet/go-intake/internal/api/middleware"
	"github.com/maatrinet/go-intake/internal/backend"
	"github.com/maatrinet/go-intake/internal/domain/intake"
	"github.com/maatrinet/go-intake/internal/domain/wizard"
	"github.com/maatrinet/go-intake/internal/observability/metrics"
	"github.com/maatrinet/go-intake/internal/session"
	"github.com/maatrinet/go-intake/pkg/workerpool"
)

// SubmitterFactory returns the collaborator a new wizard submits through.
// creds carries values that must not live in the draft.
type SubmitterFactory func(flow string, user *session.User, creds map[string]any) (wizard.Submitter, error)

// Seeder returns initial draft values for a new wizard. It may return nil.
type Seeder func(ctx context.Context, flow string, user *session.User) (map[string]any, error)

// EventSink stores drained lifecycle events.
type EventSink interface {
	Append(ctx context.Context, events []*wizard.Event) error
}

// BackendSubmitters posts each flow to its backend endpoint with the user's
// backend token.
func BackendSubmitters(c *backend.Client) SubmitterFactory {
	return func(flow string, user *session.User, creds map[string]any) (wizard.Submitter, error) {
		path, err := intake.Endpoint(flow)
		if err != nil {
			return nil, err
		}
		client := c
		if user != nil {
			client = c.WithToken(user.Token)
		}
		s := client.Submitter(path)
		if len(creds) > 0 {
			s = backend.WithCredentials(s, creds)
		}
		return s, nil
	}
}

// ProfileSeeder seeds the scheme application from the beneficiary's
// existing profile.
func ProfileSeeder(c *backend.Client) Seeder {
	return func(ctx context.Context, flow string, user *session.User) (map[string]any, error) {
		if flow != intake.FlowSchemeApplication || user == nil {
			return nil, nil
		}
		d, err := c.WithToken(user.Token).BeneficiaryDashboard(ctx, user.UserID)
		if err != nil {
			return nil, err
		}
		return intake.Profile{
			Name:     d.Profile.Name,
			Age:      d.Profile.Age.String(),
			Phone:    d.Profile.Phone.String(),
			District: d.Profile.District.String(),
			Block:    d.Profile.Block.String(),
		}.Seed(), nil
	}
}

// WizardConfig holds the wizard handler's collaborators
type WizardConfig struct {
	Registry      *Registry
	Submitters    SubmitterFactory
	Seeder        Seeder
	Journal       EventSink
	Metrics       *metrics.Metrics
	Fallbacks     intake.Fallbacks
	SubmitTimeout time.Duration
	Logger        *zap.Logger
}

// WizardHandler hosts wizard sessions for thin clients
type WizardHandler struct {
	cfg    WizardConfig
	pool   *workerpool.Pool
	logger *zap.Logger
}

// NewWizardHandler creates the handler. Call Start before serving and Stop
// on shutdown.
func NewWizardHandler(cfg WizardConfig, pool workerpool.Config) (*WizardHandler, error) {
	if cfg.Registry == nil || cfg.Submitters == nil || cfg.Metrics == nil {
		return nil, errors.New("wizard handler requires a registry, submitters and metrics")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = 30 * time.Second
	}

	// a submission is sent at most once
	pool.MaxRetries = 0

	h := &WizardHandler{cfg: cfg, logger: cfg.Logger}
	p, err := workerpool.New(pool, h.runSubmit, cfg.Logger)
	if err != nil {
		return nil, err
	}
	h.pool = p
	cfg.Registry.OnClose(h.closed)
	return h, nil
}

func (h *WizardHandler) Start() {
	h.pool.Start()
	go func() {
		for range h.pool.Results() {
		}
	}()
}

func (h *WizardHandler) Stop() error { return h.pool.Stop() }

// Healthy reports whether the submit queue has room
func (h *WizardHandler) Healthy() bool { return h.pool.IsHealthy() }

// Stats exposes the submit pool statistics
func (h *WizardHandler) Stats() workerpool.Stats { return h.pool.Stats() }

// Routes returns the handler routes
func (h *WizardHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Create)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Patch("/fields", h.SetFields)
		r.Post("/next", h.Next)
		r.Post("/back", h.Back)
		r.Post("/submit", h.Submit)
		r.Delete("/", h.Cancel)
	})
	return r
}

// CreateRequest starts a wizard
type CreateRequest struct {
	Flow string `json:"flow"`
	// Password is only used by self-registration and is never stored in
	// the draft.
	Password string `json:"password,omitempty"`
}

// NavResponse is returned by next and back
type NavResponse struct {
	Moved  bool        `json:"moved"`
	Wizard wizard.View `json:"wizard"`
}

// FieldsResponse is returned by the fields patch
type FieldsResponse struct {
	Wizard wizard.View       `json:"wizard"`
	Errors map[string]string `json:"errors,omitempty"`
}

func userOf(r *http.Request) (*session.User, int) {
	if u, ok := session.FromContext(r.Context()); ok {
		return &u, u.UserID
	}
	return nil, 0
}

// Create handles POST /wizards
func (h *WizardHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("wizard-handler").Start(r.Context(), "create_wizard")
	defer span.End()

	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.String("flow", req.Flow))

	user, owner := userOf(r)
	if user == nil && req.Flow != intake.FlowSelfRegistration {
		jsonError(w, "login required", http.StatusUnauthorized)
		return
	}

	var creds map[string]any
	if req.Flow == intake.FlowSelfRegistration {
		if req.Password == "" {
			jsonError(w, "password is required", http.StatusBadRequest)
			return
		}
		creds = map[string]any{"password": req.Password}
	}

	submitter, err := h.cfg.Submitters(req.Flow, user, creds)
	if err != nil {
		h.startError(w, err)
		return
	}

	opts := []wizard.Option{wizard.WithLogger(h.logger)}
	if h.cfg.Seeder != nil {
		seed, err := h.cfg.Seeder(ctx, req.Flow, user)
		if err != nil {
			// a missing profile only costs the prefill
			h.logger.Warn("wizard seed failed", zap.String("flow", req.Flow), zap.Error(err))
		} else if len(seed) > 0 {
			opts = append(opts, wizard.WithSeed(seed))
		}
	}

	inst, err := intake.Start(req.Flow, user, submitter, h.cfg.Fallbacks, opts...)
	if err != nil {
		h.startError(w, err)
		return
	}

	h.cfg.Registry.Put(inst, owner)
	h.cfg.Metrics.WizardsStarted.WithLabelValues(req.Flow).Inc()
	h.cfg.Metrics.ActiveWizards.Inc()
	h.flush(ctx, inst)

	h.logger.Info("wizard started",
		zap.String("wizard_id", inst.ID()),
		zap.String("flow", req.Flow),
		zap.Int("user_id", owner),
		zap.String("request_id", middleware.GetRequestID(ctx)))

	writeJSON(w, http.StatusCreated, inst.View())
}

func (h *WizardHandler) startError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, intake.ErrUnknownFlow):
		jsonError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, intake.ErrForbidden), errors.Is(err, intake.ErrNoHospital):
		jsonError(w, err.Error(), http.StatusForbidden)
	default:
		h.logger.Error("start wizard failed", zap.Error(err))
		jsonError(w, "failed to start wizard", http.StatusInternalServerError)
	}
}

func (h *WizardHandler) lookup(w http.ResponseWriter, r *http.Request) (wizard.Instance, bool) {
	_, owner := userOf(r)
	inst, err := h.cfg.Registry.Get(chi.URLParam(r, "id"), owner)
	switch {
	case errors.Is(err, ErrWizardNotFound):
		jsonError(w, "wizard not found", http.StatusNotFound)
		return nil, false
	case errors.Is(err, ErrNotOwner):
		jsonError(w, err.Error(), http.StatusForbidden)
		return nil, false
	}
	return inst, true
}

// Get handles GET /wizards/{id}
func (h *WizardHandler) Get(w http.ResponseWriter, r *http.Request) {
	inst, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, inst.View())
}

// SetFields handles PATCH /wizards/{id}/fields. Valid keys are applied even
// when others fail.
func (h *WizardHandler) SetFields(w http.ResponseWriter, r *http.Request) {
	inst, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var fields map[string]any
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	failed := map[string]string{}
	for _, k := range keys {
		err := inst.SetField(k, fields[k])
		if errors.Is(err, wizard.ErrNotEditable) {
			jsonError(w, err.Error(), http.StatusConflict)
			return
		}
		if err != nil {
			failed[k] = err.Error()
		}
	}

	resp := FieldsResponse{Wizard: inst.View()}
	code := http.StatusOK
	if len(failed) > 0 {
		resp.Errors = failed
		code = http.StatusUnprocessableEntity
	}
	writeJSON(w, code, resp)
}

// Next handles POST /wizards/{id}/next
func (h *WizardHandler) Next(w http.ResponseWriter, r *http.Request) {
	h.navigate(w, r, wizard.Instance.Advance)
}

// Back handles POST /wizards/{id}/back
func (h *WizardHandler) Back(w http.ResponseWriter, r *http.Request) {
	h.navigate(w, r, wizard.Instance.Retreat)
}

func (h *WizardHandler) navigate(w http.ResponseWriter, r *http.Request, move func(wizard.Instance) bool) {
	inst, ok := h.lookup(w, r)
	if !ok {
		return
	}
	moved := move(inst)
	h.flush(r.Context(), inst)
	writeJSON(w, http.StatusOK, NavResponse{Moved: moved, Wizard: inst.View()})
}

// Submit handles POST /wizards/{id}/submit. The wizard moves to submitting
// before the task is queued, so a repeated POST or a PATCH is refused while
// the task waits for a worker. Clients poll the wizard for the outcome.
func (h *WizardHandler) Submit(w http.ResponseWriter, r *http.Request) {
	inst, ok := h.lookup(w, r)
	if !ok {
		return
	}

	sub, err := inst.BeginSubmit()
	if err != nil {
		jsonError(w, err.Error(), http.StatusConflict)
		return
	}

	task := &workerpool.Task{ID: inst.ID(), Kind: inst.FlowName(), Payload: &pendingSubmit{inst: inst, sub: sub}}
	if err := h.pool.Submit(task); err != nil {
		sub.Withdraw()
		h.flush(r.Context(), inst)
		h.logger.Warn("submit queue rejected task", zap.String("wizard_id", inst.ID()), zap.Error(err))
		jsonError(w, "too many submissions in progress, try again shortly", http.StatusServiceUnavailable)
		return
	}
	h.flush(r.Context(), inst)
	writeJSON(w, http.StatusAccepted, inst.View())
}

// Cancel handles DELETE /wizards/{id}. A wizard that already finished is
// removed as done.
func (h *WizardHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	inst, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if inst.View().Phase == wizard.PhaseSubmitting {
		jsonError(w, wizard.ErrSubmitInFlight.Error(), http.StatusConflict)
		return
	}
	reason := CloseCancelled
	if !inst.Cancel() {
		reason = CloseDone
	}
	h.cfg.Registry.Remove(inst.ID(), reason)
	w.WriteHeader(http.StatusNoContent)
}

// pendingSubmit is the payload of a queued submit task
type pendingSubmit struct {
	inst wizard.Instance
	sub  *wizard.Submission
}

func (h *WizardHandler) runSubmit(ctx context.Context, task *workerpool.Task) error {
	p, ok := task.Payload.(*pendingSubmit)
	if !ok {
		return fmt.Errorf("task %s: unexpected payload %T", task.ID, task.Payload)
	}
	inst := p.inst

	ctx, cancel := context.WithTimeout(ctx, h.cfg.SubmitTimeout)
	defer cancel()
	ctx, span := otel.Tracer("wizard-handler").Start(ctx, "submit_wizard")
	defer span.End()
	span.SetAttributes(attribute.String("wizard_id", inst.ID()), attribute.String("flow", inst.FlowName()))

	started := time.Now()
	err := p.sub.Send(ctx)
	if errors.Is(err, wizard.ErrSubmissionUsed) {
		h.logger.Warn("dropped submit task",
			zap.String("wizard_id", inst.ID()),
			zap.String("flow", inst.FlowName()),
			zap.String("phase", string(inst.View().Phase)),
			zap.Error(err))
		return nil
	}

	flow := inst.FlowName()
	h.cfg.Metrics.SubmitDuration.WithLabelValues(flow).Observe(time.Since(started).Seconds())
	if err != nil {
		h.cfg.Metrics.WizardsFailed.WithLabelValues(flow).Inc()
		span.RecordError(err)
	} else {
		h.cfg.Metrics.WizardsSubmitted.WithLabelValues(flow).Inc()
	}
	h.flush(ctx, inst)
	return err
}

// closed flushes the final events of a wizard leaving the registry.
func (h *WizardHandler) closed(inst wizard.Instance, reason string) {
	h.cfg.Metrics.WizardsClosed.WithLabelValues(inst.FlowName(), reason).Inc()
	h.cfg.Metrics.ActiveWizards.Dec()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	h.flush(ctx, inst)
}

func (h *WizardHandler) flush(ctx context.Context, inst wizard.Instance) {
	events := inst.DrainChanges()
	if h.cfg.Journal == nil || len(events) == 0 {
		return
	}
	if err := h.cfg.Journal.Append(ctx, events); err != nil {
		h.logger.Error("journal append failed",
			zap.String("wizard_id", inst.ID()),
			zap.Int("events", len(events)),
			zap.Error(err))
	}
}
