package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/maatrinet/go-intake/internal/api/middleware"
	"github.com/maatrinet/go-intake/internal/backend"
	"github.com/maatrinet/go-intake/internal/domain/intake"
	"github.com/maatrinet/go-intake/internal/domain/wizard"
	"github.com/maatrinet/go-intake/internal/observability/metrics"
	"github.com/maatrinet/go-intake/internal/session"
	"github.com/maatrinet/go-intake/pkg/workerpool"
)

type memorySink struct {
	mu     sync.Mutex
	events []*wizard.Event
}

func (s *memorySink) Append(ctx context.Context, events []*wizard.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	return nil
}

func (s *memorySink) types() []wizard.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []wizard.EventType
	for _, e := range s.events {
		out = append(out, e.EventType)
	}
	return out
}

type fixture struct {
	srv      *httptest.Server
	store    *session.MemoryStore
	registry *Registry
	metrics  *metrics.Metrics
	sink     *memorySink

	mu       sync.Mutex
	payloads []wizard.Payload
	creds    []map[string]any
	submit   func(ctx context.Context, p wizard.Payload) (json.RawMessage, error)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newPoolFixture(t, workerpool.Config{Workers: 2, QueueSize: 8, GracefulShutdownTimeout: time.Second})
}

func newPoolFixture(t *testing.T, pool workerpool.Config) *fixture {
	t.Helper()
	f := &fixture{
		store:    session.NewMemoryStore(time.Hour),
		registry: NewRegistry(time.Hour, nil),
		metrics:  metrics.New(prometheus.NewRegistry()),
		sink:     &memorySink{},
		submit: func(ctx context.Context, p wizard.Payload) (json.RawMessage, error) {
			return json.RawMessage(`{"message":"ok"}`), nil
		},
	}

	submitters := func(flow string, user *session.User, creds map[string]any) (wizard.Submitter, error) {
		if _, err := intake.Endpoint(flow); err != nil {
			return nil, err
		}
		f.mu.Lock()
		f.creds = append(f.creds, creds)
		f.mu.Unlock()
		return wizard.SubmitFunc(func(ctx context.Context, p wizard.Payload) (json.RawMessage, error) {
			f.mu.Lock()
			f.payloads = append(f.payloads, p)
			submit := f.submit
			f.mu.Unlock()
			return submit(ctx, p)
		}), nil
	}

	h, err := NewWizardHandler(WizardConfig{
		Registry:   f.registry,
		Submitters: submitters,
		Journal:    f.sink,
		Metrics:    f.metrics,
		Fallbacks:  intake.DefaultFallbacks(),
	}, pool)
	require.NoError(t, err)
	h.Start()
	t.Cleanup(func() { _ = h.Stop() })

	r := chi.NewRouter()
	r.Use(middleware.OptionalSession(f.store))
	r.Mount("/wizards", h.Routes())
	f.srv = httptest.NewServer(r)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path, token, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func (f *fixture) view(t *testing.T, id, token string) map[string]any {
	t.Helper()
	resp, body := f.do(t, http.MethodGet, "/wizards/"+id, token, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return body
}

func startRegistration(t *testing.T, f *fixture) string {
	t.Helper()
	resp, body := f.do(t, http.MethodPost, "/wizards", "", `{"flow":"self-registration","password":"s3cret"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return body["id"].(string)
}

func fillRegistration(t *testing.T, f *fixture, id string) {
	t.Helper()
	resp, _ := f.do(t, http.MethodPatch, "/wizards/"+id+"/fields", "", `{"name":"Asha","phone":"9876543210","age":"24"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_, body := f.do(t, http.MethodPost, "/wizards/"+id+"/next", "", "")
	require.Equal(t, true, body["moved"])

	resp, _ = f.do(t, http.MethodPatch, "/wizards/"+id+"/fields", "", `{"district":"Bhopal","block":"Huzur"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_, body = f.do(t, http.MethodPost, "/wizards/"+id+"/next", "", "")
	require.Equal(t, true, body["moved"])
}

func TestCreateWizard(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, "/wizards", "", `{"flow":"self-registration","password":"s3cret"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "self-registration", body["flow"])
	assert.Equal(t, float64(1), body["step"])
	assert.NotContains(t, body["draft"], "password")

	assert.Equal(t, 1, f.registry.Len())
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.WizardsStarted.WithLabelValues(intake.FlowSelfRegistration)))
	assert.Equal(t, []map[string]any{{"password": "s3cret"}}, f.creds)
	assert.Contains(t, f.sink.types(), wizard.EventWizardStarted)
}

func TestCreateWizardRejections(t *testing.T) {
	f := newFixture(t)
	beneficiary := f.store.Create(session.User{UserID: 5, Role: session.RoleBeneficiary})

	tests := []struct {
		name  string
		token string
		body  string
		want  int
	}{
		{"bad json", "", `{`, http.StatusBadRequest},
		{"missing password", "", `{"flow":"self-registration"}`, http.StatusBadRequest},
		{"anonymous staff intake", "", `{"flow":"staff-intake"}`, http.StatusUnauthorized},
		{"unknown flow", beneficiary, `{"flow":"discharge"}`, http.StatusBadRequest},
		{"wrong role", beneficiary, `{"flow":"staff-intake"}`, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := f.do(t, http.MethodPost, "/wizards", tt.token, tt.body)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
	assert.Zero(t, f.registry.Len())
}

func TestSetFieldsReportsInvalidKeys(t *testing.T) {
	f := newFixture(t)
	id := startRegistration(t, f)

	resp, body := f.do(t, http.MethodPatch, "/wizards/"+id+"/fields", "", `{"name":"Asha","shoe_size":"41"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	errs := body["errors"].(map[string]any)
	assert.Contains(t, errs, "shoe_size")
	assert.NotContains(t, errs, "name")

	draft := body["wizard"].(map[string]any)["draft"].(map[string]any)
	assert.Equal(t, "Asha", draft["name"])
}

func TestNextRefusedUntilStepComplete(t *testing.T) {
	f := newFixture(t)
	id := startRegistration(t, f)

	resp, body := f.do(t, http.MethodPost, "/wizards/"+id+"/next", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["moved"])
	assert.Equal(t, float64(1), body["wizard"].(map[string]any)["step"])

	_, body = f.do(t, http.MethodPost, "/wizards/"+id+"/back", "", "")
	assert.Equal(t, false, body["moved"])
}

func TestSubmitRunsInBackground(t *testing.T) {
	f := newFixture(t)
	id := startRegistration(t, f)
	fillRegistration(t, f, id)

	resp, _ := f.do(t, http.MethodPost, "/wizards/"+id+"/submit", "", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Eventually(t, func() bool {
		return f.view(t, id, "")["phase"] == string(wizard.PhaseSubmitted)
	}, 2*time.Second, 10*time.Millisecond)

	f.mu.Lock()
	require.Len(t, f.payloads, 1)
	assert.Equal(t, 24, f.payloads[0]["age"])
	f.mu.Unlock()

	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.WizardsSubmitted.WithLabelValues(intake.FlowSelfRegistration)))
	assert.Contains(t, f.sink.types(), wizard.EventWizardSubmitted)

	resp, _ = f.do(t, http.MethodPost, "/wizards/"+id+"/submit", "", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestSubmitFailureKeepsDraft(t *testing.T) {
	f := newFixture(t)
	f.submit = func(ctx context.Context, p wizard.Payload) (json.RawMessage, error) {
		return nil, &backend.APIError{Status: 400, Detail: "User with this phone already registered."}
	}
	id := startRegistration(t, f)
	fillRegistration(t, f, id)

	resp, _ := f.do(t, http.MethodPost, "/wizards/"+id+"/submit", "", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var v map[string]any
	require.Eventually(t, func() bool {
		v = f.view(t, id, "")
		return v["phase"] == string(wizard.PhaseFailed)
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, "User with this phone already registered.", v["error"])
	assert.Equal(t, "Asha", v["draft"].(map[string]any)["name"])
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.WizardsFailed.WithLabelValues(intake.FlowSelfRegistration)))
}

func TestSubmitIncompleteWizardConflicts(t *testing.T) {
	f := newFixture(t)
	id := startRegistration(t, f)

	resp, body := f.do(t, http.MethodPost, "/wizards/"+id+"/submit", "", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, wizard.ErrNotSubmittable.Error(), body["error"])
}

func TestSubmitWhileInFlightConflicts(t *testing.T) {
	f := newFixture(t)
	release := make(chan struct{})
	f.submit = func(ctx context.Context, p wizard.Payload) (json.RawMessage, error) {
		<-release
		return json.RawMessage(`{}`), nil
	}
	id := startRegistration(t, f)
	fillRegistration(t, f, id)

	resp, _ := f.do(t, http.MethodPost, "/wizards/"+id+"/submit", "", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Eventually(t, func() bool {
		return f.view(t, id, "")["phase"] == string(wizard.PhaseSubmitting)
	}, 2*time.Second, 5*time.Millisecond)

	resp, _ = f.do(t, http.MethodPost, "/wizards/"+id+"/submit", "", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp, _ = f.do(t, http.MethodPatch, "/wizards/"+id+"/fields", "", `{"name":"Other"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp, _ = f.do(t, http.MethodDelete, "/wizards/"+id, "", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	close(release)
	require.Eventually(t, func() bool {
		return f.view(t, id, "")["phase"] == string(wizard.PhaseSubmitted)
	}, 2*time.Second, 10*time.Millisecond)

	f.mu.Lock()
	assert.Len(t, f.payloads, 1)
	f.mu.Unlock()
}

// blockFirst makes the first submission wait on release and returns the
// per-name call counts.
func (f *fixture) blockFirst(release <-chan struct{}) map[string]int {
	calls := map[string]int{}
	var first sync.Once
	f.submit = func(ctx context.Context, p wizard.Payload) (json.RawMessage, error) {
		f.mu.Lock()
		calls[p["name"].(string)]++
		f.mu.Unlock()
		first.Do(func() { <-release })
		return json.RawMessage(`{}`), nil
	}
	return calls
}

func TestSubmitQueuedWizardIsLocked(t *testing.T) {
	f := newPoolFixture(t, workerpool.Config{Workers: 1, QueueSize: 4, GracefulShutdownTimeout: time.Second})
	release := make(chan struct{})
	calls := f.blockFirst(release)

	busy := startRegistration(t, f)
	fillRegistration(t, f, busy)
	resp, _ := f.do(t, http.MethodPatch, "/wizards/"+busy+"/fields", "", `{"name":"Busy"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = f.do(t, http.MethodPost, "/wizards/"+busy+"/submit", "", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Eventually(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		return calls["Busy"] == 1
	}, 2*time.Second, 5*time.Millisecond)

	id := startRegistration(t, f)
	fillRegistration(t, f, id)

	resp, body := f.do(t, http.MethodPost, "/wizards/"+id+"/submit", "", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, string(wizard.PhaseSubmitting), body["phase"])

	resp, body = f.do(t, http.MethodPost, "/wizards/"+id+"/submit", "", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, wizard.ErrSubmitInFlight.Error(), body["error"])
	resp, _ = f.do(t, http.MethodPatch, "/wizards/"+id+"/fields", "", `{"name":"Other"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp, _ = f.do(t, http.MethodDelete, "/wizards/"+id, "", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	close(release)
	require.Eventually(t, func() bool {
		return f.view(t, id, "")["phase"] == string(wizard.PhaseSubmitted)
	}, 2*time.Second, 10*time.Millisecond)

	f.mu.Lock()
	assert.Equal(t, 1, calls["Asha"])
	assert.NotContains(t, calls, "Other")
	f.mu.Unlock()
	assert.Equal(t, float64(2), testutil.ToFloat64(f.metrics.WizardsSubmitted.WithLabelValues(intake.FlowSelfRegistration)))
}

func TestSubmitQueueFullRestoresWizard(t *testing.T) {
	f := newPoolFixture(t, workerpool.Config{Workers: 1, QueueSize: 1, GracefulShutdownTimeout: time.Second})
	release := make(chan struct{})
	defer close(release)
	calls := f.blockFirst(release)

	running := startRegistration(t, f)
	fillRegistration(t, f, running)
	resp, _ := f.do(t, http.MethodPost, "/wizards/"+running+"/submit", "", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Eventually(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		return calls["Asha"] == 1
	}, 2*time.Second, 5*time.Millisecond)

	queued := startRegistration(t, f)
	fillRegistration(t, f, queued)
	resp, _ = f.do(t, http.MethodPost, "/wizards/"+queued+"/submit", "", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	id := startRegistration(t, f)
	fillRegistration(t, f, id)
	resp, _ = f.do(t, http.MethodPost, "/wizards/"+id+"/submit", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	v := f.view(t, id, "")
	assert.Equal(t, string(wizard.PhaseEditing), v["phase"])
	assert.Equal(t, true, v["can_submit"])
	resp, _ = f.do(t, http.MethodPatch, "/wizards/"+id+"/fields", "", `{"name":"Meena"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, f.sink.types(), wizard.EventSubmitWithdrawn)
}

func TestCancelRemovesWizard(t *testing.T) {
	f := newFixture(t)
	id := startRegistration(t, f)

	resp, _ := f.do(t, http.MethodDelete, "/wizards/"+id, "", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/wizards/"+id, "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.WizardsClosed.WithLabelValues(intake.FlowSelfRegistration, CloseCancelled)))
	assert.Contains(t, f.sink.types(), wizard.EventWizardCancelled)
}

func TestCancelSubmittedWizardClosesAsDone(t *testing.T) {
	f := newFixture(t)
	id := startRegistration(t, f)
	fillRegistration(t, f, id)

	resp, _ := f.do(t, http.MethodPost, "/wizards/"+id+"/submit", "", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Eventually(t, func() bool {
		return f.view(t, id, "")["phase"] == string(wizard.PhaseSubmitted)
	}, 2*time.Second, 10*time.Millisecond)

	resp, _ = f.do(t, http.MethodDelete, "/wizards/"+id, "", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.WizardsClosed.WithLabelValues(intake.FlowSelfRegistration, CloseDone)))
	assert.Zero(t, testutil.ToFloat64(f.metrics.WizardsClosed.WithLabelValues(intake.FlowSelfRegistration, CloseCancelled)))
}

func TestRunSubmitWarnsOnDroppedTask(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	h, err := NewWizardHandler(WizardConfig{
		Registry: NewRegistry(time.Hour, nil),
		Submitters: func(string, *session.User, map[string]any) (wizard.Submitter, error) {
			return nil, errors.New("unused")
		},
		Metrics: metrics.New(prometheus.NewRegistry()),
		Logger:  zap.New(core),
	}, workerpool.Config{Workers: 1, QueueSize: 1})
	require.NoError(t, err)

	var calls int
	inst, err := intake.Start(intake.FlowSelfRegistration, nil, wizard.SubmitFunc(func(ctx context.Context, p wizard.Payload) (json.RawMessage, error) {
		calls++
		return json.RawMessage(`{}`), nil
	}), intake.DefaultFallbacks())
	require.NoError(t, err)
	for k, v := range map[string]any{"name": "Asha", "phone": "9876543210", "age": "24"} {
		require.NoError(t, inst.SetField(k, v))
	}
	require.True(t, inst.Advance())
	require.NoError(t, inst.SetField("district", "Bhopal"))
	require.NoError(t, inst.SetField("block", "Huzur"))
	require.True(t, inst.Advance())

	sub, err := inst.BeginSubmit()
	require.NoError(t, err)
	require.NoError(t, sub.Send(context.Background()))

	task := &workerpool.Task{ID: inst.ID(), Kind: inst.FlowName(), Payload: &pendingSubmit{inst: inst, sub: sub}}
	require.NoError(t, h.runSubmit(context.Background(), task))
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, logs.FilterMessage("dropped submit task").Len())

	assert.Error(t, h.runSubmit(context.Background(), &workerpool.Task{ID: "x", Payload: inst}))
}

func TestWizardOwnership(t *testing.T) {
	f := newFixture(t)
	staff := f.store.Create(session.User{UserID: 11, HospitalID: 3, Role: session.RoleHospital})
	other := f.store.Create(session.User{UserID: 12, HospitalID: 3, Role: session.RoleHospital})

	resp, body := f.do(t, http.MethodPost, "/wizards", staff, `{"flow":"staff-intake"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := body["id"].(string)

	resp, _ = f.do(t, http.MethodGet, "/wizards/"+id, other, "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp, _ = f.do(t, http.MethodGet, "/wizards/"+id, "", "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp, _ = f.do(t, http.MethodGet, "/wizards/"+id, staff, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/wizards/"+id, "bogus", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestBackendSubmittersMergeCredentials(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, intake.PathRegisterBeneficiary, r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"user_id":1}`))
	}))
	defer srv.Close()

	cfg := backend.DefaultConfig()
	cfg.BaseURL = srv.URL
	factory := BackendSubmitters(backend.New(cfg, nil))

	s, err := factory(intake.FlowSelfRegistration, nil, map[string]any{"password": "pw"})
	require.NoError(t, err)
	_, err = s.Submit(context.Background(), wizard.Payload{"name": "Asha"})
	require.NoError(t, err)
	assert.Equal(t, "pw", got["password"])
	assert.Equal(t, "Asha", got["name"])

	_, err = factory("discharge", nil, nil)
	assert.True(t, errors.Is(err, intake.ErrUnknownFlow))
}
