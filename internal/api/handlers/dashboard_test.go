package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/maatrinet/go-intake/internal/api/middleware"
	"github.com/maatrinet/go-intake/internal/assistant"
	"github.com/maatrinet/go-intake/internal/backend"
	"github.com/maatrinet/go-intake/internal/export"
	"github.com/maatrinet/go-intake/internal/session"
)

type fakeBackend struct {
	token   string
	updated map[int]string
}

func (f *fakeBackend) AdminOverview(ctx context.Context) (*backend.AdminOverview, error) {
	return &backend.AdminOverview{TotalHospitals: 2}, nil
}

func (f *fakeBackend) AdminAnalytics(ctx context.Context) (*backend.AdminAnalytics, error) {
	return &backend.AdminAnalytics{ActivePregnancies: 9}, nil
}

func (f *fakeBackend) AuthorizerSummary(ctx context.Context, state string) (*backend.AuthorizerSummary, error) {
	return &backend.AuthorizerSummary{StateScope: state}, nil
}

func (f *fakeBackend) HospitalDashboard(ctx context.Context, hospitalID int) (*backend.HospitalDashboard, error) {
	return &backend.HospitalDashboard{
		HospitalID:   hospitalID,
		TotalManaged: 3,
		PatientList: []backend.Patient{
			{ID: 1, Name: "Low", Risk: "LOW", RiskScore: 0.1},
			{ID: 2, Name: "High", Risk: "HIGH", RiskScore: 0.9, OfftrackHistory: true},
			{ID: 3, Name: "Medium", Risk: "MEDIUM", RiskScore: 0.5},
		},
	}, nil
}

func (f *fakeBackend) BeneficiaryDashboard(ctx context.Context, userID int) (*backend.BeneficiaryDashboard, error) {
	return &backend.BeneficiaryDashboard{ProfileID: userID}, nil
}

func (f *fakeBackend) Applications(ctx context.Context, status string) ([]backend.Application, error) {
	if status == "" {
		return nil, nil
	}
	return []backend.Application{{ID: 4, Status: status}}, nil
}

func (f *fakeBackend) UpdateApplicationStatus(ctx context.Context, id int, status string) (*backend.Message, error) {
	if id == 404 {
		return nil, &backend.APIError{Status: http.StatusNotFound, Detail: "Application not found"}
	}
	f.updated[id] = status
	return &backend.Message{Message: "updated"}, nil
}

func (f *fakeBackend) RecomputePredictions(ctx context.Context) (*backend.RecomputeResult, error) {
	return nil, backend.ErrUnavailable
}

type apiFixture struct {
	srv     *httptest.Server
	store   *session.MemoryStore
	backend *fakeBackend
	tokens  []string
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	f := &apiFixture{
		store:   session.NewMemoryStore(time.Hour),
		backend: &fakeBackend{updated: map[int]string{}},
	}
	backendFor := func(u session.User) Backend {
		f.tokens = append(f.tokens, u.Token)
		return f.backend
	}
	responderFor := func(u session.User) assistant.Responder {
		return assistant.ResponderFunc(func(ctx context.Context, q string) (*backend.AssistantReply, error) {
			return &backend.AssistantReply{Response: u.Name + ": " + q}, nil
		})
	}

	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(middleware.SessionAuth(f.store))
		r.Mount("/assistant", NewAssistantHandler(responderFor, nil, nil).Routes())
		r.Mount("/", NewDashboardHandler(backendFor, nil).Routes())
	})
	f.srv = httptest.NewServer(r)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *apiFixture) call(t *testing.T, method, path, token, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestDashboardByRole(t *testing.T) {
	f := newAPIFixture(t)
	admin := f.store.Create(session.User{UserID: 1, Role: session.RoleAdmin, Token: "jwt-admin"})
	nobody := f.store.Create(session.User{UserID: 2, Role: "GUEST"})

	resp := f.call(t, http.MethodGet, "/dashboard", admin, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var v map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	assert.Equal(t, "ADMIN", v["role"])
	assert.Contains(t, v, "admin")
	assert.Equal(t, []string{"jwt-admin"}, f.tokens)

	resp = f.call(t, http.MethodGet, "/dashboard", nobody, "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = f.call(t, http.MethodGet, "/dashboard", "expired", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHospitalPatientsTabs(t *testing.T) {
	f := newAPIFixture(t)
	staff := f.store.Create(session.User{UserID: 11, HospitalID: 3, Role: session.RoleHospital})

	resp := f.call(t, http.MethodGet, "/hospital/patients", staff, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var all []backend.Patient
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&all))
	require.Len(t, all, 3)
	assert.Equal(t, []string{"High", "Medium", "Low"}, []string{all[0].Name, all[1].Name, all[2].Name})

	resp = f.call(t, http.MethodGet, "/hospital/patients?tab=off-track", staff, "")
	var off []backend.Patient
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&off))
	require.Len(t, off, 1)
	assert.Equal(t, 2, off[0].ID)

	resp = f.call(t, http.MethodGet, "/hospital/patients?tab=discharged", staff, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHospitalRegistryExport(t *testing.T) {
	f := newAPIFixture(t)
	staff := f.store.Create(session.User{UserID: 11, HospitalID: 3, Role: session.RoleHospital})
	admin := f.store.Create(session.User{UserID: 1, Role: session.RoleAdmin})

	resp := f.call(t, http.MethodGet, "/hospital/registry.xlsx", staff, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, export.ContentType, resp.Header.Get("Content-Type"))

	book, err := excelize.OpenReader(resp.Body)
	require.NoError(t, err)
	defer book.Close()
	rows, err := book.GetRows(export.SheetName)
	require.NoError(t, err)
	assert.Len(t, rows, 4)

	resp = f.call(t, http.MethodGet, "/hospital/registry.xlsx", admin, "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestUpdateApplication(t *testing.T) {
	f := newAPIFixture(t)
	auth := f.store.Create(session.User{UserID: 4, Role: session.RoleAuthorizer, State: "Madhya Pradesh"})

	resp := f.call(t, http.MethodPost, "/applications/7/status", auth, `{"status":"approved"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "APPROVED", f.backend.updated[7])

	resp = f.call(t, http.MethodPost, "/applications/7/status", auth, `{"status":"PENDING"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = f.call(t, http.MethodPost, "/applications/x/status", auth, `{"status":"APPROVED"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = f.call(t, http.MethodPost, "/applications/404/status", auth, `{"status":"REJECTED"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.call(t, http.MethodGet, "/applications", auth, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var apps []backend.Application
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&apps))
	assert.Empty(t, apps)
	assert.NotNil(t, apps)
}

func TestRecomputeUnavailable(t *testing.T) {
	f := newAPIFixture(t)
	admin := f.store.Create(session.User{UserID: 1, Role: session.RoleAdmin})

	resp := f.call(t, http.MethodPost, "/predictions/recompute", admin, "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestAssistantPerUser(t *testing.T) {
	f := newAPIFixture(t)
	asha := f.store.Create(session.User{UserID: 20, Name: "Asha", Role: session.RoleBeneficiary})
	ravi := f.store.Create(session.User{UserID: 21, Name: "Ravi", Role: session.RoleAdmin})

	resp := f.call(t, http.MethodPost, "/assistant", asha, `{"query":"hello"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var reply assistant.Message
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&reply))
	assert.Equal(t, "Asha: hello", reply.Text)

	resp = f.call(t, http.MethodPost, "/assistant", asha, `{"query":"   "}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = f.call(t, http.MethodGet, "/assistant", ravi, "")
	var msgs []assistant.Message
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&msgs))
	require.Len(t, msgs, 1)
	assert.Equal(t, assistant.Greeting, msgs[0].Text)

	resp = f.call(t, http.MethodGet, "/assistant/suggestions", ravi, "")
	var suggestions []string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&suggestions))
	assert.Equal(t, assistant.Suggestions, suggestions)
}
