// Package metrics provides Prometheus metrics for the intake API and the
// journal relay.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/maatrinet/go-intake/pkg/circuitbreaker"
)

// Metrics holds all application metrics
type Metrics struct {
	WizardsStarted      *prometheus.CounterVec
	WizardsSubmitted    *prometheus.CounterVec
	WizardsFailed       *prometheus.CounterVec
	WizardsClosed       *prometheus.CounterVec
	ActiveWizards       prometheus.Gauge
	SubmitDuration      *prometheus.HistogramVec
	BackendRequests     *prometheus.CounterVec
	BackendDuration     *prometheus.HistogramVec
	AssistantQueries    *prometheus.CounterVec
	JournalRelayed      prometheus.Counter
	JournalPending      prometheus.Gauge
	CircuitBreakerState *prometheus.GaugeVec
}

// New creates the metrics and registers them with reg. A nil reg uses the
// default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		WizardsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_wizards_started_total",
			Help: "Wizard sessions started",
		}, []string{"flow"}),
		WizardsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_wizards_submitted_total",
			Help: "Wizard sessions submitted successfully",
		}, []string{"flow"}),
		WizardsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_submit_failures_total",
			Help: "Failed wizard submissions",
		}, []string{"flow"}),
		WizardsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_wizards_closed_total",
			Help: "Wizard sessions removed from memory",
		}, []string{"flow", "reason"}),
		ActiveWizards: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "intake_wizards_active",
			Help: "Wizard sessions held in memory",
		}),
		SubmitDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "intake_submit_duration_seconds",
			Help:    "Wizard submission duration",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"flow"}),
		BackendRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "backend_requests_total",
			Help: "Backend API calls by area and status code",
		}, []string{"area", "code"}),
		BackendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "backend_request_duration_seconds",
			Help:    "Backend API call duration",
			Buckets: prometheus.DefBuckets,
		}, []string{"area"}),
		AssistantQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "assistant_queries_total",
			Help: "Assistant queries by outcome",
		}, []string{"outcome"}),
		JournalRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "journal_events_relayed_total",
			Help: "Wizard events published to Kafka",
		}),
		JournalPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "journal_events_pending",
			Help: "Wizard events waiting for the relay",
		}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
	}

	reg.MustRegister(
		m.WizardsStarted,
		m.WizardsSubmitted,
		m.WizardsFailed,
		m.WizardsClosed,
		m.ActiveWizards,
		m.SubmitDuration,
		m.BackendRequests,
		m.BackendDuration,
		m.AssistantQueries,
		m.JournalRelayed,
		m.JournalPending,
		m.CircuitBreakerState,
	)

	return m
}

// ObserveBackend records one backend call. status 0 means no response.
func (m *Metrics) ObserveBackend(area string, status int, duration time.Duration) {
	code := "error"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	m.BackendRequests.WithLabelValues(area, code).Inc()
	m.BackendDuration.WithLabelValues(area).Observe(duration.Seconds())
}

// ObserveAssistant counts one assistant query by outcome.
func (m *Metrics) ObserveAssistant(outcome string) {
	m.AssistantQueries.WithLabelValues(outcome).Inc()
}

// ObserveRelay records one relay batch and the backlog left behind it.
func (m *Metrics) ObserveRelay(relayed int, pending int64) {
	m.JournalRelayed.Add(float64(relayed))
	m.JournalPending.Set(float64(pending))
}

// SetBreakers publishes breaker states
func (m *Metrics) SetBreakers(statuses []circuitbreaker.Status) {
	for _, s := range statuses {
		var v float64
		switch s.State {
		case circuitbreaker.StateOpen:
			v = 1
		case circuitbreaker.StateHalfOpen:
			v = 2
		}
		m.CircuitBreakerState.WithLabelValues(s.Name).Set(v)
	}
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor serves the metrics of a specific gatherer
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
