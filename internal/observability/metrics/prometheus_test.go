package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/maatrinet/go-intake/pkg/circuitbreaker"
)

func TestObserveBackend(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveBackend("hospital", 200, 10*time.Millisecond)
	m.ObserveBackend("hospital", 200, 20*time.Millisecond)
	m.ObserveBackend("hospital", 0, time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.BackendRequests.WithLabelValues("hospital", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BackendRequests.WithLabelValues("hospital", "error")))
}

func TestSetBreakers(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.SetBreakers([]circuitbreaker.Status{
		{Name: "auth", State: circuitbreaker.StateClosed},
		{Name: "hospital", State: circuitbreaker.StateOpen},
		{Name: "admin", State: circuitbreaker.StateHalfOpen},
	})

	assert.Equal(t, 0.0, testutil.ToFloat64(m.CircuitBreakerState.WithLabelValues("auth")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CircuitBreakerState.WithLabelValues("hospital")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CircuitBreakerState.WithLabelValues("admin")))
}

func TestObserveRelay(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveRelay(3, 10)
	m.ObserveRelay(2, 8)

	assert.Equal(t, 5.0, testutil.ToFloat64(m.JournalRelayed))
	assert.Equal(t, 8.0, testutil.ToFloat64(m.JournalPending))
}
