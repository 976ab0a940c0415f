// Package circuitbreaker guards calls to the health backend with one
// sony/gobreaker breaker per backend area, reporting through OpenTelemetry.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// State is the position of a breaker
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// Config tunes a breaker.
type Config struct {
	Name string
	// Probes is how many calls a half-open breaker lets through
	Probes uint32
	// Window resets the closed-state counts
	Window time.Duration
	// Cooldown is how long a breaker stays open
	Cooldown time.Duration
	// ConsecutiveFailures trips the breaker while fewer than MinCalls were seen
	ConsecutiveFailures uint32
	// FailureRatio trips the breaker once MinCalls were seen
	FailureRatio float64
	MinCalls     uint32
	// IsSuccessful decides whether an error counts against the backend.
	// Nil counts every error.
	IsSuccessful func(err error) bool
}

// DefaultConfig returns the settings used for backend areas
func DefaultConfig(name string) Config {
	return Config{
		Name:                name,
		Probes:              2,
		Window:              time.Minute,
		Cooldown:            15 * time.Second,
		ConsecutiveFailures: 5,
		FailureRatio:        0.6,
		MinCalls:            10,
	}
}

// Breaker is a gobreaker breaker that traces and counts its calls.
type Breaker struct {
	cb     *gobreaker.CircuitBreaker
	name   string
	logger *zap.Logger
	tracer trace.Tracer

	calls    metric.Int64Counter
	failures metric.Int64Counter
	rejected metric.Int64Counter

	mu    sync.RWMutex
	state State
}

func New(cfg Config, logger *zap.Logger) (*Breaker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Breaker{
		name:   cfg.Name,
		logger: logger,
		tracer: otel.Tracer("circuit-breaker"),
		state:  StateClosed,
	}

	meter := otel.Meter("circuit-breaker")
	var err error
	if b.calls, err = meter.Int64Counter("backend_breaker_calls_total",
		metric.WithDescription("Backend calls made through a breaker")); err != nil {
		return nil, fmt.Errorf("calls counter: %w", err)
	}
	if b.failures, err = meter.Int64Counter("backend_breaker_failures_total",
		metric.WithDescription("Backend calls that counted as failures")); err != nil {
		return nil, fmt.Errorf("failures counter: %w", err)
	}
	if b.rejected, err = meter.Int64Counter("backend_breaker_rejected_total",
		metric.WithDescription("Backend calls refused by an open breaker")); err != nil {
		return nil, fmt.Errorf("rejected counter: %w", err)
	}

	ok := cfg.IsSuccessful
	if ok == nil {
		ok = func(err error) bool { return err == nil }
	}

	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.Probes,
		Interval:    cfg.Window,
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			if c.Requests < cfg.MinCalls {
				return c.ConsecutiveFailures >= cfg.ConsecutiveFailures
			}
			return float64(c.TotalFailures)/float64(c.Requests) >= cfg.FailureRatio
		},
		OnStateChange: func(_ string, from, to gobreaker.State) { b.transition(from, to) },
		IsSuccessful:  ok,
	})
	return b, nil
}

// IsRejected reports whether err came from an open or saturated breaker
func IsRejected(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// Execute runs fn unless the breaker is open.
func (b *Breaker) Execute(ctx context.Context, fn func() (any, error)) (any, error) {
	ctx, span := b.tracer.Start(ctx, "breaker "+b.name,
		trace.WithAttributes(
			attribute.String("breaker.area", b.name),
			attribute.String("breaker.state", string(b.State())),
		))
	defer span.End()

	area := metric.WithAttributes(attribute.String("area", b.name))
	b.calls.Add(ctx, 1, area)

	out, err := b.cb.Execute(fn)
	switch {
	case err == nil:
		return out, nil
	case IsRejected(err):
		b.rejected.Add(ctx, 1, area)
		span.SetAttributes(attribute.Bool("breaker.open", true))
	default:
		b.failures.Add(ctx, 1, area)
	}
	span.RecordError(err)
	return out, err
}

func (b *Breaker) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

func (b *Breaker) Counts() gobreaker.Counts {
	return b.cb.Counts()
}

func (b *Breaker) transition(from, to gobreaker.State) {
	b.mu.Lock()
	b.state = stateOf(to)
	b.mu.Unlock()

	b.logger.Warn("backend breaker changed state",
		zap.String("area", b.name),
		zap.String("from", string(stateOf(from))),
		zap.String("to", string(stateOf(to))))
}

func stateOf(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// Group keeps one breaker per backend area so an outage of the hospital
// endpoints leaves login and the assistant usable.
type Group struct {
	base   Config
	logger *zap.Logger

	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// NewGroup creates a group whose breakers share base except for Name
func NewGroup(base Config, logger *zap.Logger) *Group {
	return &Group{base: base, logger: logger, breakers: make(map[string]*Breaker)}
}

// For returns the breaker of area, creating it on first use
func (g *Group) For(area string) (*Breaker, error) {
	g.mu.RLock()
	b, ok := g.breakers[area]
	g.mu.RUnlock()
	if ok {
		return b, nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if b, ok := g.breakers[area]; ok {
		return b, nil
	}
	cfg := g.base
	cfg.Name = area
	b, err := New(cfg, g.logger)
	if err != nil {
		return nil, err
	}
	g.breakers[area] = b
	return b, nil
}

// Status is a snapshot of one area's breaker
type Status struct {
	Name     string `json:"name"`
	State    State  `json:"state"`
	Requests uint32 `json:"requests"`
	Failures uint32 `json:"failures"`
	Healthy  bool   `json:"healthy"`
}

// Statuses lists every area seen so far, sorted by name.
func (g *Group) Statuses() []Status {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]Status, 0, len(g.breakers))
	for area, b := range g.breakers {
		c := b.Counts()
		s := b.State()
		out = append(out, Status{
			Name:     area,
			State:    s,
			Requests: c.Requests,
			Failures: c.TotalFailures,
			Healthy:  s != StateOpen,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
