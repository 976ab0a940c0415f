// Package backend is the HTTP client for the maternal health backend API.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/maatrinet/go-intake/internal/domain/wizard"
	"github.com/maatrinet/go-intake/pkg/circuitbreaker"
)

// Config holds client configuration
type Config struct {
	BaseURL string
	Timeout time.Duration
	// Retries applies to GET requests only; writes are never repeated.
	Retries int
	Breaker circuitbreaker.Config
}

// DefaultConfig returns defaults for a local backend
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:8000",
		Timeout: 30 * time.Second,
		Retries: 2,
		Breaker: circuitbreaker.DefaultConfig("backend"),
	}
}

// Observer receives one sample per backend call.
type Observer interface {
	ObserveBackend(area string, status int, duration time.Duration)
}

// Client calls the backend through resty with one circuit breaker per API
// area.
type Client struct {
	http     *resty.Client
	breakers *circuitbreaker.Group
	tracer   trace.Tracer
	logger   *zap.Logger
	observer Observer
	token    string
}

// New creates a client
func New(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.Retries).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(3 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if r == nil || r.Request == nil || r.Request.Method != http.MethodGet {
				return false
			}
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		})

	breaker := cfg.Breaker
	breaker.IsSuccessful = func(err error) bool { return !countsAsFailure(err) }

	return &Client{
		http:     httpClient,
		breakers: circuitbreaker.NewGroup(breaker, logger),
		tracer:   otel.Tracer("backend-client"),
		logger:   logger,
	}
}

// WithObserver sets the call observer
func (c *Client) WithObserver(o Observer) *Client {
	c.observer = o
	return c
}

// WithToken returns a client that sends token as a bearer credential. The
// copy shares the connection pool and breakers.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.token = token
	return &cp
}

// Breakers exposes breaker health for readiness checks
func (c *Client) Breakers() []circuitbreaker.Status {
	return c.breakers.Statuses()
}

type call struct {
	method string
	path   string
	query  map[string]string
	body   any
	result any
}

// areaOf maps /api/<area>/... to a breaker name
func areaOf(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) >= 2 && parts[0] == "api" {
		return parts[1]
	}
	return "default"
}

func (c *Client) do(ctx context.Context, req call) ([]byte, error) {
	area := areaOf(req.path)
	ctx, span := c.tracer.Start(ctx, "backend "+req.method+" "+req.path,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", req.method),
			attribute.String("backend.area", area),
		))
	defer span.End()

	cb, err := c.breakers.For(area)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	status := 0
	out, err := cb.Execute(ctx, func() (any, error) {
		r := c.http.R().
			SetContext(ctx).
			SetError(&errorBody{})
		if c.token != "" {
			r.SetAuthToken(c.token)
		}
		if req.query != nil {
			r.SetQueryParams(req.query)
		}
		if req.body != nil {
			r.SetBody(req.body)
		}
		if req.result != nil {
			r.SetResult(req.result)
		}

		resp, err := r.Execute(req.method, req.path)
		if err != nil {
			return nil, fmt.Errorf("%w: %s %s: %v", ErrUnavailable, req.method, req.path, err)
		}
		status = resp.StatusCode()
		if resp.IsError() {
			apiErr := &APIError{Status: status, Method: req.method, Path: req.path}
			if body, ok := resp.Error().(*errorBody); ok {
				apiErr.Detail = body.message()
			}
			return nil, apiErr
		}
		return resp.Body(), nil
	})

	if c.observer != nil {
		c.observer.ObserveBackend(area, status, time.Since(started))
	}
	span.SetAttributes(attribute.Int("http.status_code", status))

	if err != nil {
		if circuitbreaker.IsRejected(err) {
			err = fmt.Errorf("%w: %s circuit open: %v", ErrUnavailable, area, err)
		}
		span.SetStatus(codes.Error, err.Error())
		c.logger.Warn("backend call failed",
			zap.String("method", req.method),
			zap.String("path", req.path),
			zap.Int("status", status),
			zap.Error(err))
		return nil, err
	}

	body, _ := out.([]byte)
	return body, nil
}

func (c *Client) get(ctx context.Context, path string, query map[string]string, result any) error {
	_, err := c.do(ctx, call{method: http.MethodGet, path: path, query: query, result: result})
	return err
}

func (c *Client) post(ctx context.Context, path string, body, result any) error {
	_, err := c.do(ctx, call{method: http.MethodPost, path: path, body: body, result: result})
	return err
}

// Submitter adapts a POST endpoint to the wizard submit collaborator. The
// response body is passed through undecoded.
func (c *Client) Submitter(path string) wizard.Submitter {
	return wizard.SubmitFunc(func(ctx context.Context, payload wizard.Payload) (json.RawMessage, error) {
		body, err := c.do(ctx, call{method: http.MethodPost, path: path, body: payload})
		if err != nil {
			return nil, err
		}
		if len(body) == 0 {
			return json.RawMessage("null"), nil
		}
		if !json.Valid(body) {
			return nil, errors.New("backend returned a non-JSON body")
		}
		return json.RawMessage(body), nil
	})
}

// WithCredentials adds fields that never live in a draft, such as the
// password of a self-registration, to every payload sent through s.
func WithCredentials(s wizard.Submitter, extra map[string]any) wizard.Submitter {
	return wizard.SubmitFunc(func(ctx context.Context, payload wizard.Payload) (json.RawMessage, error) {
		merged := make(wizard.Payload, len(payload)+len(extra))
		for k, v := range payload {
			merged[k] = v
		}
		for k, v := range extra {
			merged[k] = v
		}
		return s.Submit(ctx, merged)
	})
}

func stateQuery(state string) map[string]string {
	if state == "" {
		return nil
	}
	return map[string]string{"state": state}
}
