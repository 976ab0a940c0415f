package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maatrinet/go-intake/internal/backend"
)

type outcomes struct {
	mu  sync.Mutex
	got []string
}

func (o *outcomes) ObserveAssistant(outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.got = append(o.got, outcome)
}

func TestSendAppendsReply(t *testing.T) {
	rec := &outcomes{}
	p := NewPanel(ResponderFunc(func(ctx context.Context, q string) (*backend.AssistantReply, error) {
		return &backend.AssistantReply{
			Response: "There are 45 high-risk mothers.",
			Action:   "plot",
			PlotData: &backend.PlotData{ChartType: "bar", Title: "Risk"},
		}, nil
	}), rec, nil)

	reply, ok := p.Send(context.Background(), "How many high-risk pregnancies are there?")
	require.True(t, ok)
	assert.Equal(t, "There are 45 high-risk mothers.", reply.Text)
	assert.Equal(t, "bar", reply.Plot.ChartType)

	msgs := p.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, Greeting, msgs[0].Text)
	assert.Equal(t, RoleUser, msgs[1].Role)
	assert.Equal(t, RoleBot, msgs[2].Role)
	assert.Equal(t, []string{OutcomeAnswered}, rec.got)
}

func TestSendIgnoresBlankInput(t *testing.T) {
	called := false
	p := NewPanel(ResponderFunc(func(ctx context.Context, q string) (*backend.AssistantReply, error) {
		called = true
		return nil, nil
	}), nil, nil)

	_, ok := p.Send(context.Background(), "   ")
	assert.False(t, ok)
	assert.False(t, called)
	assert.Len(t, p.Messages(), 1)
}

func TestSendFailureUsesFallback(t *testing.T) {
	rec := &outcomes{}
	p := NewPanel(ResponderFunc(func(ctx context.Context, q string) (*backend.AssistantReply, error) {
		return nil, errors.New("dial tcp: connection refused")
	}), rec, nil)

	reply, ok := p.Send(context.Background(), "hello there friend, status?")
	require.True(t, ok)
	assert.Equal(t, FallbackReply, reply.Text)
	assert.False(t, p.Sending())
	assert.Equal(t, []string{OutcomeFailed}, rec.got)
}

func TestSendWhileInFlightIsIgnored(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	p := NewPanel(ResponderFunc(func(ctx context.Context, q string) (*backend.AssistantReply, error) {
		close(entered)
		<-release
		return &backend.AssistantReply{Response: "ok"}, nil
	}), nil, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Send(context.Background(), "first")
	}()
	<-entered

	assert.True(t, p.Sending())
	_, ok := p.Send(context.Background(), "second")
	assert.False(t, ok)

	close(release)
	<-done
	msgs := p.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "first", msgs[1].Text)
	assert.Equal(t, "ok", msgs[2].Text)
}

func TestIsGreeting(t *testing.T) {
	for q, want := range map[string]bool{
		"hi":                                  true,
		"Hello!":                              true,
		"namaste sentinel":                    true,
		"hey how are you today":               false,
		"?":                                   false,
		"":                                    false,
		"Show district-wise risk distribution": false,
	} {
		assert.Equal(t, want, IsGreeting(q), q)
	}
}

func TestOpenAIResponder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o-mini", req.Model)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"c1","object":"chat.completion","model":"gpt-4o-mini","choices":[{"index":0,"message":{"role":"assistant","content":"Open /register."},"finish_reason":"stop"}]}`)
	}))
	t.Cleanup(srv.Close)

	o := NewOpenAI("sk-test", "", srv.URL)

	reply, err := o.Respond(context.Background(), "How do I register a patient?")
	require.NoError(t, err)
	assert.Equal(t, "Open /register.", reply.Response)

	reply, err = o.Respond(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, GreetingReply, reply.Response)
}
