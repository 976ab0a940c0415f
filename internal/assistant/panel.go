// Package assistant holds the chat panel that talks to the health data
// assistant, either through the backend or directly through OpenAI.
package assistant

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/maatrinet/go-intake/internal/backend"
)

// Greeting is the first bot message of a new panel.
const Greeting = "Health Sentinel online. Monitoring district vitals. How can I assist?"

// FallbackReply is shown when the responder fails.
const FallbackReply = "Connection to Sentinel Core interrupted. Please try again."

// Roles of a message
const (
	RoleUser = "user"
	RoleBot  = "bot"
)

// Outcomes reported to the Recorder
const (
	OutcomeAnswered = "answered"
	OutcomeFailed   = "failed"
)

// Suggestions are prompts a UI can offer as shortcuts.
var Suggestions = []string{
	"How many high-risk pregnancies are there?",
	"Show district-wise risk distribution",
	"Which states have the most beneficiaries?",
	"How do I register a patient?",
}

// Message is one entry of the conversation.
type Message struct {
	Role   string            `json:"role"`
	Text   string            `json:"text"`
	Action string            `json:"action,omitempty"`
	Plot   *backend.PlotData `json:"plot_data,omitempty"`
	At     time.Time         `json:"at"`
}

// Responder answers a single query.
type Responder interface {
	Respond(ctx context.Context, query string) (*backend.AssistantReply, error)
}

// ResponderFunc adapts a function to Responder.
type ResponderFunc func(ctx context.Context, query string) (*backend.AssistantReply, error)

func (f ResponderFunc) Respond(ctx context.Context, query string) (*backend.AssistantReply, error) {
	return f(ctx, query)
}

// Backend answers through the backend assistant endpoint.
func Backend(c *backend.Client) Responder {
	return ResponderFunc(c.AssistantQuery)
}

// Recorder receives one outcome per accepted query.
type Recorder interface {
	ObserveAssistant(outcome string)
}

// Panel is a conversation with the assistant. It is safe for concurrent use;
// a send that arrives while another is in flight is ignored.
type Panel struct {
	responder Responder
	recorder  Recorder
	logger    *zap.Logger
	now       func() time.Time

	mu       sync.Mutex
	messages []Message
	sending  bool
}

// NewPanel creates a panel that opens with the greeting.
func NewPanel(r Responder, recorder Recorder, logger *zap.Logger) *Panel {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Panel{responder: r, recorder: recorder, logger: logger, now: time.Now}
	p.messages = []Message{{Role: RoleBot, Text: Greeting, At: p.now()}}
	return p
}

// Send asks the assistant. It returns the bot reply and false when the text
// is blank or another send is running.
func (p *Panel) Send(ctx context.Context, text string) (Message, bool) {
	if strings.TrimSpace(text) == "" {
		return Message{}, false
	}

	p.mu.Lock()
	if p.sending {
		p.mu.Unlock()
		return Message{}, false
	}
	p.sending = true
	p.messages = append(p.messages, Message{Role: RoleUser, Text: text, At: p.now()})
	p.mu.Unlock()

	reply := Message{Role: RoleBot}
	resp, err := p.responder.Respond(ctx, text)
	outcome := OutcomeAnswered
	if err != nil || resp == nil {
		outcome = OutcomeFailed
		p.logger.Warn("assistant query failed", zap.Error(err))
		reply.Text = FallbackReply
	} else {
		reply.Text = resp.Response
		reply.Action = resp.Action
		reply.Plot = resp.PlotData
	}
	if p.recorder != nil {
		p.recorder.ObserveAssistant(outcome)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	reply.At = p.now()
	p.messages = append(p.messages, reply)
	p.sending = false
	return reply, true
}

// Sending reports whether a query is in flight.
func (p *Panel) Sending() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sending
}

// Messages returns a copy of the conversation.
func (p *Panel) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Message, len(p.messages))
	copy(out, p.messages)
	return out
}
