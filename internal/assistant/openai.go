package assistant

import (
	"context"
	"errors"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/maatrinet/go-intake/internal/backend"
)

const systemPrompt = `You are Sentinel AI, a helpful assistant for the MaatriNet maternal and child health platform.
Answer briefly. For "how to" questions use the app routes:
- /login (roles: Admin, Authorizer, Hospital, Beneficiary)
- /dashboard/admin: users, hospitals, analytics
- /dashboard/authorizer: district analytics, high risk cases, off-track children
- /dashboard/hospital: patient list, register pregnancy
- /dashboard/beneficiary: the mother's own records
- /register: new mothers`

var greetingWords = map[string]bool{
	"hi": true, "hello": true, "hey": true, "greetings": true, "namaste": true,
	"hola": true, "howdy": true, "sup": true, "yo": true,
}

// GreetingReply answers small talk without calling a model.
var GreetingReply = "Hello! I am Sentinel AI, your maternal health data assistant. You can ask me questions like:\n\n" +
	"• \"" + strings.Join(Suggestions, "\"\n• \"") + "\"\n\n" +
	"How can I help you today?"

// IsGreeting reports whether the query is only a greeting.
func IsGreeting(query string) bool {
	words := strings.Fields(strings.ToLower(query))
	if len(words) == 0 {
		return false
	}
	all, greeted := true, false
	for _, w := range words {
		w = strings.Trim(w, "!?.,")
		switch {
		case greetingWords[w]:
			greeted = true
		case w == "":
		default:
			all = false
		}
	}
	return greeted && (all || len(words) <= 3)
}

// OpenAI answers queries with a chat completion model.
type OpenAI struct {
	client *openai.Client
	model  string
}

// NewOpenAI creates an OpenAI responder. baseURL may be empty.
func NewOpenAI(apiKey, model, baseURL string) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAI{client: openai.NewClientWithConfig(cfg), model: model}
}

func (o *OpenAI) Respond(ctx context.Context, query string) (*backend.AssistantReply, error) {
	if IsGreeting(query) {
		return &backend.AssistantReply{Response: GreetingReply, Action: "none"}, nil
	}

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: query},
		},
		Temperature: 0.2,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai: empty completion")
	}
	return &backend.AssistantReply{Response: resp.Choices[0].Message.Content, Action: "none"}, nil
}
