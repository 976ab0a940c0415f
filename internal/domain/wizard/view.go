package wizard

import (
	"context"
	"encoding/json"
	"time"
)

// Instance is the flow-independent surface of a Controller, used by code
// that hosts wizards of several variants side by side.
type Instance interface {
	ID() string
	FlowName() string
	SetField(key string, value any) error
	Advance() bool
	Retreat() bool
	Submit(ctx context.Context) error
	BeginSubmit() (*Submission, error)
	Cancel() bool
	DismissError()
	DrainChanges() []*Event
	View() View
}

var _ Instance = (*Controller[nopDraft, *nopDraft])(nil)

type nopDraft struct{}

func (*nopDraft) Set(string, any) error { return ErrUnknownField }

// StepView describes one step for rendering
type StepView struct {
	Index  int      `json:"index"`
	Title  string   `json:"title"`
	Fields []string `json:"fields"`
}

// View is a point-in-time rendering model of a wizard.
type View struct {
	ID         string          `json:"id"`
	Flow       string          `json:"flow"`
	Phase      Phase           `json:"phase"`
	Step       int             `json:"step"`
	Steps      []StepView      `json:"steps"`
	CanAdvance bool            `json:"can_advance"`
	CanSubmit  bool            `json:"can_submit"`
	Draft      json.RawMessage `json:"draft"`
	Error      string          `json:"error,omitempty"`
	Response   json.RawMessage `json:"response,omitempty"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Current returns the step currently shown
func (v View) Current() StepView {
	if v.Step < 1 || v.Step > len(v.Steps) {
		return StepView{}
	}
	return v.Steps[v.Step-1]
}

// View renders the controller state
func (c *Controller[T, P]) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()

	steps := make([]StepView, len(c.flow.Steps))
	for i, s := range c.flow.Steps {
		steps[i] = StepView{Index: i + 1, Title: s.Title, Fields: s.Fields}
	}

	draft, err := json.Marshal(c.draft)
	if err != nil {
		draft = json.RawMessage("{}")
	}

	return View{
		ID:         c.id,
		Flow:       c.flow.Name,
		Phase:      c.phase,
		Step:       c.step,
		Steps:      steps,
		CanAdvance: c.canAdvance(),
		CanSubmit:  c.canSubmit(),
		Draft:      draft,
		Error:      c.lastError,
		Response:   c.response,
		UpdatedAt:  c.updatedAt,
	}
}
