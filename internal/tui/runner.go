package tui

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/maatrinet/go-intake/internal/domain/intake"
	"github.com/maatrinet/go-intake/internal/domain/wizard"
)

// ErrCancelled is returned when the user leaves a wizard.
var ErrCancelled = errors.New("wizard cancelled")

// Action is the navigation choice made at the end of a step.
type Action string

const (
	ActionNext   Action = "next"
	ActionBack   Action = "back"
	ActionSubmit Action = "submit"
	ActionCancel Action = "cancel"
)

// Prompt is one step as presented to the user.
type Prompt struct {
	Flow    string
	Step    int
	Steps   int
	Title   string
	Fields  []intake.FieldSpec
	Values  map[string]any
	Actions []Action
}

// Prompter asks the user to fill in a step and pick an action. The returned
// map holds the edited values keyed by field.
type Prompter interface {
	Step(ctx context.Context, p Prompt) (map[string]any, Action, error)
}

// Runner drives a wizard one step at a time.
type Runner struct {
	prompter Prompter
	out      io.Writer
	logger   *zap.Logger
}

func NewRunner(p Prompter, out io.Writer, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{prompter: p, out: out, logger: logger}
}

// Run loops until the wizard is submitted or cancelled and returns the
// backend response.
func (r *Runner) Run(ctx context.Context, w wizard.Instance) (json.RawMessage, error) {
	for {
		v := w.View()
		switch v.Phase {
		case wizard.PhaseSubmitted:
			return v.Response, nil
		case wizard.PhaseCancelled:
			return nil, ErrCancelled
		}

		if v.Error != "" {
			fmt.Fprintln(r.out, Error(v.Error))
			w.DismissError()
		}

		prompt, err := promptFor(v)
		if err != nil {
			return nil, err
		}
		fmt.Fprintln(r.out, stepStyle.Render(fmt.Sprintf("Step %d of %d", v.Step, len(v.Steps)))+" "+Title(prompt.Title))

		values, action, err := r.prompter.Step(ctx, prompt)
		if err != nil {
			w.Cancel()
			return nil, fmt.Errorf("%w: %v", ErrCancelled, err)
		}
		for _, f := range prompt.Fields {
			val, ok := values[f.Key]
			if !ok {
				continue
			}
			if err := w.SetField(f.Key, val); err != nil {
				fmt.Fprintln(r.out, Error(fmt.Sprintf("%s: %v", f.Label, err)))
			}
		}

		switch action {
		case ActionNext:
			if !w.Advance() {
				fmt.Fprintln(r.out, warnStyle.Render("Please complete the required fields before continuing."))
			}
		case ActionBack:
			w.Retreat()
		case ActionSubmit:
			if err := w.Submit(ctx); err != nil {
				r.logger.Debug("submit failed", zap.Error(err))
				if errors.Is(err, wizard.ErrNotSubmittable) {
					fmt.Fprintln(r.out, warnStyle.Render("Submit is only available on the last step."))
				}
			}
		case ActionCancel:
			w.Cancel()
		}
	}
}

func promptFor(v wizard.View) (Prompt, error) {
	values := map[string]any{}
	if len(v.Draft) > 0 {
		if err := json.Unmarshal(v.Draft, &values); err != nil {
			return Prompt{}, fmt.Errorf("decode draft: %w", err)
		}
	}

	step := v.Current()
	p := Prompt{
		Flow:   v.Flow,
		Step:   v.Step,
		Steps:  len(v.Steps),
		Title:  step.Title,
		Values: values,
	}
	for _, key := range step.Fields {
		spec, ok := intake.Spec(v.Flow, key)
		if !ok {
			spec = intake.FieldSpec{Key: key, Label: key, Kind: intake.KindText}
		}
		p.Fields = append(p.Fields, spec)
	}

	if v.Step > 1 {
		p.Actions = append(p.Actions, ActionBack)
	}
	if v.Step < len(v.Steps) {
		p.Actions = append(p.Actions, ActionNext)
	} else {
		p.Actions = append(p.Actions, ActionSubmit)
	}
	p.Actions = append(p.Actions, ActionCancel)
	return p, nil
}
