package tui

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"

	"github.com/maatrinet/go-intake/internal/domain/intake"
)

// HuhPrompter renders steps as huh forms.
type HuhPrompter struct {
	// Accessible switches huh to its screen reader friendly mode.
	Accessible bool
}

var actionLabels = map[Action]string{
	ActionNext:   "Next",
	ActionBack:   "Back",
	ActionSubmit: "Submit",
	ActionCancel: "Cancel",
}

func (h HuhPrompter) Step(ctx context.Context, p Prompt) (map[string]any, Action, error) {
	texts := make(map[string]*string)
	flags := make(map[string]*bool)

	fields := make([]huh.Field, 0, len(p.Fields))
	for _, f := range p.Fields {
		title := f.Label
		if f.Required {
			title += " *"
		}

		if f.Kind == intake.KindFlag {
			b, _ := p.Values[f.Key].(bool)
			flags[f.Key] = &b
			fields = append(fields, huh.NewConfirm().Title(title).Affirmative("Yes").Negative("No").Value(&b))
			continue
		}

		s := textValue(p.Values[f.Key])
		texts[f.Key] = &s
		if len(f.Options) > 0 {
			opts := []huh.Option[string]{huh.NewOption("(none)", "")}
			opts = append(opts, huh.NewOptions(f.Options...)...)
			fields = append(fields, huh.NewSelect[string]().Title(title).Options(opts...).Value(&s))
			continue
		}
		input := huh.NewInput().Title(title).Value(&s).Validate(validator(f.Kind))
		if f.Kind == intake.KindDate {
			input = input.Placeholder(intake.DateLayout)
		}
		fields = append(fields, input)
	}

	action := p.Actions[0]
	if len(p.Actions) > 1 && p.Actions[1] != ActionCancel {
		action = p.Actions[1]
	}
	choices := make([]huh.Option[Action], 0, len(p.Actions))
	for _, a := range p.Actions {
		choices = append(choices, huh.NewOption(actionLabels[a], a))
	}

	groups := []*huh.Group{}
	if len(fields) > 0 {
		groups = append(groups, huh.NewGroup(fields...).
			Title(fmt.Sprintf("Step %d of %d", p.Step, p.Steps)).
			Description(p.Title))
	}
	groups = append(groups, huh.NewGroup(
		huh.NewSelect[Action]().Title("Continue").Options(choices...).Value(&action),
	))

	form := huh.NewForm(groups...).WithAccessible(h.Accessible)
	if err := form.RunWithContext(ctx); err != nil {
		return nil, "", err
	}

	values := make(map[string]any, len(texts)+len(flags))
	for k, s := range texts {
		values[k] = strings.TrimSpace(*s)
	}
	for k, b := range flags {
		values[k] = *b
	}
	return values, action, nil
}

func textValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

func validator(kind intake.Kind) func(string) error {
	return func(s string) error {
		s = strings.TrimSpace(s)
		if s == "" {
			return nil
		}
		switch kind {
		case intake.KindInt:
			if _, err := strconv.Atoi(s); err != nil {
				return fmt.Errorf("enter a whole number")
			}
		case intake.KindDecimal:
			if _, err := strconv.ParseFloat(s, 64); err != nil {
				return fmt.Errorf("enter a number")
			}
		case intake.KindDate:
			if _, err := time.Parse(intake.DateLayout, s); err != nil {
				return fmt.Errorf("use the format YYYY-MM-DD")
			}
		}
		return nil
	}
}

// AskLine prompts for one line of text.
func AskLine(ctx context.Context, title string) (string, error) {
	var s string
	form := huh.NewForm(huh.NewGroup(huh.NewInput().Title(title).Value(&s)))
	if err := form.RunWithContext(ctx); err != nil {
		return "", err
	}
	return s, nil
}

// AskSecret prompts for a value without echoing it.
func AskSecret(ctx context.Context, title string) (string, error) {
	var s string
	input := huh.NewInput().
		Title(title).
		EchoMode(huh.EchoModePassword).
		Validate(func(v string) error {
			if v == "" {
				return errors.New("required")
			}
			return nil
		}).
		Value(&s)
	if err := huh.NewForm(huh.NewGroup(input)).RunWithContext(ctx); err != nil {
		return "", err
	}
	return s, nil
}
