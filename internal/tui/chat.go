package tui

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/maatrinet/go-intake/internal/assistant"
	"github.com/maatrinet/go-intake/internal/backend"
)

// AskFunc reads the next user query.
type AskFunc func(ctx context.Context) (string, error)

// Chat runs an assistant conversation until the user types exit or quit, or
// ask fails.
func Chat(ctx context.Context, panel *assistant.Panel, ask AskFunc, out io.Writer) error {
	for _, m := range panel.Messages() {
		fmt.Fprintln(out, renderMessage(m))
	}
	fmt.Fprintln(out, Dim("Try: "+strings.Join(assistant.Suggestions, " | ")))

	for {
		q, err := ask(ctx)
		if err != nil {
			return err
		}
		q = strings.TrimSpace(q)
		switch strings.ToLower(q) {
		case "exit", "quit":
			return nil
		case "":
			continue
		}

		reply, ok := panel.Send(ctx, q)
		if !ok {
			continue
		}
		fmt.Fprintln(out, renderMessage(assistant.Message{Role: assistant.RoleUser, Text: q}))
		fmt.Fprintln(out, renderMessage(reply))
	}
}

func renderMessage(m assistant.Message) string {
	if m.Role == assistant.RoleUser {
		return userStyle.Render("you> ") + m.Text
	}
	s := botStyle.Render("sentinel> ") + m.Text
	if m.Plot != nil {
		s += "\n" + renderPlot(m.Plot)
	}
	return s
}

// renderPlot draws the plot data as a horizontal bar list.
func renderPlot(p *backend.PlotData) string {
	var b strings.Builder
	b.WriteString(Title(p.Title))
	top := 0.0
	for _, pt := range p.Data {
		if pt.Value > top {
			top = pt.Value
		}
	}
	for _, pt := range p.Data {
		n := 0
		if top > 0 {
			n = int(pt.Value / top * 30)
		}
		fmt.Fprintf(&b, "\n%-20s %s %g", pt.Name.String(), strings.Repeat("█", n), pt.Value)
	}
	return Box(b.String())
}
