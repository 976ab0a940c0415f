package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/maatrinet/go-intake/internal/assistant"
	"github.com/maatrinet/go-intake/internal/config"
	"github.com/maatrinet/go-intake/internal/tui"
)

// Assistant returns the assistant command.
func Assistant() *cobra.Command {
	return &cobra.Command{
		Use:   "assistant",
		Short: "Chat with the health data assistant",
		Long:  "Ask questions about the data you can see. Type exit to leave.",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(cmd)
			if err != nil {
				return err
			}
			u, err := e.user()
			if err != nil {
				return err
			}

			var r assistant.Responder = assistant.Backend(e.as(u))
			if e.cfg.AssistantMode == config.AssistantOpenAI {
				r = assistant.NewOpenAI(e.cfg.OpenAIKey, e.cfg.OpenAIModel, "")
			}

			panel := assistant.NewPanel(r, nil, e.logger)
			ask := func(ctx context.Context) (string, error) { return tui.AskLine(ctx, "Ask") }
			return tui.Chat(cmd.Context(), panel, ask, e.out)
		},
	}
}
