package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/maatrinet/go-intake/internal/domain/wizard"
	"github.com/maatrinet/go-intake/internal/infrastructure/redpanda"
	"github.com/maatrinet/go-intake/internal/tui"
)

// Events returns the events command group.
func Events() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect relayed wizard events",
	}
	cmd.AddCommand(tailEvents())
	return cmd
}

func tailEvents() *cobra.Command {
	var (
		fromStart bool
		group     string
		flow      string
	)

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print wizard events as they are published",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(cmd)
			if err != nil {
				return err
			}

			offset := "latest"
			if fromStart {
				offset = "earliest"
			}
			c, err := redpanda.NewConsumer(redpanda.ConsumerConfig{
				Brokers:     e.cfg.KafkaBrokers,
				GroupID:     group,
				Topics:      []string{e.cfg.EventsTopic},
				StartOffset: offset,
			}, printEvent(e.out, flow), e.logger)
			if err != nil {
				return err
			}
			return c.Run(cmd.Context())
		},
	}

	cmd.Flags().BoolVar(&fromStart, "from-start", false, "Read the topic from the beginning")
	cmd.Flags().StringVar(&group, "group", "", "Consumer group to commit offsets under")
	cmd.Flags().StringVar(&flow, "flow", "", "Only print events of this flow")
	return cmd
}

// printEvent writes one line per event. Records that are not events are
// reported and skipped.
func printEvent(out io.Writer, flow string) redpanda.MessageHandler {
	return func(_ context.Context, msg *redpanda.ConsumedMessage) error {
		var ev wizard.Event
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			fmt.Fprintln(out, tui.Error(fmt.Sprintf("offset %d: not a wizard event", msg.Offset)))
			return nil
		}
		if flow != "" && ev.Flow != flow {
			return nil
		}
		line := fmt.Sprintf("%s  %-18s %-20s step %d  v%d",
			ev.Timestamp.Format("15:04:05"), ev.Flow, ev.EventType, ev.Step, ev.Version)
		if ev.Detail != "" {
			line += "  " + tui.Dim(ev.Detail)
		}
		fmt.Fprintf(out, "%s  %s\n", tui.Dim(ev.WizardID), line)
		return nil
	}
}
