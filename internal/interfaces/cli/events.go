package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/turtacn/OptiFlow/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/OptiFlow/pkg/types/common"
)

// NewEventsCmd creates the events command: a tail of the solve event topic.
func NewEventsCmd() *cobra.Command {
	var (
		brokers   []string
		topic     string
		group     string
		fromStart bool
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Follow solve.completed events from Kafka",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			if len(brokers) == 0 {
				brokers = cliCtx.Config.Kafka.Brokers
			}
			if topic == "" {
				topic = cliCtx.Config.Kafka.Topic
			}
			consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
				Brokers:  brokers,
				Topic:    topic,
				GroupID:  group,
				FromHead: fromStart,
			}, cliCtx.Logger)
			if err != nil {
				return err
			}
			defer consumer.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx, cancel := context.WithCancel(ctx)
			defer cancel()

			handle := eventPrinter(cmd.OutOrStdout(), cliCtx.OutputFormat, limit, cancel)
			return consumer.Run(ctx, handle)
		},
	}
	cmd.Flags().StringSliceVar(&brokers, "brokers", nil, "Kafka brokers (default: kafka.brokers)")
	cmd.Flags().StringVar(&topic, "topic", "", "topic (default: kafka.topic)")
	cmd.Flags().StringVar(&group, "group", "optiflow-cli", "consumer group")
	cmd.Flags().BoolVar(&fromStart, "from-beginning", false, "start at the oldest retained event")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "stop after n events (0 follows forever)")
	return cmd
}

// eventPrinter writes each solve event and cancels after limit events.
func eventPrinter(w io.Writer, format string, limit int, cancel context.CancelFunc) kafka.EventHandler {
	seen := 0
	return func(ctx context.Context, env *kafka.EventEnvelope) error {
		if env.EventType != kafka.EventSolveCompleted {
			return nil
		}
		var ev common.SolveEvent
		if err := env.DecodePayload(&ev); err != nil {
			return err
		}
		if format == OutputJSON {
			if err := printJSON(w, ev); err != nil {
				return err
			}
		} else {
			line := fmt.Sprintf("%s  %-28s %-10s %6dms", ev.CompletedAt.Format("15:04:05.000"),
				ev.ProblemType, statusColor(ev.Status), ev.DurationMs)
			if ev.ObjectiveValue != nil {
				line += "  objective=" + formatNumber(*ev.ObjectiveValue)
			}
			if ev.ModelID != "" {
				line += "  model=" + ev.ModelID
			}
			if ev.ErrorCode != "" {
				line += "  " + color.RedString(ev.ErrorCode)
			}
			fmt.Fprintln(w, line)
		}
		seen++
		if limit > 0 && seen >= limit {
			cancel()
		}
		return nil
	}
}

//Personal.AI order the ending
