package cli

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vladislavdragonenkov/jewelry/internal/messaging/kafka"
)

const defaultWatchGroup = "catalogctl-watch"

type watchOptions struct {
	brokers []string
	group   string
	kind    string
}

func newWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &watchOptions{}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print sequence events from Kafka until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			brokers := opts.brokers
			if len(brokers) == 0 {
				if env := strings.TrimSpace(os.Getenv("KAFKA_BROKERS")); env != "" {
					brokers = strings.Split(env, ",")
				}
			}
			if len(brokers) == 0 {
				return errors.New("kafka brokers are required (--brokers or KAFKA_BROKERS)")
			}

			consumer, err := kafka.NewConsumer(brokers, opts.group, eventPrinter(cmd.OutOrStdout(), opts.kind),
				kafka.WithConsumerLogger(rootOpts.logger(cmd)),
			)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			consumer.Start(ctx)
			<-ctx.Done()
			return consumer.Stop()
		},
	}

	cmd.Flags().StringSliceVar(&opts.brokers, "brokers", nil, "kafka brokers (default $KAFKA_BROKERS)")
	cmd.Flags().StringVar(&opts.group, "group", defaultWatchGroup, "consumer group id")
	cmd.Flags().StringVar(&opts.kind, "kind", "", "only print events of this kind")

	return cmd
}

// eventPrinter печатает одну строку на событие: время, тип, группу и новый порядок.
func eventPrinter(w io.Writer, kind string) kafka.SequenceHandler {
	return func(_ context.Context, _ kafka.Envelope, event kafka.SequenceEvent) error {
		if kind != "" && event.Kind != kind {
			return nil
		}
		ids := make([]string, len(event.Items))
		for i, pair := range event.Items {
			ids[i] = pair.ID
		}
		scope := event.Kind
		if event.ParentID != "" {
			scope += "/" + event.ParentID
		}
		printf(w, "%s %s %s [%s]\n", event.Timestamp.Format(time.RFC3339), event.EventType, scope, strings.Join(ids, ","))
		return nil
	}
}
