package cli

import (
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vladislavdragonenkov/jewelry/internal/domain"
)

type historyOptions struct {
	parentID string
	limit    int
	asJSON   bool
}

func newHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &historyOptions{}

	cmd := &cobra.Command{
		Use:   "history <kind>",
		Short: "Show recent sequence changes of a group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := parseKind(args[0])
			if err != nil {
				return err
			}
			client, err := rootOpts.client(cmd)
			if err != nil {
				return err
			}

			events, err := client.History(cmd.Context(), domain.Scope{Kind: kind, ParentID: opts.parentID}, opts.limit)
			if err != nil {
				return err
			}
			if opts.asJSON {
				return writeJSON(cmd.OutOrStdout(), events)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			printf(tw, "TIME\tTYPE\tITEM\tORDER\n")
			for _, event := range events {
				ids := make([]string, len(event.Order))
				for i, pair := range event.Order {
					ids[i] = pair.ID
				}
				item := event.ItemID
				if item == "" {
					item = "-"
				}
				printf(tw, "%s\t%s\t%s\t%s\n", event.OccurredAt.Format(time.RFC3339), event.Type, item, strings.Join(ids, ","))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&opts.parentID, "parent", "", "parent id (submasters)")
	cmd.Flags().IntVar(&opts.limit, "limit", 20, "number of events")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "print events as JSON")

	return cmd
}
