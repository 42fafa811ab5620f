package cli

import (
	"github.com/spf13/cobra"

	"github.com/vladislavdragonenkov/jewelry/internal/syncclient"
)

func newResequenceCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resequence <kind> <id>...",
		Short: "Assign sequence 1..N to the given ids in argument order",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := parseKind(args[0])
			if err != nil {
				return err
			}
			client, err := rootOpts.client(cmd)
			if err != nil {
				return err
			}

			ids := args[1:]
			items := make([]syncclient.Item, len(ids))
			for i, id := range ids {
				items[i] = syncclient.Item{ID: id, Kind: kind, Sequence: i + 1}
			}

			updated, err := client.Resequence(cmd.Context(), kind, items)
			if err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "updated %d %s\n", updated, kind)
			return nil
		},
	}

	return cmd
}
