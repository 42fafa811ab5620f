package cli

import (
	"github.com/spf13/cobra"
)

type listOptions struct {
	parentID string
	asJSON   bool
}

func newListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &listOptions{}

	cmd := &cobra.Command{
		Use:   "list <kind>",
		Short: "List all items of a kind in sequence order",
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

			items, err := client.ListAll(cmd.Context(), kind, opts.parentID)
			if err != nil {
				return err
			}
			return printItems(cmd.OutOrStdout(), items, opts.asJSON)
		},
	}

	cmd.Flags().StringVar(&opts.parentID, "parent", "", "parent id (submasters)")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "print items as JSON")

	return cmd
}
