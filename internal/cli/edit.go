package cli

import (
	"encoding/json"
	"errors"

	"github.com/spf13/cobra"

	"github.com/vladislavdragonenkov/jewelry/internal/domain"
	"github.com/vladislavdragonenkov/jewelry/internal/syncclient"
)

type editOptions struct {
	parentID   string
	attributes string
	asJSON     bool
}

func newAddCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &editOptions{}

	cmd := &cobra.Command{
		Use:   "add <kind> <name>",
		Short: "Append an item to the end of its group",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := parseKind(args[0])
			if err != nil {
				return err
			}
			in := syncclient.NewItem{Name: args[1]}
			if opts.attributes != "" {
				if !json.Valid([]byte(opts.attributes)) {
					return errors.New("invalid --attrs: not a JSON document")
				}
				in.Attributes = json.RawMessage(opts.attributes)
			}

			board, err := openBoard(cmd, rootOpts, domain.Scope{Kind: kind, ParentID: opts.parentID})
			if err != nil {
				return err
			}
			created, err := board.Append(cmd.Context(), in)
			if err != nil {
				return err
			}
			rootOpts.logger(cmd).WithField("id", created.ID).Debug("item created")
			return printItems(cmd.OutOrStdout(), board.Items(), opts.asJSON)
		},
	}

	cmd.Flags().StringVar(&opts.parentID, "parent", "", "parent id (submasters)")
	cmd.Flags().StringVar(&opts.attributes, "attrs", "", "attributes as a JSON object")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "print the resulting group as JSON")

	return cmd
}

func newRemoveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &editOptions{}

	cmd := &cobra.Command{
		Use:     "rm <kind> <id>",
		Aliases: []string{"remove"},
		Short:   "Delete an item; the rest of the group is renumbered",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := parseKind(args[0])
			if err != nil {
				return err
			}
			board, err := openBoard(cmd, rootOpts, domain.Scope{Kind: kind, ParentID: opts.parentID})
			if err != nil {
				return err
			}
			if err := board.Remove(cmd.Context(), args[1]); err != nil {
				return err
			}
			return printItems(cmd.OutOrStdout(), board.Items(), opts.asJSON)
		},
	}

	cmd.Flags().StringVar(&opts.parentID, "parent", "", "parent id (submasters)")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "print the resulting group as JSON")

	return cmd
}

func newRenameCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &editOptions{}

	cmd := &cobra.Command{
		Use:   "rename <kind> <id> <name>",
		Short: "Change the name of an item",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := parseKind(args[0])
			if err != nil {
				return err
			}
			client, err := rootOpts.client(cmd)
			if err != nil {
				return err
			}

			// Версия берётся из свежего чтения; конкурентная правка вернёт 409.
			item, err := client.Get(cmd.Context(), kind, args[1])
			if err != nil {
				return err
			}
			item.Name = args[2]
			updated, err := client.Update(cmd.Context(), item)
			if err != nil {
				return err
			}
			return printItems(cmd.OutOrStdout(), []syncclient.Item{updated}, opts.asJSON)
		},
	}

	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "print the updated item as JSON")

	return cmd
}

// openBoard создаёт доску группы и загружает её текущий порядок.
func openBoard(cmd *cobra.Command, rootOpts *RootOptions, scope domain.Scope) (*syncclient.Board, error) {
	client, err := rootOpts.client(cmd)
	if err != nil {
		return nil, err
	}
	board := syncclient.NewBoard(client, scope,
		syncclient.WithBoardLogger(rootOpts.logger(cmd)),
		syncclient.WithSyncTimeout(rootOpts.Timeout),
	)
	if err := board.Refresh(cmd.Context()); err != nil {
		return nil, err
	}
	return board, nil
}
