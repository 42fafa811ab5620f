package cli

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/vladislavdragonenkov/jewelry/internal/domain"
	"github.com/vladislavdragonenkov/jewelry/internal/syncclient"
)

type moveOptions struct {
	parentID string
	server   bool
	asJSON   bool
}

func newMoveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &moveOptions{}

	cmd := &cobra.Command{
		Use:   "move <kind> <from> <to>",
		Short: "Move an item from one position to another (0-based)",
		Long: `Move an item within its group and renumber the group 1..N.

By default the new order is computed locally and sent as a bulk resequence;
if the server rejects it, the group is reloaded and printed as the server has it.
With --server the move is performed by the server in one request.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := parseKind(args[0])
			if err != nil {
				return err
			}
			from, err := parseIndex("from", args[1])
			if err != nil {
				return err
			}
			to, err := parseIndex("to", args[2])
			if err != nil {
				return err
			}

			scope := domain.Scope{Kind: kind, ParentID: opts.parentID}
			if opts.server {
				client, err := rootOpts.client(cmd)
				if err != nil {
					return err
				}
				items, err := client.Move(cmd.Context(), scope, from, to)
				if err != nil {
					return err
				}
				return printItems(cmd.OutOrStdout(), items, opts.asJSON)
			}
			return runBoardMove(cmd, rootOpts, scope, from, to, opts.asJSON)
		},
	}

	cmd.Flags().StringVar(&opts.parentID, "parent", "", "parent id (submasters)")
	cmd.Flags().BoolVar(&opts.server, "server", false, "perform the move on the server")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "print the resulting order as JSON")

	return cmd
}

func runBoardMove(cmd *cobra.Command, rootOpts *RootOptions, scope domain.Scope, from, to int, asJSON bool) error {
	board, err := openBoard(cmd, rootOpts, scope)
	if err != nil {
		return err
	}

	err = board.Reorder(cmd.Context(), from, to)
	if errors.Is(err, syncclient.ErrSyncFailed) {
		printf(cmd.ErrOrStderr(), "warning: server rejected the new order, showing the server state\n")
		if printErr := printItems(cmd.OutOrStdout(), board.Items(), asJSON); printErr != nil {
			return errors.Join(err, printErr)
		}
		return err
	}
	if err != nil {
		return err
	}
	return printItems(cmd.OutOrStdout(), board.Items(), asJSON)
}

func parseIndex(name, arg string) (int, error) {
	index, err := strconv.Atoi(arg)
	if err != nil {
		return 0, fmt.Errorf("invalid %s index %q: %w", name, arg, err)
	}
	return index, nil
}
