package cli

import (
	"fmt"

	"github.com/Sternrassler/console-store/internal/server"
	"github.com/spf13/cobra"
)

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <collection> <guid>",
		Short: "Fetch one entity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, rootOpts.Config)
			if err != nil {
				return err
			}
			defer a.Close()

			t, ok := server.ResolveType(a.store.Registry(), args[0])
			if !ok {
				return fmt.Errorf("unknown collection %q", args[0])
			}

			v, err := a.store.Entity(t, args[1]).Wait(ctx)
			if err != nil {
				return err
			}
			return NewOutputFormatter(rootOpts.Format, cmd.OutOrStdout()).Entity(args[1], v.Entity)
		},
	}
	return cmd
}
