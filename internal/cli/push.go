package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewPushCommand creates the push command.
func NewPushCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "push",
		Short: "Force-push the entire local store to the remote calendar",
		Long: `Treat the local store as authoritative: stamp every non-holiday record
with a fresh edit time, enqueue the outbound operation matching its shape,
and drain the outbox once. Use after restoring a local backup or when the
remote calendar has drifted.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd.Context(), rootOpts)
			if err != nil {
				return err
			}
			defer app.Close()

			res, err := app.engine.ForcePushAll(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "enqueued=%d processed=%d skipped=%d\n",
				res.Enqueued, res.Processed, res.Skipped)
			return nil
		},
	}
}
