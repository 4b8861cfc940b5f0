package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// NewOutboxCommand creates the outbox command group.
func NewOutboxCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "Inspect and manage the outbound mutation queue",
	}
	cmd.AddCommand(newOutboxStatusCommand(rootOpts))
	cmd.AddCommand(newOutboxCancelCommand(rootOpts))
	return cmd
}

func newOutboxStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "status",
		Short:         "List outbox jobs and their retry state",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd.Context(), rootOpts)
			if err != nil {
				return err
			}
			defer app.Close()

			jobs, err := app.store.ListJobs(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tOP\tSTATUS\tATTEMPTS\tNEXT RETRY\tERROR")
			for _, job := range jobs {
				nextRetry := ""
				if !job.Status.Terminal() {
					nextRetry = job.NextRetryAt.Format("2006-01-02 15:04:05")
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
					job.ID, job.Operation, job.Status, job.Attempts, nextRetry, job.LastError)
			}
			return w.Flush()
		},
	}
}

func newOutboxCancelCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "cancel <job-id>",
		Short:         "Cancel a job and every job depending on it",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd.Context(), rootOpts)
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.worker.CancelJob(cmd.Context(), args[0], "cancelled by user"); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cancelled %s\n", args[0])
			return nil
		},
	}
}
