package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"calsyncd/internal/model"
)

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		full        bool
		windowStart string
		windowEnd   string
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one push+pull sync cycle now",
		Long: `Drain the outbox against the remote calendar, then pull remote changes
into the local store. With no stored sync token the pull is a full
resynchronization; otherwise an incremental delta pull.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd.Context(), rootOpts)
			if err != nil {
				return err
			}
			defer app.Close()

			if windowStart != "" || windowEnd != "" {
				window, err := parseWindow(windowStart, windowEnd)
				if err != nil {
					return err
				}
				if err := app.store.SetSyncWindow(cmd.Context(), window); err != nil {
					return err
				}
			}
			if full {
				if err := app.store.RequestFullBackfill(cmd.Context()); err != nil {
					return err
				}
			}

			res, err := app.engine.RunSyncNow(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "mode=%s pulled=%d pushed=%d outbox_remaining=%d\n",
				res.Mode, res.PulledEvents, res.PushedJobs, res.OutboxRemaining)
			return nil
		},
	}

	cmd.Flags().BoolVar(&full, "full", false, "discard the sync token and pull everything, ignoring the window")
	cmd.Flags().StringVar(&windowStart, "window-start", "", "bound full pulls: earliest event time (RFC 3339)")
	cmd.Flags().StringVar(&windowEnd, "window-end", "", "bound full pulls: latest event time (RFC 3339)")
	return cmd
}

func parseWindow(start, end string) (model.Settings, error) {
	var window model.Settings
	if start == "" || end == "" {
		return window, fmt.Errorf("--window-start and --window-end must be given together")
	}

	var err error
	if window.WindowStart, err = time.Parse(time.RFC3339, start); err != nil {
		return window, fmt.Errorf("parse --window-start: %w", err)
	}
	if window.WindowEnd, err = time.Parse(time.RFC3339, end); err != nil {
		return window, fmt.Errorf("parse --window-end: %w", err)
	}
	if !window.WindowEnd.After(window.WindowStart) {
		return window, fmt.Errorf("--window-end must be after --window-start")
	}
	return window, nil
}
