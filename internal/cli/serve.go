package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"calsyncd/internal/syncer"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the sync daemon",
		Long: `Run continuously: an initial sync on start, then periodic syncs and
outbox flushes on the configured cron schedules. Enqueue-triggered flushes
coalesce into at most one extra worker pass. Stops cleanly on SIGINT or
SIGTERM.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			parentCtx := cmd.Context()
			if parentCtx == nil {
				parentCtx = context.Background()
			}
			ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := openApp(ctx, rootOpts)
			if err != nil {
				return err
			}
			defer app.Close()

			// Wire enqueue-triggered flushes only in daemon mode; one-shot
			// commands drain explicitly.
			app.queue.SetFlushFunc(app.worker.TriggerFlush)

			sched := syncer.NewScheduler(app.engine)
			if err := sched.Start(ctx, app.cfg.SyncCron, app.cfg.FlushCron); err != nil {
				return err
			}
			slog.Info("daemon started", "sync_cron", app.cfg.SyncCron, "flush_cron", app.cfg.FlushCron)

			<-ctx.Done()
			slog.Info("shutting down")
			sched.Stop()
			return nil
		},
	}
}
