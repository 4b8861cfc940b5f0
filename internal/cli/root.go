// Package cli implements the calsyncd command line interface.
package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Config  string
}

// NewRootCommand creates the root command for the calsyncd CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "calsyncd",
		Short: "Local calendar store synchronized with a remote calendar",
		Long: `calsyncd keeps a local SQLite event store synchronized with a remote
calendar service through a durable outbox: local mutations queue as jobs
that survive restarts and retry independently, and remote changes pull in
incrementally via sync tokens.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if opts.Verbose {
				level = slog.LevelDebug
			}
			handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
			slog.SetDefault(slog.New(handler))
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Config, "config", "calsyncd.yaml", "path to config file")

	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewPushCommand(opts))
	cmd.AddCommand(NewOutboxCommand(opts))
	cmd.AddCommand(NewCalendarsCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))

	return cmd
}
