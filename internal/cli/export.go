package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"calsyncd/internal/ics"
)

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:           "export",
		Short:         "Export the local event store as an iCalendar file",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd.Context(), rootOpts)
			if err != nil {
				return err
			}
			defer app.Close()

			events, err := app.store.ListEvents(cmd.Context())
			if err != nil {
				return err
			}

			body := ics.Export(events, time.Now())
			if output == "" || output == "-" {
				fmt.Fprint(cmd.OutOrStdout(), body)
				return nil
			}
			return os.WriteFile(output, []byte(body), 0o644)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "-", "output file (- for stdout)")
	return cmd
}
