package cmd

import (
	"github.com/spf13/cobra"
)

// newExportCmd creates the 'export' subcommand, which upserts the registry
// file into Postgres.
func newExportCmd() *cobra.Command {
	var runID string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Upsert the registry into the configured Postgres table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			exp, err := a.OpenExporter(ctx)
			if err != nil {
				return err
			}
			defer exp.Close()

			if runID == "" {
				runID = a.RunID.String()
			}
			n, err := exp.Export(ctx, runID, a.Registry.Items())
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"run_id": runID, "rows": n})
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "run id stored with each row (default: a new run id)")
	return cmd
}
