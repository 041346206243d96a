package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/url-acquirer/internal/acquisition"
)

// newReconcileCmd creates the 'reconcile' subcommand, which replays the
// durable events of a run into the registry file.
func newReconcileCmd() *cobra.Command {
	var runID string
	cmd := &cobra.Command{
		Use:   "reconcile <phase>",
		Short: "Fold recorded events of one phase into the registry",
		Long: `reconcile reads the events recorded for one phase (normalize, classify,
fetch, or process) from the event log and applies them to the registry file.
It is meant for the sqlite event log, after a run was interrupted. Without
--run the most recent run in the log is used.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			phase, err := acquisition.ParsePhase(args[0])
			if err != nil {
				return err
			}
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if runID == "" {
				if runID, err = a.Events.LatestRun(ctx); err != nil {
					return fmt.Errorf("find latest run: %w", err)
				}
			}
			a.Registry.Bind(a.Events, runID)
			stats, err := a.Registry.Reconcile(ctx, phase)
			if err != nil {
				return err
			}
			return printJSON(cmd, stats)
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "run id to replay (default: latest run in the event log)")
	return cmd
}
