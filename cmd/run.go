package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/url-acquirer/internal/api"
	"github.com/JakeFAU/url-acquirer/internal/input"
	"github.com/JakeFAU/url-acquirer/internal/pipeline"
)

// newRunCmd creates the 'run' subcommand. The input file is read while
// arguments are validated, so a missing or empty file fails before any
// service is built or any request is made.
func newRunCmd() *cobra.Command {
	var lines []string
	return &cobra.Command{
		Use:         "run <input-file>",
		Short:       "Acquire every URL listed in the input file",
		Annotations: map[string]string{rebuildsRegistry: "true"},
		Args: func(cmd *cobra.Command, args []string) error {
			if err := cobra.ExactArgs(1)(cmd, args); err != nil {
				return err
			}
			read, err := input.ReadFile(args[0])
			if err != nil {
				return err
			}
			lines = read
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPipeline(cmd, lines)
		},
	}
}

func runPipeline(cmd *cobra.Command, lines []string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	var exporter pipeline.Exporter
	if a.Config.Export.OnRun {
		exp, err := a.OpenExporter(ctx)
		if err != nil {
			return err
		}
		defer exp.Close()
		exporter = exp
	}

	p, err := a.Pipeline(exporter)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	serverCtx, stopServer := context.WithCancel(ctx)
	if a.Config.Server.Enabled {
		srv := api.NewServer(api.Live(a.Registry), a.Logger.Named("api"))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.ListenAndServe(serverCtx, a.Config.Server.Addr); err != nil {
				a.Logger.Error("status server failed", zap.Error(err))
			}
		}()
	}

	report, runErr := p.Run(ctx, lines)
	stopServer()
	wg.Wait()
	if runErr != nil {
		return fmt.Errorf("run acquisition: %w", runErr)
	}
	return printJSON(cmd, report.Summary)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
