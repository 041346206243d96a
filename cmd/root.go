// Package cmd defines and implements the CLI commands for the acquirer executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/url-acquirer/internal/app"
	"github.com/JakeFAU/url-acquirer/internal/config"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// rebuildsRegistry marks commands that replace the registry unless resuming.
const rebuildsRegistry = "rebuilds-registry"

// newApp is the application factory. It is a variable so tests can swap it.
var newApp = func(ctx context.Context, cfg config.Config, opts app.Options) (*app.App, error) {
	return app.New(ctx, cfg, opts)
}

// newRootCmd creates and configures the root command. The returned func
// closes the application built for the executed subcommand, whether or not
// the command succeeded.
func newRootCmd() (*cobra.Command, func()) {
	var (
		cfgFile string
		built   *app.App
	)
	cmd := &cobra.Command{
		Use:   "acquirer",
		Short: "Normalizes, classifies, and fetches lists of URLs into a durable registry.",
		Long: `acquirer reads a plain-text list of candidate URLs, canonicalizes and
de-duplicates them, classifies each as a page or document, downloads the
fetchable ones under robots.txt and per-host pacing, and records the state
of every item in a CSV registry.`,
		SilenceUsage: true,

		// Builds the application after flags and arguments are validated.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			opts := app.Options{
				FreshRegistry: cmd.Annotations[rebuildsRegistry] == "true" && !cfg.Registry.Resume,
			}
			appInstance, err := newApp(cmd.Context(), cfg, opts)
			if err != nil {
				return fmt.Errorf("initialize application services: %w", err)
			}
			built = appInstance
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); ACQUIRER_* env vars override it")

	cmd.AddCommand(
		newRunCmd(),
		newReconcileCmd(),
		newExportCmd(),
		newServeCmd(),
	)
	return cmd, func() {
		built.Close()
		built = nil
	}
}

func resolveApp(ctx context.Context) (*app.App, error) {
	appInstance, ok := ctx.Value(appKey).(*app.App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the command context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	root, closeApp := newRootCmd()
	err := root.ExecuteContext(ctx)
	closeApp()
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
