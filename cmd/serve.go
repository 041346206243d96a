package cmd

import (
	"github.com/spf13/cobra"

	"github.com/JakeFAU/url-acquirer/internal/api"
)

// newServeCmd creates the 'serve' subcommand, a read-only status API over
// the registry file.
func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve registry status over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if addr == "" {
				addr = a.Config.Server.Addr
			}
			srv := api.NewServer(api.File(a.Config.Registry.Path), a.Logger.Named("api"))
			return srv.ListenAndServe(cmd.Context(), addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default: server.addr)")
	return cmd
}
