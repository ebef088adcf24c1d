package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/moshe-connectio/car-template-demo/internal/server"
)

// newServeCmd creates the 'serve' subcommand, which runs the webhook API
// until SIGINT or SIGTERM.
func newServeCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the webhook HTTP server",
		Example: `  # Serve with defaults (in-memory stores)
  ingestd serve

  # Serve with a config file on a custom port
  ingestd serve --config ingestd.yaml --port 9090`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			cfg := rt.cfg
			if port > 0 {
				cfg.Server.Port = port
			}

			app, err := server.Build(cmd.Context(), cfg, rt.logger)
			if err != nil {
				return fmt.Errorf("build application: %w", err)
			}
			if err := app.Run(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("run server: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "override server.port")
	return cmd
}
