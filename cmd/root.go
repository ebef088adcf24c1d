// Package cmd defines and implements the CLI commands for the ingestd executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/moshe-connectio/car-template-demo/internal/config"
	"github.com/moshe-connectio/car-template-demo/internal/logging"
)

// runtimeKeyType is the key for storing the loaded runtime in the context.
type runtimeKeyType string

const runtimeKey runtimeKeyType = "runtime"

// appEnv carries what every subcommand needs once configuration is loaded.
type appEnv struct {
	cfg    config.Config
	logger *zap.Logger
}

// newLogger is the logger factory. It's a variable so tests can silence output.
var newLogger = logging.New

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "ingestd",
		Short: "Vehicle webhook ingestion service.",
		Long: `ingestd receives vehicle webhooks from the CRM, stores the vehicle
record, and mirrors its photos into object storage.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		// Runs before every subcommand: env file, config, logger.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("load .env: %w", err)
			}
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := newLogger(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			ctx := context.WithValue(cmd.Context(), runtimeKey, &appEnv{cfg: cfg, logger: logger})
			cmd.SetContext(logging.NewContext(ctx, logger))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if rt, err := resolveRuntime(cmd.Context()); err == nil {
				_ = rt.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, JSON or TOML); env vars use the INGEST_ prefix")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newFetchCmd())

	return cmd
}

func resolveRuntime(ctx context.Context) (*appEnv, error) {
	rt, ok := ctx.Value(runtimeKey).(*appEnv)
	if !ok || rt == nil {
		return nil, errors.New("configuration not loaded")
	}
	return rt, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
