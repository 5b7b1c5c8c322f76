package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/NofaBC/prospector-api/internal/app"
	"github.com/NofaBC/prospector-api/internal/config"
	"github.com/NofaBC/prospector-api/internal/logging"
)

// newServeCmd creates the 'serve' subcommand that runs the HTTP API.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Starts the prospector HTTP API",
		Long: `Starts the HTTP API that accepts prospecting jobs, advances their
batches, and reports their status. The server runs until interrupted and
shuts down gracefully.`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("assembling application: %w", err)
	}
	return application.Run(ctx)
}
