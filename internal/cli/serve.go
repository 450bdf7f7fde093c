package cli

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lakewriter/deltaingest/internal/config"
	"github.com/lakewriter/deltaingest/internal/engine"
)

// shutdownGrace bounds how long Shutdown waits for the write queue to
// drain.
const shutdownGrace = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the ingestion engine",
	Long: `Start the write queue dispatcher, the commit worker pool and the
background checkpointer, and block until interrupted.

deltaingestd has no network-facing API of its own.
serve brings up the engine for an embedding process to drive directly, or
for an operator to exercise with register-table while it runs.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := config.SetupLogger(&cfg.Logging)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng, err := engine.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	if err := eng.Start(); err != nil {
		return err
	}
	log.Info().Msg("deltaingestd started")

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := eng.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during shutdown")
		return err
	}
	log.Info().Msg("deltaingestd stopped gracefully")
	return nil
}

// loadConfig reads configPath if set, otherwise runs on documented defaults.
func loadConfig() (*config.Config, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	return config.LoadFromFile(configPath)
}
