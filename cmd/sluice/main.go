package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"sluice/internal/config"
	"sluice/internal/enrichment"
	"sluice/internal/extraction"
	"sluice/internal/logger"
	"sluice/internal/output"
	"sluice/pkg/logging"
)

var (
	configFile string
	debugMode  bool
)

// @title           Sluice Admin API
// @version         1.0
// @description     Operational API for the sluice log pipeline: destinations, sources, failure index and health

// @license.name  Apache 2.0
// @license.url   http://www.apache.org/licenses/LICENSE-2.0.html

// @host      localhost:8080
// @BasePath  /

// @schemes   http

func main() {
	rootCmd := &cobra.Command{
		Use:   "sluice",
		Short: "Log ingestion, enrichment and routing pipeline",
		Long:  "sluice accepts logs over syslog, GELF, Lumberjack, HTTP, JSON lines and Kafka, extracts and enriches fields, and routes events to document stores, Kafka and a metrics sink",
		RunE:  serveCmd().RunE,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (required)")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug pipeline mode (console destinations, debug logging)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(validateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig(earlyLog *logging.EarlyLog) (*config.Config, error) {
	if configFile == "" {
		configFile = os.Getenv("CONFIG_FILE")
		if configFile == "" {
			earlyLog.Error("Config file is required. Use --config flag or CONFIG_FILE environment variable")
			return nil, fmt.Errorf("config file is required")
		}
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		earlyLog.Error("Failed to load config: %v", err)
		return nil, err
	}
	if debugMode {
		cfg.Pipeline.Debug = true
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			earlyLog := logging.NewEarlyLog()

			cfg, err := loadConfig(earlyLog)
			if err != nil {
				return err
			}

			log, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
			if err != nil {
				earlyLog.Error("Failed to init logger: %v", err)
				return err
			}
			defer log.Sync()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			log.InfowCtx(ctx, "Starting sluice", "debug", cfg.Pipeline.Debug)

			app := NewApp(cfg, log)
			if err := app.Initialize(ctx); err != nil {
				log.ErrorwCtx(ctx, "Failed to initialize application", "error", err)
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
				defer shutdownCancel()
				_ = app.Shutdown(shutdownCtx)
				return err
			}

			if err := app.Run(ctx); err != nil && err != context.Canceled {
				log.ErrorwCtx(ctx, "Pipeline stopped with error", "error", err)
				return err
			}
			log.InfowCtx(ctx, "Shutdown complete")
			return nil
		},
	}
}

// validateCmd compiles every rule, predicate and template without opening
// listeners or connecting to any backend.
func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			earlyLog := logging.NewEarlyLog()

			cfg, err := loadConfig(earlyLog)
			if err != nil {
				return err
			}

			checks := []struct {
				name string
				fn   func() error
			}{
				{"extraction rules", func() error { return extraction.Validate(cfg.Extraction.Rules) }},
				{"enrichment rules", func() error { return enrichment.Validate(cfg.Enrichment.Rules) }},
				{"destinations", func() error { return output.ValidateDestinations(cfg.Destinations) }},
			}
			for _, c := range checks {
				if err := c.fn(); err != nil {
					earlyLog.Error("Invalid %s: %v", c.name, err)
					return fmt.Errorf("invalid %s: %w", c.name, err)
				}
			}

			earlyLog.Info("Configuration %s is valid: %d inputs, %d extraction rules, %d enrichment rules, %d destinations",
				configFile, len(cfg.Inputs), len(cfg.Extraction.Rules), len(cfg.Enrichment.Rules), len(cfg.Destinations))
			return nil
		},
	}
}
