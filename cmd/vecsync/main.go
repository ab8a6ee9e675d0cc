// Package main is the entry point for the vecsync CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/helixml/vecsync/internal/config"
)

// Version information set via ldflags during build.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vecsync",
		Short: "Keep vector embeddings in sync with database tables",
		Long: `vecsync watches source tables through change-capture triggers and keeps a
store of chunked, embedded records in sync with them.

Configuration is loaded in the following order (later sources override earlier):
  1. Default values
  2. .env file (if --env-file specified or .env exists in current directory)
  3. Environment variables
  4. Command line flags

Environment variables:
  DB_URL                       Database URL (default: sqlite:///vecsync.db)
  LOG_LEVEL                    Log level: DEBUG, INFO, WARN, ERROR (default: INFO)
  LOG_FORMAT                   Log format: pretty, json (default: pretty)
  MODEL_DIR                    Local embedding models (default: models)
  HOST, PORT                   Status API address (default: 0.0.0.0:8080)

  WORKER_POLL_INTERVAL         Duration or seconds between passes (default: 5m)
  WORKER_CONCURRENCY           Drain paths per pass, 0 keeps each vectorizer's own
  WORKER_LISTEN                Wake on PostgreSQL notifications (default: false)

  EMBEDDING_MAX_ATTEMPTS       Attempts for transient failures (default: 6)
  EMBEDDING_MAX_RATE_LIMIT_ATTEMPTS  Attempts for rate limits (default: 20)
  EMBEDDING_INITIAL_DELAY      First backoff delay (default: 1s)
  EMBEDDING_MAX_DELAY          Backoff cap (default: 60s)
  EMBEDDING_TIMEOUT            Provider request timeout (default: 60s)

Provider API keys are read from the variable each vectorizer names in
embedding.api_key_name (OPENAI_API_KEY, GEMINI_API_KEY by default).`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("env-file", "", "Path to .env file (default: .env in current directory)")

	cmd.AddCommand(workerCmd())
	cmd.AddCommand(createCmd())
	cmd.AddCommand(dropCmd())
	cmd.AddCommand(enableCmd())
	cmd.AddCommand(disableCmd())
	cmd.AddCommand(recoverCmd())
	cmd.AddCommand(requeueCmd())
	cmd.AddCommand(statusCmd())
	cmd.AddCommand(errorsCmd())
	cmd.AddCommand(serveCmd())
	cmd.AddCommand(stdioCmd())
	cmd.AddCommand(modelCmd())
	cmd.AddCommand(versionCmd())

	return cmd
}

// loadConfig loads configuration from the --env-file flag's .env file and
// environment variables.
func loadConfig(cmd *cobra.Command) (config.AppConfig, error) {
	envFile, err := cmd.Flags().GetString("env-file")
	if err != nil {
		return config.AppConfig{}, err
	}
	cfg, err := config.LoadConfig(envFile)
	if err != nil {
		return config.AppConfig{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
