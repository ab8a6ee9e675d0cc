package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/helixml/vecsync/internal/log"
	"github.com/helixml/vecsync/internal/mcp"
)

func stdioCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stdio",
		Short: "Serve the MCP status tools over stdio",
		Long: `Serve the vecsync MCP tools over stdin and stdout for AI assistants.

Tools: list_vectorizers, vectorizer_status, vectorizer_errors.
Logs go to stderr so stdout stays reserved for the protocol.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			logger := log.NewLoggerWithWriter(os.Stderr, cfg.LogFormat(), cfg.LogLevel()).Slog()
			logger.Info("starting vecsync MCP server", slog.String("version", version))

			client, closeClient, err := openClient(cfg, logger)
			if err != nil {
				return err
			}
			defer closeClient()

			return mcp.NewServer(client.Vectorizers(), client.Status(), version, logger).ServeStdio()
		},
	}
}
