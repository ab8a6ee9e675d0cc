package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/helixml/vecsync/application/service"
	"github.com/helixml/vecsync/infrastructure/api"
	apimiddleware "github.com/helixml/vecsync/infrastructure/api/middleware"
	"github.com/helixml/vecsync/internal/config"
	"github.com/helixml/vecsync/internal/log"
)

func serveCmd() *cobra.Command {
	var (
		host       string
		port       int
		withWorker bool
		flags      workerFlags
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP status API",
		Long: `Start the read-only HTTP status API.

Routes:
  GET /healthz
  GET /api/v1/vectorizers
  GET /api/v1/vectorizers/{id}
  GET /api/v1/vectorizers/{id}/status[?exact=true]
  GET /api/v1/vectorizers/{id}/errors[?limit=N]
  POST /mcp                    MCP status tools over streamable HTTP

With --worker, a poll worker runs in the same process.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cfg = applyServeOverrides(cfg, host, port)
			if withWorker {
				if cfg, err = applyWorkerOverrides(cmd, cfg, flags); err != nil {
					return err
				}
			}
			return runServe(cmd.Context(), cfg, withWorker, flags)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Server host to bind to (default: 0.0.0.0)")
	cmd.Flags().IntVar(&port, "port", 0, "Server port to listen on (default: 8080)")
	cmd.Flags().BoolVar(&withWorker, "worker", false, "Also run a poll worker")
	addWorkerFlags(cmd, &flags)

	return cmd
}

func runServe(ctx context.Context, cfg config.AppConfig, withWorker bool, flags workerFlags) error {
	logger := log.Configure(cfg).Slog()
	attrs := append([]slog.Attr{slog.String("version", version)}, cfg.LogAttrs()...)
	logger.LogAttrs(ctx, slog.LevelInfo, "starting vecsync server", attrs...)

	client, closeClient, err := openClient(cfg, logger)
	if err != nil {
		return err
	}
	defer closeClient()

	server := api.NewServer(cfg.Addr(),
		api.WithLogger(logger),
		api.WithMiddleware(apimiddleware.Logging(logger)),
	)
	api.NewAPIServer(client, version).MountRoutes(server.Router())

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if withWorker {
		scheduler := client.Scheduler(cfg.Worker(), service.WithVectorizerIDs(flags.ids...))
		scheduler.Start(ctx)
		defer scheduler.Stop()
	}

	if err := server.Run(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// applyServeOverrides applies command line flag overrides to the config.
func applyServeOverrides(cfg config.AppConfig, host string, port int) config.AppConfig {
	var opts []config.AppConfigOption

	if host != "" {
		opts = append(opts, config.WithHost(host))
	}
	if port != 0 {
		opts = append(opts, config.WithPort(port))
	}

	return cfg.Apply(opts...)
}
