package main

import (
	"fmt"
	"log/slog"

	"github.com/helixml/vecsync"
	"github.com/helixml/vecsync/internal/config"
)

// clientOptions returns the vecsync.Option slice derived from AppConfig.
// Callers append entrypoint-specific options before passing the full slice
// to vecsync.New.
func clientOptions(cfg config.AppConfig, logger *slog.Logger) []vecsync.Option {
	return []vecsync.Option{
		vecsync.WithDatabaseURL(cfg.DBURL()),
		vecsync.WithLogger(logger),
		vecsync.WithRetryConfig(cfg.Retry()),
		vecsync.WithWorkerConcurrency(cfg.Worker().Concurrency()),
		vecsync.WithModelDir(cfg.ModelDir()),
		vecsync.WithEmbeddingTimeout(cfg.EmbeddingTimeout()),
	}
}

// openClient creates a client and returns it with a close func that logs
// failures.
func openClient(cfg config.AppConfig, logger *slog.Logger, extra ...vecsync.Option) (*vecsync.Client, func(), error) {
	client, err := vecsync.New(append(clientOptions(cfg, logger), extra...)...)
	if err != nil {
		return nil, nil, fmt.Errorf("create vecsync client: %w", err)
	}
	return client, func() {
		if err := client.Close(); err != nil {
			logger.Error("failed to close vecsync client", slog.Any("error", err))
		}
	}, nil
}
