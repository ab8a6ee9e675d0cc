package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/helixml/vecsync/application/service"
	"github.com/helixml/vecsync/internal/config"
	"github.com/helixml/vecsync/internal/log"
)

type workerFlags struct {
	ids          []int64
	pollInterval string
	once         bool
	concurrency  int
	listen       bool
}

func workerCmd() *cobra.Command {
	var flags workerFlags

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Drain vectorizer queues into their embedding stores",
		Long: `Run worker passes over every active vectorizer, or only those selected with
--vectorizer-id. A pass claims queued keys, re-reads the rows, chunks, formats
and embeds them, and replaces their records.

The worker polls on --poll-interval. With --listen on PostgreSQL it also wakes
as soon as capture triggers or database cron jobs signal new work.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cfg, err = applyWorkerOverrides(cmd, cfg, flags)
			if err != nil {
				return err
			}
			return runWorker(cmd.Context(), cfg, flags)
		},
	}

	addWorkerFlags(cmd, &flags)
	cmd.Flags().BoolVar(&flags.once, "once", false, "Run one pass per vectorizer and exit")

	return cmd
}

func addWorkerFlags(cmd *cobra.Command, flags *workerFlags) {
	cmd.Flags().Int64SliceVar(&flags.ids, "vectorizer-id", nil, "Only process these vectorizers (repeatable)")
	cmd.Flags().StringVar(&flags.pollInterval, "poll-interval", "", "Time between passes, a duration or seconds (default: 5m)")
	cmd.Flags().IntVar(&flags.concurrency, "concurrency", 0, "Drain paths per pass, overriding each vectorizer's setting")
	cmd.Flags().BoolVar(&flags.listen, "listen", false, "Wake on PostgreSQL notifications")
}

// applyWorkerOverrides applies command line flag overrides to the config.
func applyWorkerOverrides(cmd *cobra.Command, cfg config.AppConfig, flags workerFlags) (config.AppConfig, error) {
	worker := cfg.Worker()
	if flags.pollInterval != "" {
		interval, err := config.ParseInterval(flags.pollInterval)
		if err != nil {
			return config.AppConfig{}, err
		}
		worker = worker.WithPollInterval(interval)
	}
	if cmd.Flags().Changed("concurrency") {
		worker = worker.WithConcurrency(flags.concurrency)
	}
	if cmd.Flags().Changed("listen") {
		worker = worker.WithListen(flags.listen)
	}
	return cfg.Apply(config.WithWorkerConfig(worker)), nil
}

func runWorker(ctx context.Context, cfg config.AppConfig, flags workerFlags) error {
	logger := log.Configure(cfg).Slog()
	attrs := append([]slog.Attr{slog.String("version", version)}, cfg.LogAttrs()...)
	logger.LogAttrs(ctx, slog.LevelInfo, "starting vecsync worker", attrs...)

	client, closeClient, err := openClient(cfg, logger)
	if err != nil {
		return err
	}
	defer closeClient()

	scheduler := client.Scheduler(cfg.Worker(), service.WithVectorizerIDs(flags.ids...))
	if flags.once {
		return scheduler.RunOnce(ctx)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	scheduler.Start(ctx)
	<-ctx.Done()
	logger.Info("shutting down worker")
	scheduler.Stop()
	return nil
}
