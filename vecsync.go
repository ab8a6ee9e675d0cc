// Package vecsync keeps vector embeddings in sync with the rows of a
// relational table.
//
// A vectorizer watches a source table through change-capture triggers,
// queues the primary keys of changed rows, and a worker turns each queued
// row into chunked, formatted and embedded records in a store table.
//
// Basic usage:
//
//	client, err := vecsync.New(
//	    vecsync.WithPostgres("postgres://localhost/app"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	def, err := vectorizer.ParseDefinition(yamlBytes)
//	v, err := client.Vectorizers().Create(ctx, def)
//
//	// Drain the queue once
//	result, err := client.Worker().Run(ctx, v.ID())
package vecsync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/helixml/vecsync/application/service"
	"github.com/helixml/vecsync/infrastructure/persistence"
	"github.com/helixml/vecsync/infrastructure/provider"
	"github.com/helixml/vecsync/internal/config"
	"github.com/helixml/vecsync/internal/database"
)

// ErrNoDatabase indicates no database was configured.
var ErrNoDatabase = errors.New("vecsync: no database configured")

// ErrClientClosed indicates the client has been closed.
var ErrClientClosed = service.ErrClientClosed

// Client is the main entry point for the vecsync library.
// Unlike the CLI worker, it does not start background passes; call
// Worker().Run or build a Scheduler.
type Client struct {
	db          database.Database
	catalog     *service.Catalog
	status      service.Status
	worker      *service.Worker
	vectorizers persistence.VectorizerStore

	closers []io.Closer
	logger  *slog.Logger
	closed  atomic.Bool
	mu      sync.Mutex
}

// New creates a new Client with the given options. It opens the database
// and creates the catalog tables when missing.
func New(opts ...Option) (*Client, error) {
	cfg := newClientConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.dbURL == "" {
		return nil, ErrNoDatabase
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx := context.Background()
	db, err := database.NewDatabaseWithLogger(ctx, cfg.dbURL, logger)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := persistence.AutoMigrate(ctx, db); err != nil {
		errClose := db.Close()
		return nil, errors.Join(fmt.Errorf("auto migrate: %w", err), errClose)
	}
	if err := persistence.ValidateSchema(ctx, db); err != nil {
		errClose := db.Close()
		return nil, errors.Join(fmt.Errorf("validate schema: %w", err), errClose)
	}

	var backendOpts []persistence.BackendOption
	if cfg.leaseTTL > 0 {
		backendOpts = append(backendOpts, persistence.WithSQLiteLeaseTTL(cfg.leaseTTL))
	}
	backend := persistence.NewBackend(db, backendOpts...)
	vectorizers := persistence.NewVectorizerStore(db)
	errorLog := persistence.NewErrorLogStore(db)

	embedders := cfg.embedders
	if embedders == nil {
		providerOpts := append([]provider.Option{
			provider.WithTimeout(cfg.embeddingTimeout),
			provider.WithModelDir(cfg.modelDir),
		}, cfg.providerOpts...)
		embedders = service.ProviderFactory(providerOpts...)
	}

	client := &Client{
		db:          db,
		catalog:     service.NewCatalog(vectorizers, errorLog, backend, logger),
		status:      service.NewStatus(vectorizers, backend),
		vectorizers: vectorizers,
		logger:      logger,
		worker: service.NewWorker(vectorizers, errorLog, backend, logger,
			service.WithEmbedderFactory(embedders),
			service.WithRetryConfig(cfg.retry),
			service.WithConcurrency(cfg.concurrency),
		),
		closers: cfg.closers,
	}

	return client, nil
}

// Vectorizers returns the catalog used to create and manage vectorizers.
func (c *Client) Vectorizers() *service.Catalog {
	return c.catalog
}

// Status returns the read side for queue depth and record counts.
func (c *Client) Status() service.Status {
	return c.status
}

// Worker returns the worker that drains vectorizer queues.
func (c *Client) Worker() *service.Worker {
	return c.worker
}

// Scheduler builds a scheduler that runs worker passes on cfg's poll
// interval. With cfg.Listen() on PostgreSQL it also wakes on
// notifications from the capture triggers.
func (c *Client) Scheduler(cfg config.WorkerConfig, opts ...service.SchedulerOption) *service.Scheduler {
	if cfg.Listen() && c.db.IsPostgres() {
		opts = append([]service.SchedulerOption{
			service.WithNotifier(persistence.NewListener(c.db.URL(), c.logger)),
		}, opts...)
	}
	return service.NewScheduler(cfg, c.worker, c.vectorizers, c.logger, opts...)
}

// Logger returns the client's logger.
func (c *Client) Logger() *slog.Logger {
	return c.logger
}

// Close releases the database and any registered resources.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return ErrClientClosed
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, closer := range c.closers {
		if err := closer.Close(); err != nil {
			c.logger.Error("failed to close resource", slog.Any("error", err))
		}
	}

	if err := c.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}

	c.logger.Info("vecsync client closed")
	return nil
}
