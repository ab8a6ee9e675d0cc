package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"gorm.io/gorm"

	"github.com/helixml/vecsync/domain/embedding"
	"github.com/helixml/vecsync/domain/queue"
	"github.com/helixml/vecsync/domain/repository"
	"github.com/helixml/vecsync/domain/source"
	"github.com/helixml/vecsync/domain/vectorizer"
	"github.com/helixml/vecsync/infrastructure/chunking"
	"github.com/helixml/vecsync/infrastructure/formatting"
	"github.com/helixml/vecsync/internal/database"
)

// Backend provides the database objects the services operate on.
type Backend interface {
	Database() database.Database
	Queue(v vectorizer.Vectorizer) queue.Queue
	Store(v vectorizer.Vectorizer) embedding.Store
	Source(v vectorizer.Vectorizer) source.Reader
	Inspector() source.Inspector
	Schema() vectorizer.Provisioner
	Indexes() vectorizer.IndexBuilder
	Cron() vectorizer.JobScheduler
	// Supports rejects configurations the database cannot serve.
	Supports(cfg vectorizer.Config) error
}

// Catalog registers vectorizers and provisions their database objects.
type Catalog struct {
	vectorizers vectorizer.Store
	errors      vectorizer.ErrorLog
	backend     Backend
	logger      *slog.Logger
}

// NewCatalog creates a new Catalog.
func NewCatalog(vectorizers vectorizer.Store, errorLog vectorizer.ErrorLog, backend Backend, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{
		vectorizers: vectorizers,
		errors:      errorLog,
		backend:     backend,
		logger:      logger,
	}
}

// Create validates def against the source table, registers the vectorizer
// and provisions its queue, store, view and triggers in one transaction.
// Existing rows are enqueued unless the definition skips the backfill.
func (c *Catalog) Create(ctx context.Context, def vectorizer.Definition) (vectorizer.Vectorizer, error) {
	def, err := def.Normalize()
	if err != nil {
		return vectorizer.Vectorizer{}, err
	}

	existing, err := c.vectorizers.FindOne(ctx, repository.WithName(def.Name))
	switch {
	case err == nil:
		if def.IfNotExists {
			c.logger.Info("vectorizer already exists, skipping",
				slog.String("name", def.Name),
				slog.Int64("vectorizer_id", existing.ID()),
			)
			return existing, nil
		}
		return vectorizer.Vectorizer{}, fmt.Errorf("%w: %s", vectorizer.ErrExists, def.Name)
	case !errors.Is(err, vectorizer.ErrNotFound):
		return vectorizer.Vectorizer{}, fmt.Errorf("lookup vectorizer %s: %w", def.Name, err)
	}

	columns, err := c.backend.Inspector().Columns(ctx, def.Source.Table)
	if err != nil {
		return vectorizer.Vectorizer{}, err
	}
	def.Source.PrimaryKey, err = primaryKey(def, columns)
	if err != nil {
		return vectorizer.Vectorizer{}, err
	}

	v, err := vectorizer.NewVectorizer(def)
	if err != nil {
		return vectorizer.Vectorizer{}, err
	}
	tracked, err := c.check(v, columns)
	if err != nil {
		return vectorizer.Vectorizer{}, err
	}

	created, err := database.WithTransactionResult(ctx, c.backend.Database(), func(ctx context.Context, _ *gorm.DB) (vectorizer.Vectorizer, error) {
		saved, err := c.vectorizers.Save(ctx, v)
		if err != nil {
			return vectorizer.Vectorizer{}, err
		}
		if err := c.backend.Schema().Create(ctx, saved, columns, tracked); err != nil {
			return vectorizer.Vectorizer{}, err
		}
		if !def.SkipBackfill {
			if err := c.backend.Schema().Backfill(ctx, saved); err != nil {
				return vectorizer.Vectorizer{}, err
			}
		}
		if _, ok := saved.Config().Scheduling.(vectorizer.CronScheduling); ok {
			jobID, err := c.backend.Cron().Schedule(ctx, saved)
			if err != nil {
				return vectorizer.Vectorizer{}, err
			}
			return c.vectorizers.Save(ctx, saved.WithCronJobID(jobID))
		}
		return saved, nil
	})
	if err != nil {
		return vectorizer.Vectorizer{}, err
	}

	c.logger.Info("vectorizer created",
		slog.Int64("vectorizer_id", created.ID()),
		slog.String("name", created.Name()),
		slog.String("source", created.SourceTable()),
		slog.Bool("backfill", !def.SkipBackfill),
	)
	return created, nil
}

// check validates the pipeline against the source columns and returns the
// columns whose changes must enqueue work.
func (c *Catalog) check(v vectorizer.Vectorizer, columns []source.Column) ([]string, error) {
	names := source.ColumnNames(columns)

	var errs []error
	for _, col := range v.TextColumns() {
		if !slices.Contains(names, col) {
			errs = append(errs, fmt.Errorf("%w: chunk column %s not found in %s", vectorizer.ErrInvalidConfig, col, v.SourceTable()))
		}
	}
	for _, col := range names {
		if slices.Contains(embedding.Columns(), col) {
			errs = append(errs, fmt.Errorf("%w: source column %s collides with a store column", vectorizer.ErrInvalidConfig, col))
		}
	}
	for _, col := range v.PrimaryKey() {
		if slices.Contains(queue.Columns(), col) {
			errs = append(errs, fmt.Errorf("%w: primary key column %s collides with a queue column", vectorizer.ErrInvalidConfig, col))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	if _, err := chunking.New(v.Config().Chunking); err != nil {
		return nil, err
	}
	tmpl, err := formatting.New(v.Config().Formatting, names)
	if err != nil {
		return nil, err
	}
	if err := c.backend.Supports(v.Config()); err != nil {
		return nil, err
	}
	return v.TrackedColumns(tmpl.Columns()), nil
}

// primaryKey returns the key columns: the introspected primary key, or the
// declared one after checking it names existing columns.
func primaryKey(def vectorizer.Definition, columns []source.Column) ([]string, error) {
	if len(def.Source.PrimaryKey) == 0 {
		pk := source.ColumnNames(source.PrimaryKeyColumns(columns))
		if len(pk) == 0 {
			return nil, fmt.Errorf("%w: source table %s has no primary key", vectorizer.ErrInvalidConfig, def.Source.Table)
		}
		return pk, nil
	}
	names := source.ColumnNames(columns)
	for _, col := range def.Source.PrimaryKey {
		if !slices.Contains(names, col) {
			return nil, fmt.Errorf("%w: primary key column %s not found in %s", vectorizer.ErrInvalidConfig, col, def.Source.Table)
		}
	}
	return def.Source.PrimaryKey, nil
}

// Drop unregisters a vectorizer and removes its triggers and queue. The
// store and view are removed too when dropAll is set.
func (c *Catalog) Drop(ctx context.Context, id int64, dropAll bool) error {
	v, err := c.vectorizers.Get(ctx, id)
	if err != nil {
		return err
	}

	err = database.WithTransaction(ctx, c.backend.Database(), func(ctx context.Context, _ *gorm.DB) error {
		if v.CronJobID() != 0 {
			if err := c.backend.Cron().Unschedule(ctx, v.CronJobID()); err != nil {
				return err
			}
		}
		if err := c.backend.Schema().Drop(ctx, v, dropAll); err != nil {
			return err
		}
		if err := c.errors.DeleteFor(ctx, v.ID()); err != nil {
			return err
		}
		return c.vectorizers.Delete(ctx, v)
	})
	if err != nil {
		return fmt.Errorf("drop vectorizer %d: %w", id, err)
	}

	c.logger.Info("vectorizer dropped",
		slog.Int64("vectorizer_id", id),
		slog.String("name", v.Name()),
		slog.Bool("drop_all", dropAll),
	)
	return nil
}

// Enable resumes scheduling for a vectorizer.
func (c *Catalog) Enable(ctx context.Context, id int64) (vectorizer.Vectorizer, error) {
	return c.setDisabled(ctx, id, false)
}

// Disable stops workers and the database job from processing a vectorizer.
// Changes keep being queued.
func (c *Catalog) Disable(ctx context.Context, id int64) (vectorizer.Vectorizer, error) {
	return c.setDisabled(ctx, id, true)
}

func (c *Catalog) setDisabled(ctx context.Context, id int64, disabled bool) (vectorizer.Vectorizer, error) {
	return database.WithTransactionResult(ctx, c.backend.Database(), func(ctx context.Context, _ *gorm.DB) (vectorizer.Vectorizer, error) {
		v, err := c.vectorizers.Get(ctx, id)
		if err != nil {
			return vectorizer.Vectorizer{}, err
		}
		if v.CronJobID() != 0 {
			if err := c.backend.Cron().SetActive(ctx, v.CronJobID(), !disabled); err != nil {
				return vectorizer.Vectorizer{}, err
			}
		}
		saved, err := c.vectorizers.Save(ctx, v.WithDisabled(disabled))
		if err != nil {
			return vectorizer.Vectorizer{}, err
		}
		c.logger.Info("vectorizer schedule updated",
			slog.Int64("vectorizer_id", id),
			slog.Bool("disabled", disabled),
		)
		return saved, nil
	})
}

// Recover clears the failure mark so workers process the vectorizer again.
func (c *Catalog) Recover(ctx context.Context, id int64) (vectorizer.Vectorizer, error) {
	v, err := c.vectorizers.Get(ctx, id)
	if err != nil {
		return vectorizer.Vectorizer{}, err
	}
	if !v.Failed() {
		return v, nil
	}
	saved, err := c.vectorizers.Save(ctx, v.WithoutFailure())
	if err != nil {
		return vectorizer.Vectorizer{}, err
	}
	c.logger.Info("vectorizer recovered",
		slog.Int64("vectorizer_id", id),
		slog.String("failure", v.Failure()),
	)
	return saved, nil
}

// Requeue enqueues every source row again, for example after the embedding
// model changed.
func (c *Catalog) Requeue(ctx context.Context, id int64) error {
	v, err := c.vectorizers.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := c.backend.Schema().Backfill(ctx, v); err != nil {
		return err
	}
	c.logger.Info("vectorizer requeued", slog.Int64("vectorizer_id", id))
	return nil
}

// Get returns one vectorizer.
func (c *Catalog) Get(ctx context.Context, id int64) (vectorizer.Vectorizer, error) {
	return c.vectorizers.Get(ctx, id)
}

// List returns the vectorizers matching options, all by default.
func (c *Catalog) List(ctx context.Context, options ...repository.Option) ([]vectorizer.Vectorizer, error) {
	return c.vectorizers.Find(ctx, options...)
}

// Errors returns the most recent error records of a vectorizer.
func (c *Catalog) Errors(ctx context.Context, id int64, limit int) ([]vectorizer.ErrorRecord, error) {
	if _, err := c.vectorizers.Get(ctx, id); err != nil {
		return nil, err
	}
	return c.errors.Find(ctx, id, limit)
}
