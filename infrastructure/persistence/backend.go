package persistence

import (
	"fmt"
	"time"

	"github.com/helixml/vecsync/domain/embedding"
	"github.com/helixml/vecsync/domain/queue"
	"github.com/helixml/vecsync/domain/source"
	"github.com/helixml/vecsync/domain/vectorizer"
	"github.com/helixml/vecsync/internal/database"
)

// Backend builds the dialect-specific pieces for a vectorizer: PostgreSQL
// gets locking queues, vector columns, indexes and pg_cron; SQLite gets
// leased queues and text-encoded vectors.
type Backend struct {
	db       database.Database
	leaseTTL time.Duration
}

// BackendOption configures a Backend.
type BackendOption func(*Backend)

// WithSQLiteLeaseTTL sets the SQLite claim lease.
func WithSQLiteLeaseTTL(d time.Duration) BackendOption {
	return func(b *Backend) {
		if d > 0 {
			b.leaseTTL = d
		}
	}
}

// NewBackend creates a Backend for db.
func NewBackend(db database.Database, opts ...BackendOption) Backend {
	b := Backend{db: db, leaseTTL: DefaultLeaseTTL}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

// Database returns the underlying database.
func (b Backend) Database() database.Database { return b.db }

// Queue returns the vectorizer's work queue.
func (b Backend) Queue(v vectorizer.Vectorizer) queue.Queue {
	if b.db.IsPostgres() {
		return NewPostgresQueue(b.db, v.QueueTable(), v.PrimaryKey())
	}
	return NewSQLiteQueue(b.db, v.QueueTable(), v.PrimaryKey(), WithLeaseTTL(b.leaseTTL))
}

// Store returns the vectorizer's embedding store.
func (b Backend) Store(v vectorizer.Vectorizer) embedding.Store {
	return NewEmbeddingStore(b.db, v.StoreTable(), v.PrimaryKey())
}

// Source returns a reader over the vectorizer's source table.
func (b Backend) Source(v vectorizer.Vectorizer) source.Reader {
	return NewSourceReader(b.db, v.SourceTable(), v.PrimaryKey())
}

// Inspector returns the source table inspector.
func (b Backend) Inspector() source.Inspector { return NewSourceInspector(b.db) }

// Schema returns the per-vectorizer DDL manager.
func (b Backend) Schema() vectorizer.Provisioner { return NewSchema(b.db) }

// Indexes returns the vector index builder.
func (b Backend) Indexes() vectorizer.IndexBuilder {
	if b.db.IsPostgres() {
		return NewPostgresIndexBuilder(b.db)
	}
	return NoIndexBuilder{}
}

// Cron returns the database job scheduler.
func (b Backend) Cron() vectorizer.JobScheduler {
	if b.db.IsPostgres() {
		return NewPostgresCron(b.db)
	}
	return NoCron{}
}

// Supports reports whether the database can honor the vectorizer's index
// and schedule settings.
func (b Backend) Supports(cfg vectorizer.Config) error {
	if b.db.IsPostgres() {
		return nil
	}
	if _, ok := cfg.Indexing.(vectorizer.NoIndexing); !ok {
		return fmt.Errorf("%w: indexing %s requires PostgreSQL", vectorizer.ErrInvalidConfig, cfg.Indexing.Implementation())
	}
	if _, ok := cfg.Scheduling.(vectorizer.NoScheduling); !ok {
		return fmt.Errorf("%w: scheduling %s requires PostgreSQL", vectorizer.ErrInvalidConfig, cfg.Scheduling.Implementation())
	}
	return nil
}
