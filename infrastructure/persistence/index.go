package persistence

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/helixml/vecsync/domain/vectorizer"
	"github.com/helixml/vecsync/internal/database"
)

// ErrIndexUnsupported is returned when the database cannot build the
// requested vector index.
var ErrIndexUnsupported = errors.New("vector index not supported by this database")

const pgCreateVectorscaleExtension = `CREATE EXTENSION IF NOT EXISTS vectorscale CASCADE`

// PostgresIndexBuilder creates pgvector and pgvectorscale indexes on store
// tables.
type PostgresIndexBuilder struct {
	db database.Database
}

// NewPostgresIndexBuilder creates a new PostgresIndexBuilder.
func NewPostgresIndexBuilder(db database.Database) PostgresIndexBuilder {
	return PostgresIndexBuilder{db: db}
}

// Exists reports whether the vectorizer's index is in the catalog.
func (b PostgresIndexBuilder) Exists(ctx context.Context, v vectorizer.Vectorizer) (bool, error) {
	var exists bool
	err := b.db.Session(ctx).Raw(`SELECT to_regclass(?) IS NOT NULL`, database.QuoteIdent(v.IndexName())).Scan(&exists).Error
	if err != nil {
		return false, fmt.Errorf("check index %s: %w", v.IndexName(), err)
	}
	return exists, nil
}

// Create builds the index. It returns false without error when the index
// already existed, including when a concurrent builder won the race.
func (b PostgresIndexBuilder) Create(ctx context.Context, v vectorizer.Vectorizer, rows int64) (bool, error) {
	stmt, err := indexSQL(v, rows)
	if err != nil {
		return false, err
	}

	session := b.db.Session(ctx)
	if _, ok := v.Config().Indexing.(vectorizer.DiskANNIndexing); ok {
		if err := session.Exec(pgCreateVectorscaleExtension).Error; err != nil {
			return false, fmt.Errorf("create vectorscale extension: %w", err)
		}
	}

	if err := session.Exec(stmt).Error; err != nil {
		if isAlreadyExists(err) {
			return false, nil
		}
		return false, fmt.Errorf("create index %s: %w", v.IndexName(), err)
	}
	return true, nil
}

func indexSQL(v vectorizer.Vectorizer, rows int64) (string, error) {
	threshold, ok := v.Config().Indexing.Threshold()
	if !ok {
		return "", fmt.Errorf("%w: vectorizer %s has no index configured", vectorizer.ErrInvalidConfig, v.Name())
	}
	opclass := threshold.Opclass
	if opclass == "" {
		opclass = vectorizer.DefaultOpclass
	}
	prefix := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s`,
		database.QuoteIdent(v.IndexName()), database.QuoteIdent(v.StoreTable()))

	switch idx := v.Config().Indexing.(type) {
	case vectorizer.HNSWIndexing:
		return fmt.Sprintf(`%s USING hnsw (embedding %s) WITH (m = %d, ef_construction = %d)`,
			prefix, opclass, idx.M, idx.EFConstruction), nil
	case vectorizer.IVFFlatIndexing:
		return fmt.Sprintf(`%s USING ivfflat (embedding %s) WITH (lists = %d)`,
			prefix, opclass, ivfflatLists(idx.Lists, rows)), nil
	case vectorizer.DiskANNIndexing:
		return fmt.Sprintf(`%s USING diskann (embedding %s)`, prefix, opclass), nil
	default:
		return "", fmt.Errorf("%w: unknown index kind %s", vectorizer.ErrInvalidConfig, v.Config().Indexing.Implementation())
	}
}

// ivfflatLists follows the pgvector guidance: rows/1000 up to a million
// rows, sqrt(rows) beyond.
func ivfflatLists(configured int, rows int64) int {
	if configured > 0 {
		return configured
	}
	if rows > 1_000_000 {
		return int(math.Sqrt(float64(rows)))
	}
	return max(int(rows/1000), 10)
}

func isAlreadyExists(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgDuplicateTable || pgErr.Code == pgUniqueViolation
	}
	return false
}

// NoIndexBuilder is used where vector indexes are unavailable, such as
// SQLite.
type NoIndexBuilder struct{}

// Exists always reports false.
func (NoIndexBuilder) Exists(context.Context, vectorizer.Vectorizer) (bool, error) {
	return false, nil
}

// Create always fails with ErrIndexUnsupported.
func (NoIndexBuilder) Create(_ context.Context, v vectorizer.Vectorizer, _ int64) (bool, error) {
	return false, fmt.Errorf("%w: %s", ErrIndexUnsupported, v.Config().Indexing.Implementation())
}
