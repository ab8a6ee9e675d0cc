// Package testdb opens migrated catalog databases for tests.
package testdb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/helixml/vecsync/infrastructure/persistence"
	"github.com/helixml/vecsync/internal/database"
)

// MemoryURL is the SQLite database every unit test gets a private copy of.
const MemoryURL = "sqlite:///:memory:"

// WithSchema returns a migrated in-memory SQLite catalog. The statements run
// after the migration, usually to create and fill the source tables a
// vectorizer watches.
func WithSchema(t testing.TB, statements ...string) database.Database {
	t.Helper()
	return open(t, MemoryURL, statements)
}

// Seed runs statements against db in order and fails the test on the first
// one that errors.
func Seed(t testing.TB, db database.Database, statements ...string) {
	t.Helper()
	session := db.Session(context.Background())
	for _, stmt := range statements {
		require.NoError(t, session.Exec(stmt).Error, "seed: %s", stmt)
	}
}

func open(t testing.TB, url string, statements []string) database.Database {
	t.Helper()
	ctx := context.Background()

	db, err := database.NewDatabase(ctx, url)
	require.NoError(t, err, "open catalog database")
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, persistence.AutoMigrate(ctx, db), "migrate catalog")
	Seed(t, db, statements...)
	return db
}
