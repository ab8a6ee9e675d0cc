package persistence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/helixml/vecsync/domain/source"
	"github.com/helixml/vecsync/domain/vectorizer"
	"github.com/helixml/vecsync/internal/database"
)

// newTestDB creates a migrated in-memory SQLite database.
// Cannot use testdb package here due to import cycle (testdb imports persistence).
func newTestDB(t *testing.T) database.Database {
	t.Helper()
	ctx := context.Background()
	db, err := database.NewDatabase(ctx, "sqlite:///:memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, AutoMigrate(ctx, db))
	return db
}

func exec(t *testing.T, db database.Database, stmt string, args ...any) {
	t.Helper()
	require.NoError(t, db.Session(context.Background()).Exec(stmt, args...).Error, stmt)
}

func intPtr(n int) *int { return &n }

func blogDefinition() vectorizer.Definition {
	return vectorizer.Definition{
		Source: vectorizer.SourceDefinition{Table: "blog", PrimaryKey: []string{"id"}},
		Chunking: vectorizer.ChunkingDefinition{
			Implementation: vectorizer.ImplCharacterTextSplitter,
			ChunkColumn:    "contents",
			ChunkSize:      100,
			ChunkOverlap:   intPtr(0),
		},
		Formatting: vectorizer.FormattingDefinition{Template: "$title: $chunk"},
		Embedding: vectorizer.EmbeddingDefinition{
			Implementation: vectorizer.ImplOpenAI,
			Model:          "text-embedding-3-small",
			Dimensions:     3,
		},
	}
}

// provisionBlog creates the blog table and a saved, provisioned vectorizer
// over it.
func provisionBlog(t *testing.T, db database.Database) vectorizer.Vectorizer {
	t.Helper()
	ctx := context.Background()
	exec(t, db, `CREATE TABLE blog (id INTEGER PRIMARY KEY, title TEXT NOT NULL, contents TEXT, views INTEGER NOT NULL DEFAULT 0)`)

	v, err := vectorizer.NewVectorizer(blogDefinition())
	require.NoError(t, err)
	v, err = NewVectorizerStore(db).Save(ctx, v)
	require.NoError(t, err)

	columns, err := NewSourceInspector(db).Columns(ctx, "blog")
	require.NoError(t, err)
	require.NoError(t, NewSchema(db).Create(ctx, v, columns, v.TrackedColumns([]string{"title"})))
	return v
}

func keys(values ...any) []source.Key {
	out := make([]source.Key, len(values))
	for i, v := range values {
		out[i] = source.NewKey(v)
	}
	return out
}
