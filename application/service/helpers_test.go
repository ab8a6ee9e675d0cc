package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/helixml/vecsync/domain/source"
	"github.com/helixml/vecsync/domain/vectorizer"
	"github.com/helixml/vecsync/infrastructure/persistence"
	"github.com/helixml/vecsync/infrastructure/provider"
	"github.com/helixml/vecsync/internal/database"
	"github.com/helixml/vecsync/internal/testdb"
)

// fakeProvider returns deterministic vectors derived from each text. Queued
// errors are returned, one per call, before it starts succeeding.
type fakeProvider struct {
	mu       sync.Mutex
	dims     int
	failures []error
	calls    int
	texts    []string
	batches  []int
	closed   bool
}

func newFakeProvider(dims int, failures ...error) *fakeProvider {
	return &fakeProvider{dims: dims, failures: failures}
}

func (f *fakeProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.failures) > 0 {
		err := f.failures[0]
		f.failures = f.failures[1:]
		return nil, err
	}
	f.texts = append(f.texts, texts...)
	f.batches = append(f.batches, len(texts))

	out := make([][]float32, len(texts))
	for i, text := range texts {
		v := make([]float32, f.dims)
		for d := range v {
			v[d] = float32(len(text)+d) / 10
		}
		out[i] = v
	}
	return out, nil
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeProvider) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeProvider) Texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

func (f *fakeProvider) Batches() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.batches...)
}

func factoryFor(p provider.Provider) EmbedderFactory {
	return func(context.Context, vectorizer.Vectorizer) (provider.Provider, error) {
		return p, nil
	}
}

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

// env bundles the services over one in-memory database.
type env struct {
	db          database.Database
	backend     persistence.Backend
	vectorizers persistence.VectorizerStore
	errors      persistence.ErrorLogStore
	catalog     *Catalog
	status      Status
}

func newEnv(t *testing.T, statements ...string) env {
	t.Helper()
	db := testdb.WithSchema(t, statements...)
	backend := persistence.NewBackend(db)
	vectorizers := persistence.NewVectorizerStore(db)
	errorLog := persistence.NewErrorLogStore(db)
	return env{
		db:          db,
		backend:     backend,
		vectorizers: vectorizers,
		errors:      errorLog,
		catalog:     NewCatalog(vectorizers, errorLog, backend, nil),
		status:      NewStatus(vectorizers, backend),
	}
}

func newBlogEnv(t *testing.T) env {
	t.Helper()
	return newEnv(t, `CREATE TABLE blog (id INTEGER PRIMARY KEY, title TEXT NOT NULL, contents TEXT, views INTEGER NOT NULL DEFAULT 0)`)
}

func (e env) worker(p provider.Provider, opts ...WorkerOption) *Worker {
	opts = append([]WorkerOption{
		WithEmbedderFactory(factoryFor(p)),
		WithRetryOptions(WithSleep(noSleep)),
	}, opts...)
	return NewWorker(e.vectorizers, e.errors, e.backend, nil, opts...)
}

func (e env) exec(t *testing.T, stmt string, args ...any) {
	t.Helper()
	require.NoError(t, e.db.Session(context.Background()).Exec(stmt, args...).Error, stmt)
}

func (e env) pending(t *testing.T, id int64) int64 {
	t.Helper()
	n, err := e.status.Pending(context.Background(), id, true)
	require.NoError(t, err)
	return n
}

func (e env) records(t *testing.T, v vectorizer.Vectorizer, id int64) []string {
	t.Helper()
	recs, err := e.backend.Store(v).Records(context.Background(), source.NewKey(id))
	require.NoError(t, err)
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Chunk()
	}
	return out
}

func intPtr(n int) *int { return &n }

func blogDefinition() vectorizer.Definition {
	return vectorizer.Definition{
		Source: vectorizer.SourceDefinition{Table: "blog"},
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

// paragraphs returns n distinct paragraphs of 80 characters joined by blank
// lines, so a 100-character splitter yields one chunk per paragraph.
func paragraphs(n int) string {
	parts := make([]string, n)
	for i := range parts {
		head := fmt.Sprintf("paragraph %d ", i)
		parts[i] = head + strings.Repeat("x", 80-len(head))
	}
	return strings.Join(parts, "\n\n")
}
