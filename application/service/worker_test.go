package service

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixml/vecsync/domain/embedding"
	"github.com/helixml/vecsync/domain/queue"
	"github.com/helixml/vecsync/domain/source"
	"github.com/helixml/vecsync/domain/vectorizer"
	"github.com/helixml/vecsync/infrastructure/provider"
	"github.com/helixml/vecsync/internal/config"
)

func createBlog(t *testing.T, e env, mutate ...func(*vectorizer.Definition)) vectorizer.Vectorizer {
	t.Helper()
	def := blogDefinition()
	for _, m := range mutate {
		m(&def)
	}
	v, err := e.catalog.Create(context.Background(), def)
	require.NoError(t, err)
	return v
}

func TestWorker_ProcessesQueue(t *testing.T) {
	ctx := context.Background()
	e := newBlogEnv(t)
	v := createBlog(t, e)
	e.exec(t, `INSERT INTO blog (id, title, contents) VALUES (1, 'Go', 'hello'), (2, 'Rust', 'world')`)

	fake := newFakeProvider(3)
	result, err := e.worker(fake).Run(ctx, v.ID())
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.Processed)
	assert.Zero(t, result.Released)

	assert.Equal(t, []string{"hello"}, e.records(t, v, 1))
	assert.Equal(t, []string{"world"}, e.records(t, v, 2))
	assert.ElementsMatch(t, []string{"Go: hello", "Rust: world"}, fake.Texts(), "the template is applied")
	assert.Zero(t, e.pending(t, v.ID()))
	assert.True(t, fake.closed)
}

func TestWorker_IdempotentReprocessing(t *testing.T) {
	ctx := context.Background()
	e := newBlogEnv(t)
	v := createBlog(t, e)
	e.exec(t, `INSERT INTO blog (id, title, contents) VALUES (1, 'a', ?)`, paragraphs(3))

	w := e.worker(newFakeProvider(3))
	_, err := w.Run(ctx, v.ID())
	require.NoError(t, err)
	store := e.backend.Store(v)
	first, err := store.Records(ctx, source.NewKey(int64(1)))
	require.NoError(t, err)
	require.Len(t, first, 3)

	require.NoError(t, e.catalog.Requeue(ctx, v.ID()))
	_, err = w.Run(ctx, v.ID())
	require.NoError(t, err)
	second, err := store.Records(ctx, source.NewKey(int64(1)))
	require.NoError(t, err)

	require.Len(t, second, 3)
	for i := range first {
		assert.Equal(t, first[i].ID(), second[i].ID())
		assert.Equal(t, first[i].Seq(), second[i].Seq())
		assert.Equal(t, first[i].Chunk(), second[i].Chunk())
		assert.Equal(t, first[i].Vector(), second[i].Vector())
	}
}

func TestWorker_ShrinkingRowLeavesNoOrphans(t *testing.T) {
	ctx := context.Background()
	e := newBlogEnv(t)
	v := createBlog(t, e)
	w := e.worker(newFakeProvider(3))

	e.exec(t, `INSERT INTO blog (id, title, contents) VALUES (1, 'a', ?)`, paragraphs(5))
	_, err := w.Run(ctx, v.ID())
	require.NoError(t, err)
	require.Len(t, e.records(t, v, 1), 5)

	e.exec(t, `UPDATE blog SET contents = ? WHERE id = 1`, paragraphs(2))
	_, err = w.Run(ctx, v.ID())
	require.NoError(t, err)

	assert.Len(t, e.records(t, v, 1), 2)
	count, err := e.backend.Store(v).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestWorker_CascadeDelete(t *testing.T) {
	ctx := context.Background()
	e := newBlogEnv(t)
	v := createBlog(t, e)
	e.exec(t, `INSERT INTO blog (id, title, contents) VALUES (1, 'a', 'hello')`)

	_, err := e.worker(newFakeProvider(3)).Run(ctx, v.ID())
	require.NoError(t, err)
	require.Len(t, e.records(t, v, 1), 1)

	e.exec(t, `DELETE FROM blog WHERE id = 1`)
	assert.Empty(t, e.records(t, v, 1))
	assert.Zero(t, e.pending(t, v.ID()))
}

func TestWorker_VanishedRowIsAcknowledged(t *testing.T) {
	ctx := context.Background()
	e := newBlogEnv(t)
	v := createBlog(t, e)
	require.NoError(t, e.backend.Queue(v).Enqueue(ctx, []source.Key{source.NewKey(int64(99))}))

	fake := newFakeProvider(3)
	result, err := e.worker(fake).Run(ctx, v.ID())
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.Processed)
	assert.Zero(t, fake.Calls(), "nothing to embed")
	assert.Zero(t, e.pending(t, v.ID()))
}

func TestWorker_EmptyTextIsAcknowledged(t *testing.T) {
	ctx := context.Background()
	e := newBlogEnv(t)
	v := createBlog(t, e)
	e.exec(t, `INSERT INTO blog (id, title, contents) VALUES (1, 'a', NULL), (2, 'b', '   ')`)

	fake := newFakeProvider(3)
	result, err := e.worker(fake).Run(ctx, v.ID())
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.Processed)
	assert.Empty(t, e.records(t, v, 1))
	assert.Empty(t, e.records(t, v, 2))
	assert.Zero(t, fake.Calls())
	assert.Zero(t, e.pending(t, v.ID()))
}

func TestWorker_RetryThenSucceed(t *testing.T) {
	ctx := context.Background()
	e := newBlogEnv(t)
	v := createBlog(t, e)
	e.exec(t, `INSERT INTO blog (id, title, contents) VALUES (1, 'a', 'hello')`)

	transient := embedding.NewProviderError(embedding.Transient, "fake", http.StatusBadGateway, "bad gateway", nil)
	fake := newFakeProvider(3, transient, transient)
	result, err := e.worker(fake).Run(ctx, v.ID())
	require.NoError(t, err)

	assert.Equal(t, 3, fake.Calls())
	assert.Equal(t, int64(1), result.Processed)
	assert.Equal(t, []string{"hello"}, e.records(t, v, 1))
	assert.Zero(t, e.pending(t, v.ID()))
}

func TestWorker_ExhaustedRetriesReleaseOnlyFailingBatch(t *testing.T) {
	ctx := context.Background()
	e := newBlogEnv(t)
	v := createBlog(t, e, func(d *vectorizer.Definition) { d.Embedding.BatchSize = 1 })
	e.exec(t, `INSERT INTO blog (id, title, contents) VALUES (1, 'a', 'hello'), (2, 'b', 'world')`)

	transient := embedding.NewProviderError(embedding.Transient, "fake", http.StatusServiceUnavailable, "", nil)
	w := e.worker(newFakeProvider(3, transient), WithRetryConfig(config.NewRetryConfig().WithMaxAttempts(1)))
	result, err := w.Run(ctx, v.ID())
	require.NoError(t, err)

	assert.Equal(t, int64(1), result.Processed)
	assert.Equal(t, int64(1), result.Released)
	assert.Equal(t, int64(1), e.pending(t, v.ID()), "the failed key stays queued")

	records, err := e.catalog.Errors(ctx, v.ID(), 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "transient", records[0].Details()["kind"])

	current, err := e.catalog.Get(ctx, v.ID())
	require.NoError(t, err)
	assert.False(t, current.Failed())
}

func TestWorker_PermanentErrorEndsPass(t *testing.T) {
	ctx := context.Background()
	e := newBlogEnv(t)
	v := createBlog(t, e)
	e.exec(t, `INSERT INTO blog (id, title, contents) VALUES (1, 'a', 'hello'), (2, 'b', 'world')`)

	denied := embedding.NewProviderError(embedding.Permanent, "fake", http.StatusUnauthorized, "invalid api key", nil)
	fake := newFakeProvider(3, denied)
	_, err := e.worker(fake).Run(ctx, v.ID())
	require.ErrorIs(t, err, ErrPassAborted)

	assert.Equal(t, 1, fake.Calls(), "permanent errors are not retried")
	assert.Equal(t, int64(2), e.pending(t, v.ID()), "keys are released, not dropped")

	records, err := e.catalog.Errors(ctx, v.ID(), 10)
	require.NoError(t, err)
	require.NotEmpty(t, records)
	assert.Equal(t, "permanent", records[0].Details()["kind"])
}

func TestWorker_DimensionMismatchFailsVectorizer(t *testing.T) {
	ctx := context.Background()
	e := newBlogEnv(t)
	v := createBlog(t, e)
	e.exec(t, `INSERT INTO blog (id, title, contents) VALUES (1, 'a', 'hello')`)

	w := e.worker(newFakeProvider(4))
	_, err := w.Run(ctx, v.ID())
	require.ErrorIs(t, err, vectorizer.ErrFailed)
	require.ErrorIs(t, err, embedding.ErrDimensionMismatch)

	current, err := e.catalog.Get(ctx, v.ID())
	require.NoError(t, err)
	assert.True(t, current.Failed())
	assert.Contains(t, current.Failure(), "dimension")
	assert.Equal(t, int64(1), e.pending(t, v.ID()))

	// Failed vectorizers are skipped until recovered.
	result, err := w.Run(ctx, v.ID())
	require.NoError(t, err)
	assert.True(t, result.Skipped)

	_, err = e.catalog.Recover(ctx, v.ID())
	require.NoError(t, err)
	result, err = e.worker(newFakeProvider(3)).Run(ctx, v.ID())
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.Processed)
}

func TestWorker_TemplateErrorFailsVectorizer(t *testing.T) {
	ctx := context.Background()
	e := newBlogEnv(t)
	v := createBlog(t, e)

	// The template column disappears after creation.
	e.exec(t, `ALTER TABLE blog RENAME COLUMN title TO headline`)
	e.exec(t, `INSERT INTO blog (id, headline, contents) VALUES (1, 'a', 'hello')`)

	_, err := e.worker(newFakeProvider(3)).Run(ctx, v.ID())
	require.ErrorIs(t, err, vectorizer.ErrFailed)

	current, err := e.catalog.Get(ctx, v.ID())
	require.NoError(t, err)
	assert.True(t, current.Failed())
}

func TestWorker_NullTemplateColumnDoesNotFailVectorizer(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, `CREATE TABLE doc (id INTEGER PRIMARY KEY, title TEXT, contents TEXT)`)
	def := blogDefinition()
	def.Source.Table = "doc"
	def.Formatting.Template = "$title$chunk"
	v, err := e.catalog.Create(ctx, def)
	require.NoError(t, err)
	e.exec(t, `INSERT INTO doc (id, title, contents) VALUES (1, NULL, 'hello'), (2, 'Go: ', 'world')`)

	fake := newFakeProvider(3)
	result, err := e.worker(fake).Run(ctx, v.ID())
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.Processed)
	assert.ElementsMatch(t, []string{"hello", "Go: world"}, fake.Texts())

	current, err := e.catalog.Get(ctx, v.ID())
	require.NoError(t, err)
	assert.False(t, current.Failed())
	assert.Zero(t, e.pending(t, v.ID()))
}

func TestWorker_SkipsDisabled(t *testing.T) {
	ctx := context.Background()
	e := newBlogEnv(t)
	v := createBlog(t, e)
	e.exec(t, `INSERT INTO blog (id, title, contents) VALUES (1, 'a', 'hello')`)
	_, err := e.catalog.Disable(ctx, v.ID())
	require.NoError(t, err)

	fake := newFakeProvider(3)
	result, err := e.worker(fake).Run(ctx, v.ID())
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.Zero(t, fake.Calls())
	assert.Equal(t, int64(1), e.pending(t, v.ID()))
}

func TestWorker_MissingAPIKeySkipsPass(t *testing.T) {
	ctx := context.Background()
	e := newBlogEnv(t)
	v := createBlog(t, e)
	e.exec(t, `INSERT INTO blog (id, title, contents) VALUES (1, 'a', 'hello')`)

	w := NewWorker(e.vectorizers, e.errors, e.backend, nil,
		WithEmbedderFactory(ProviderFactory(provider.WithLookupEnv(func(string) (string, bool) { return "", false }))),
	)
	result, err := w.Run(ctx, v.ID())
	require.NoError(t, err)
	assert.True(t, result.Skipped)

	current, err := e.catalog.Get(ctx, v.ID())
	require.NoError(t, err)
	assert.False(t, current.Failed(), "credentials can be fixed without recover")
	assert.Equal(t, int64(1), e.pending(t, v.ID()))
}

func TestWorker_BatchesAcrossKeys(t *testing.T) {
	ctx := context.Background()
	e := newBlogEnv(t)
	v := createBlog(t, e, func(d *vectorizer.Definition) { d.Embedding.BatchSize = 2 })
	e.exec(t, `INSERT INTO blog (id, title, contents) VALUES (1, 'a', ?), (2, 'b', 'short')`, paragraphs(2))

	fake := newFakeProvider(3)
	_, err := e.worker(fake).Run(ctx, v.ID())
	require.NoError(t, err)

	assert.Equal(t, []int{2, 1}, fake.Batches())
	assert.Len(t, e.records(t, v, 1), 2)
	assert.Len(t, e.records(t, v, 2), 1)
}

func TestWorker_ConcurrentPathsProcessEachKeyOnce(t *testing.T) {
	ctx := context.Background()
	e := newBlogEnv(t)
	v := createBlog(t, e, func(d *vectorizer.Definition) {
		d.Processing = vectorizer.ProcessingDefinition{BatchSize: 7, Concurrency: 4}
	})
	for i := range 200 {
		e.exec(t, `INSERT INTO blog (id, title, contents) VALUES (?, ?, ?)`, i, fmt.Sprintf("t%d", i), fmt.Sprintf("body %d", i))
	}

	fake := newFakeProvider(3)
	result, err := e.worker(fake).Run(ctx, v.ID())
	require.NoError(t, err)
	assert.Equal(t, int64(200), result.Processed)
	assert.Len(t, fake.Texts(), 200, "each key is embedded once")

	count, err := e.backend.Store(v).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(200), count)
	assert.Zero(t, e.pending(t, v.ID()))
}

func TestWorker_CancelledContextStopsBetweenCycles(t *testing.T) {
	e := newBlogEnv(t)
	v := createBlog(t, e)
	e.exec(t, `INSERT INTO blog (id, title, contents) VALUES (1, 'a', 'hello')`)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.worker(newFakeProvider(3)).Run(ctx, v.ID())
	require.Error(t, err)
	assert.Equal(t, int64(1), e.pending(t, v.ID()))
}

var _ queue.Claim = (*trackingClaim)(nil)

// trackingClaim wraps a claim to observe how the worker resolves keys.
type trackingClaim struct {
	queue.Claim
	released []string
}

func (c *trackingClaim) Release(ctx context.Context, key source.Key) error {
	c.released = append(c.released, key.String())
	return c.Claim.Release(ctx, key)
}

func TestPass_FailedWriteReleasesKey(t *testing.T) {
	ctx := context.Background()
	e := newBlogEnv(t)
	v := createBlog(t, e)
	e.exec(t, `INSERT INTO blog (id, title, contents) VALUES (1, 'a', 'hello')`)

	w := e.worker(newFakeProvider(3))
	p, err := w.prepare(ctx, v, w.logger)
	require.NoError(t, err)

	inner, err := p.queue.Claim(ctx, 10)
	require.NoError(t, err)
	claim := &trackingClaim{Claim: inner}

	p.complete(ctx, claim, claim.Keys()[0], func(context.Context) error { return assert.AnError })
	require.NoError(t, claim.Close(ctx))

	assert.Equal(t, []string{"1"}, claim.released)
	assert.Equal(t, int64(1), p.released.Load())
	assert.Equal(t, int64(1), e.pending(t, v.ID()))
}
