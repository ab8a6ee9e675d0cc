package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixml/vecsync/domain/embedding"
	"github.com/helixml/vecsync/domain/queue"
	"github.com/helixml/vecsync/domain/vectorizer"
)

type fakeIndexBuilder struct {
	mu      sync.Mutex
	exists  bool
	creates int
	rows    int64
}

func (f *fakeIndexBuilder) Exists(context.Context, vectorizer.Vectorizer) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exists, nil
}

func (f *fakeIndexBuilder) Create(_ context.Context, _ vectorizer.Vectorizer, rows int64) (bool, error) {
	// Widen the window in which concurrent checks overlap.
	time.Sleep(20 * time.Millisecond)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.exists {
		return false, nil
	}
	f.exists = true
	f.creates++
	f.rows = rows
	return true, nil
}

type countingStore struct {
	embedding.Store
	count int64
}

func (s countingStore) Count(context.Context) (int64, error) { return s.count, nil }

type depthQueue struct {
	queue.Queue
	depth int64
}

func (q depthQueue) DepthCapped(_ context.Context, limit int64) (int64, error) {
	return min(q.depth, limit), nil
}

func hnswVectorizer(t *testing.T, minRows int64, whenEmpty bool) vectorizer.Vectorizer {
	t.Helper()
	def := blogDefinition()
	def.Source.PrimaryKey = []string{"id"}
	def.Indexing = vectorizer.IndexingDefinition{
		Implementation:       vectorizer.ImplHNSW,
		MinRows:              &minRows,
		CreateWhenQueueEmpty: &whenEmpty,
	}
	v, err := vectorizer.NewVectorizer(def)
	require.NoError(t, err)
	return v.WithID(1)
}

func TestIndexer_CreatesOnceUnderConcurrentChecks(t *testing.T) {
	builder := &fakeIndexBuilder{}
	indexer := NewIndexer(builder, nil)
	v := hnswVectorizer(t, 10, true)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := indexer.Check(context.Background(), v, depthQueue{}, countingStore{count: 500})
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, builder.creates)
	assert.Equal(t, int64(500), builder.rows)
	assert.Equal(t, 1, created, "only the caller that created the index reports it")

	again, err := indexer.Check(context.Background(), v, depthQueue{}, countingStore{count: 500})
	require.NoError(t, err)
	assert.False(t, again, "an existing index is left alone")
}

func TestIndexer_Thresholds(t *testing.T) {
	tests := []struct {
		name      string
		minRows   int64
		whenEmpty bool
		rows      int64
		depth     int64
		want      bool
	}{
		{name: "below min rows", minRows: 100, rows: 99, want: false},
		{name: "at min rows", minRows: 100, rows: 100, want: true},
		{name: "queue not empty", minRows: 10, whenEmpty: true, rows: 50, depth: 3, want: false},
		{name: "queue ignored", minRows: 10, whenEmpty: false, rows: 50, depth: 3, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			builder := &fakeIndexBuilder{}
			v := hnswVectorizer(t, tt.minRows, tt.whenEmpty)
			got, err := NewIndexer(builder, nil).Check(context.Background(), v, depthQueue{depth: tt.depth}, countingStore{count: tt.rows})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIndexer_NoIndexing(t *testing.T) {
	builder := &fakeIndexBuilder{}
	def := blogDefinition()
	def.Source.PrimaryKey = []string{"id"}
	v, err := vectorizer.NewVectorizer(def)
	require.NoError(t, err)

	got, err := NewIndexer(builder, nil).Check(context.Background(), v, depthQueue{}, countingStore{count: 1_000_000})
	require.NoError(t, err)
	assert.False(t, got)
	assert.Zero(t, builder.creates)
}
