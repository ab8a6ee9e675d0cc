//go:build integration

package persistence_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixml/vecsync/domain/embedding"
	"github.com/helixml/vecsync/domain/source"
	"github.com/helixml/vecsync/domain/vectorizer"
	"github.com/helixml/vecsync/infrastructure/persistence"
	"github.com/helixml/vecsync/internal/database"
	"github.com/helixml/vecsync/internal/testdb"
)

func provisionPostgresBlog(t *testing.T, db database.Database) vectorizer.Vectorizer {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, db.Session(ctx).Exec(`CREATE TABLE blog (id BIGINT PRIMARY KEY, title TEXT NOT NULL, contents TEXT)`).Error)

	overlap := 0
	v, err := vectorizer.NewVectorizer(vectorizer.Definition{
		Source: vectorizer.SourceDefinition{Table: "blog", PrimaryKey: []string{"id"}},
		Chunking: vectorizer.ChunkingDefinition{
			Implementation: vectorizer.ImplCharacterTextSplitter,
			ChunkColumn:    "contents",
			ChunkSize:      100,
			ChunkOverlap:   &overlap,
		},
		Embedding: vectorizer.EmbeddingDefinition{
			Implementation: vectorizer.ImplOpenAI,
			Model:          "text-embedding-3-small",
			Dimensions:     3,
		},
	})
	require.NoError(t, err)

	backend := persistence.NewBackend(db)
	v, err = persistence.NewVectorizerStore(db).Save(ctx, v)
	require.NoError(t, err)
	columns, err := backend.Inspector().Columns(ctx, "blog")
	require.NoError(t, err)
	require.NoError(t, backend.Schema().Create(ctx, v, columns, v.TrackedColumns(nil)))
	return v
}

func TestPostgres_ConcurrentClaimsAreDisjoint(t *testing.T) {
	ctx := context.Background()
	db := testdb.NewPostgres(t)
	v := provisionPostgresBlog(t, db)
	backend := persistence.NewBackend(db)
	q := backend.Queue(v)
	store := backend.Store(v)

	for i := range 500 {
		require.NoError(t, db.Session(ctx).Exec(`INSERT INTO blog (id, title, contents) VALUES (?, ?, ?)`,
			i, fmt.Sprintf("t%d", i), "body").Error)
	}
	// Duplicates collapse at claim time.
	require.NoError(t, db.Session(ctx).Exec(`UPDATE blog SET contents = 'edited' WHERE id < 50`).Error)

	var (
		mu   sync.Mutex
		seen = make(map[string]int)
		wg   sync.WaitGroup
	)
	for range 6 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				claim, err := q.Claim(ctx, 20)
				if !assert.NoError(t, err) || len(claim.Keys()) == 0 {
					return
				}
				for _, k := range claim.Keys() {
					assert.NoError(t, claim.Complete(ctx, k, func(ctx context.Context) error {
						mu.Lock()
						seen[k.String()]++
						mu.Unlock()
						return store.Replace(ctx, k, []embedding.Record{embedding.NewRecord(k, 0, "body", []float32{1, 2, 3})})
					}))
				}
				assert.NoError(t, claim.Close(ctx))
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 500)
	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Zero(t, depth)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(500), count)
}

func TestPostgres_ReleaseAndCrashRestoreEntries(t *testing.T) {
	ctx := context.Background()
	db := testdb.NewPostgres(t)
	v := provisionPostgresBlog(t, db)
	q := persistence.NewBackend(db).Queue(v)

	require.NoError(t, db.Session(ctx).Exec(`INSERT INTO blog (id, title, contents) VALUES (1, 'a', 'x'), (2, 'b', 'y')`).Error)

	claim, err := q.Claim(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claim.Keys(), 2)

	// Nothing else is claimable while the claim is open.
	other, err := q.Claim(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, other.Keys())

	failing := claim.Keys()[0]
	err = claim.Complete(ctx, failing, func(context.Context) error { return assert.AnError })
	require.ErrorIs(t, err, assert.AnError)
	require.NoError(t, claim.Close(ctx))

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), depth, "unacknowledged keys return to the queue")
}

func TestPostgres_StoreRoundTripAndCascade(t *testing.T) {
	ctx := context.Background()
	db := testdb.NewPostgres(t)
	v := provisionPostgresBlog(t, db)
	store := persistence.NewBackend(db).Store(v)

	require.NoError(t, db.Session(ctx).Exec(`INSERT INTO blog (id, title, contents) VALUES (1, 'a', 'x')`).Error)
	key := source.NewKey(int64(1))
	require.NoError(t, store.Replace(ctx, key, []embedding.Record{
		embedding.NewRecord(key, 0, "a", []float32{0.1, 0.2, 0.3}),
		embedding.NewRecord(key, 1, "b", []float32{0.4, 0.5, 0.6}),
	}))
	records, err := store.Records(ctx, key)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, []float32{0.4, 0.5, 0.6}, records[1].Vector())

	require.NoError(t, db.Session(ctx).Exec(`DELETE FROM blog WHERE id = 1`).Error)
	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestPostgres_IndexCreatedOnce(t *testing.T) {
	ctx := context.Background()
	db := testdb.NewPostgres(t)
	v := provisionPostgresBlog(t, db)

	def := v.Definition()
	def.Indexing = vectorizer.IndexingDefinition{Implementation: vectorizer.ImplHNSW}
	indexed, err := vectorizer.Reconstruct(v.ID(), def, false, nil, "", 0, v.CreatedAt(), v.UpdatedAt())
	require.NoError(t, err)

	builder := persistence.NewPostgresIndexBuilder(db)
	created, err := builder.Create(ctx, indexed, 0)
	require.NoError(t, err)
	assert.True(t, created)

	exists, err := builder.Exists(ctx, indexed)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestPostgres_ListenerReceivesTriggerNotifications(t *testing.T) {
	db := testdb.NewPostgres(t)
	v := provisionPostgresBlog(t, db)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	ids := make(chan int64, 4)
	listener := persistence.NewListener(db.URL(), nil)
	go func() { _ = listener.Listen(ctx, ids) }()

	// Keep writing until the listener has subscribed and sees one.
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for i := 1; ; i++ {
		select {
		case id := <-ids:
			assert.Equal(t, v.ID(), id)
			return
		case <-ticker.C:
			require.NoError(t, db.Session(ctx).Exec(`INSERT INTO blog (id, title, contents) VALUES (?, 't', 'x')`, i).Error)
		case <-ctx.Done():
			t.Fatal("no notification received")
		}
	}
}
