package persistence

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/helixml/vecsync/domain/vectorizer"
	"github.com/helixml/vecsync/internal/database"
)

// newMockPostgres returns a Database using the postgres dialector over
// sqlmock, for SQL that only PostgreSQL accepts.
func newMockPostgres(t *testing.T) (database.Database, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return database.FromGORM(gdb), mock
}

func indexedVectorizer(t *testing.T, indexing vectorizer.IndexingDefinition, scheduling vectorizer.SchedulingDefinition) vectorizer.Vectorizer {
	t.Helper()
	def := blogDefinition()
	def.Indexing = indexing
	def.Scheduling = scheduling
	v, err := vectorizer.NewVectorizer(def)
	require.NoError(t, err)
	return v.WithID(7)
}

func TestIndexSQL(t *testing.T) {
	minRows := int64(10)
	tests := []struct {
		name     string
		indexing vectorizer.IndexingDefinition
		rows     int64
		want     string
	}{
		{
			name:     "hnsw defaults",
			indexing: vectorizer.IndexingDefinition{Implementation: vectorizer.ImplHNSW, MinRows: &minRows},
			want:     `CREATE INDEX IF NOT EXISTS "blog_embedding_store_embedding_idx" ON "blog_embedding_store" USING hnsw (embedding vector_cosine_ops) WITH (m = 16, ef_construction = 64)`,
		},
		{
			name:     "ivfflat derived lists",
			indexing: vectorizer.IndexingDefinition{Implementation: vectorizer.ImplIVFFlat, Opclass: "vector_l2_ops"},
			rows:     250_000,
			want:     `CREATE INDEX IF NOT EXISTS "blog_embedding_store_embedding_idx" ON "blog_embedding_store" USING ivfflat (embedding vector_l2_ops) WITH (lists = 250)`,
		},
		{
			name:     "diskann",
			indexing: vectorizer.IndexingDefinition{Implementation: vectorizer.ImplDiskANN},
			want:     `CREATE INDEX IF NOT EXISTS "blog_embedding_store_embedding_idx" ON "blog_embedding_store" USING diskann (embedding vector_cosine_ops)`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := indexedVectorizer(t, tt.indexing, vectorizer.SchedulingDefinition{})
			got, err := indexSQL(v, tt.rows)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := indexSQL(indexedVectorizer(t, vectorizer.IndexingDefinition{}, vectorizer.SchedulingDefinition{}), 0)
	require.ErrorIs(t, err, vectorizer.ErrInvalidConfig)
}

func TestIVFFlatLists(t *testing.T) {
	assert.Equal(t, 42, ivfflatLists(42, 5_000_000))
	assert.Equal(t, 10, ivfflatLists(0, 500))
	assert.Equal(t, 500, ivfflatLists(0, 500_000))
	assert.Equal(t, 2000, ivfflatLists(0, 4_000_000))
}

func TestPostgresIndexBuilder_Create(t *testing.T) {
	v := indexedVectorizer(t, vectorizer.IndexingDefinition{Implementation: vectorizer.ImplHNSW}, vectorizer.SchedulingDefinition{})

	t.Run("created", func(t *testing.T) {
		db, mock := newMockPostgres(t)
		mock.ExpectExec(regexp.QuoteMeta(`CREATE INDEX IF NOT EXISTS "blog_embedding_store_embedding_idx"`)).
			WillReturnResult(sqlmock.NewResult(0, 0))

		created, err := NewPostgresIndexBuilder(db).Create(context.Background(), v, 100)
		require.NoError(t, err)
		assert.True(t, created)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	for _, code := range []string{pgDuplicateTable, pgUniqueViolation} {
		t.Run("already exists "+code, func(t *testing.T) {
			db, mock := newMockPostgres(t)
			mock.ExpectExec(regexp.QuoteMeta(`CREATE INDEX IF NOT EXISTS`)).
				WillReturnError(&pgconn.PgError{Code: code, Message: "relation already exists"})

			created, err := NewPostgresIndexBuilder(db).Create(context.Background(), v, 100)
			require.NoError(t, err)
			assert.False(t, created)
		})
	}

	t.Run("other error", func(t *testing.T) {
		db, mock := newMockPostgres(t)
		mock.ExpectExec(regexp.QuoteMeta(`CREATE INDEX IF NOT EXISTS`)).
			WillReturnError(&pgconn.PgError{Code: "42704", Message: "operator class does not exist"})

		_, err := NewPostgresIndexBuilder(db).Create(context.Background(), v, 100)
		require.Error(t, err)
	})
}

func TestPostgresIndexBuilder_Exists(t *testing.T) {
	db, mock := newMockPostgres(t)
	v := indexedVectorizer(t, vectorizer.IndexingDefinition{Implementation: vectorizer.ImplHNSW}, vectorizer.SchedulingDefinition{})

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT to_regclass($1) IS NOT NULL`)).
		WithArgs(`"blog_embedding_store_embedding_idx"`).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(true))

	exists, err := NewPostgresIndexBuilder(db).Exists(context.Background(), v)
	require.NoError(t, err)
	assert.True(t, exists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCronSpec(t *testing.T) {
	tests := []struct {
		interval time.Duration
		want     string
		ok       bool
	}{
		{30 * time.Second, "30 seconds", true},
		{5 * time.Minute, "*/5 * * * *", true},
		{2 * time.Hour, "0 */2 * * *", true},
		{24 * time.Hour, "0 0 * * *", true},
		{90 * time.Second, "", false},
		{1500 * time.Millisecond, "", false},
		{500 * time.Millisecond, "", false},
		{48 * time.Hour, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.interval.String(), func(t *testing.T) {
			got, err := cronSpec(tt.interval)
			if !tt.ok {
				require.ErrorIs(t, err, vectorizer.ErrInvalidConfig)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPostgresCron(t *testing.T) {
	ctx := context.Background()
	db, mock := newMockPostgres(t)
	v := indexedVectorizer(t, vectorizer.IndexingDefinition{}, vectorizer.SchedulingDefinition{
		Implementation:   vectorizer.ImplDatabaseCron,
		ScheduleInterval: "10m",
	})
	cron := NewPostgresCron(db)

	mock.ExpectExec(regexp.QuoteMeta(`CREATE EXTENSION IF NOT EXISTS pg_cron`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT cron.schedule($1, $2, $3)`)).
		WithArgs("vecsync_blog_embedding", "*/10 * * * *", `SELECT pg_notify('vecsync_work', '7')`).
		WillReturnRows(sqlmock.NewRows([]string{"schedule"}).AddRow(int64(31)))
	mock.ExpectExec(regexp.QuoteMeta(`SELECT cron.alter_job(job_id := $1, active := $2)`)).
		WithArgs(int64(31), false).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`SELECT cron.unschedule($1::bigint)`)).
		WithArgs(int64(31)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	jobID, err := cron.Schedule(ctx, v)
	require.NoError(t, err)
	assert.Equal(t, int64(31), jobID)
	require.NoError(t, cron.SetActive(ctx, jobID, false))
	require.NoError(t, cron.Unschedule(ctx, jobID))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNoCronAndNoIndex(t *testing.T) {
	v := indexedVectorizer(t, vectorizer.IndexingDefinition{Implementation: vectorizer.ImplHNSW}, vectorizer.SchedulingDefinition{})

	_, err := NoCron{}.Schedule(context.Background(), v)
	require.ErrorIs(t, err, ErrCronUnsupported)

	_, err = NoIndexBuilder{}.Create(context.Background(), v, 1)
	require.ErrorIs(t, err, ErrIndexUnsupported)
}

func TestBackend_Supports(t *testing.T) {
	db := newTestDB(t)
	backend := NewBackend(db)

	plain := indexedVectorizer(t, vectorizer.IndexingDefinition{}, vectorizer.SchedulingDefinition{})
	require.NoError(t, backend.Supports(plain.Config()))

	hnsw := indexedVectorizer(t, vectorizer.IndexingDefinition{Implementation: vectorizer.ImplHNSW}, vectorizer.SchedulingDefinition{})
	require.ErrorIs(t, backend.Supports(hnsw.Config()), vectorizer.ErrInvalidConfig)

	pg, _ := newMockPostgres(t)
	require.NoError(t, NewBackend(pg).Supports(hnsw.Config()))
	_, ok := NewBackend(pg).Queue(hnsw).(PostgresQueue)
	assert.True(t, ok)
	_, ok = backend.Queue(hnsw).(SQLiteQueue)
	assert.True(t, ok)
}
