package database

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupItems(t *testing.T) Database {
	t.Helper()
	db := newTestDatabase(t)
	require.NoError(t, db.Session(context.Background()).Exec(
		"CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT NOT NULL)",
	).Error)
	return db
}

func countItems(t *testing.T, db Database) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Session(context.Background()).Table("items").Count(&n).Error)
	return n
}

func TestTransaction_CommitAndRollback(t *testing.T) {
	ctx := context.Background()
	db := setupItems(t)

	txn, err := NewTransaction(ctx, db)
	require.NoError(t, err)
	require.NoError(t, txn.Session(ctx).Exec("INSERT INTO items (name) VALUES ('a')").Error)
	require.NoError(t, txn.Commit())
	assert.True(t, txn.Finished())
	assert.NoError(t, txn.Rollback(), "rollback after commit is a no-op")
	assert.Equal(t, int64(1), countItems(t, db))

	txn, err = NewTransaction(ctx, db)
	require.NoError(t, err)
	require.NoError(t, txn.Session(ctx).Exec("INSERT INTO items (name) VALUES ('b')").Error)
	require.NoError(t, txn.Rollback())
	assert.Equal(t, int64(1), countItems(t, db))
}

func TestWithTransaction_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	db := setupItems(t)
	boom := errors.New("boom")

	err := WithTransaction(ctx, db, func(_ context.Context, tx *gorm.DB) error {
		require.NoError(t, tx.Exec("INSERT INTO items (name) VALUES ('a')").Error)
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int64(0), countItems(t, db))
}

func TestWithTransaction_SessionJoinsContextTransaction(t *testing.T) {
	ctx := context.Background()
	db := setupItems(t)

	err := WithTransaction(ctx, db, func(ctx context.Context, _ *gorm.DB) error {
		// Session(ctx) must reuse the open transaction; on a single
		// connection a second transaction would block forever.
		return db.Session(ctx).Exec("INSERT INTO items (name) VALUES ('a')").Error
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), countItems(t, db))
}

func TestWithTransaction_NestedSavepoint(t *testing.T) {
	ctx := context.Background()
	db := setupItems(t)
	boom := errors.New("inner")

	err := WithTransaction(ctx, db, func(ctx context.Context, tx *gorm.DB) error {
		require.NoError(t, tx.Exec("INSERT INTO items (name) VALUES ('outer')").Error)
		innerErr := WithTransaction(ctx, db, func(_ context.Context, inner *gorm.DB) error {
			require.NoError(t, inner.Exec("INSERT INTO items (name) VALUES ('inner')").Error)
			return boom
		})
		assert.ErrorIs(t, innerErr, boom)
		return nil
	})
	require.NoError(t, err)

	var names []string
	require.NoError(t, db.Session(ctx).Table("items").Pluck("name", &names).Error)
	assert.Equal(t, []string{"outer"}, names)
}

func TestWithTransactionResult(t *testing.T) {
	ctx := context.Background()
	db := setupItems(t)

	id, err := WithTransactionResult(ctx, db, func(_ context.Context, tx *gorm.DB) (int64, error) {
		if err := tx.Exec("INSERT INTO items (name) VALUES ('a')").Error; err != nil {
			return 0, err
		}
		var id int64
		err := tx.Raw("SELECT id FROM items WHERE name = 'a'").Scan(&id).Error
		return id, err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
}
