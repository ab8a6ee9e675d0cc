package vecsync_test

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixml/vecsync"
)

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func TestNew_RequiresDatabase(t *testing.T) {
	_, err := vecsync.New()
	assert.ErrorIs(t, err, vecsync.ErrNoDatabase)
}

func TestNew_SQLite(t *testing.T) {
	client, err := vecsync.New(vecsync.WithSQLite(filepath.Join(t.TempDir(), "vecsync.db")))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	assert.NotNil(t, client.Vectorizers())
	assert.NotNil(t, client.Worker())
	assert.NotNil(t, client.Logger())

	vs, err := client.Vectorizers().List(t.Context())
	require.NoError(t, err)
	assert.Empty(t, vs)
}

func TestClient_CloseRunsClosersOnce(t *testing.T) {
	calls := 0
	failing := closerFunc(func() error {
		calls++
		return errors.New("boom")
	})

	client, err := vecsync.New(
		vecsync.WithSQLite(filepath.Join(t.TempDir(), "vecsync.db")),
		vecsync.WithCloser(failing),
	)
	require.NoError(t, err)

	require.NoError(t, client.Close())
	assert.Equal(t, 1, calls)

	assert.ErrorIs(t, client.Close(), vecsync.ErrClientClosed)
	assert.Equal(t, 1, calls)
}
