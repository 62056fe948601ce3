package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vrlab/classroom-monitor/internal/domain/activity"
)

func openTestStore(t *testing.T) (*KeyValueStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "monitor.db")
	store, err := Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, path
}

func TestKeyValueStore_MissingKey(t *testing.T) {
	store, _ := openTestStore(t)

	val, ok, err := store.Get(context.Background(), activity.HelpDotsKey)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, val)
}

func TestKeyValueStore_Overwrite(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, activity.HelpDotsKey, `{"s1":true}`))
	require.NoError(t, store.Set(ctx, activity.HelpDotsKey, `{"s1":true,"s2":true}`))

	val, ok, err := store.Get(ctx, activity.HelpDotsKey)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"s1":true,"s2":true}`, val)
}

func TestKeyValueStore_SurvivesReopen(t *testing.T) {
	store, path := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, activity.HelpDotsKey, `{"s1":true}`))
	require.NoError(t, store.Close())

	reopened, err := Open(ctx, path)
	require.NoError(t, err)
	defer reopened.Close()

	val, ok, err := reopened.Get(ctx, activity.HelpDotsKey)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"s1":true}`, val)
}

func TestKeyValueStore_Closed(t *testing.T) {
	store, _ := openTestStore(t)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	_, _, err := store.Get(context.Background(), "k")
	assert.ErrorIs(t, err, ErrStoreClosed)
	assert.ErrorIs(t, store.Set(context.Background(), "k", "v"), ErrStoreClosed)
	assert.ErrorIs(t, store.Ping(context.Background()), ErrStoreClosed)
}
