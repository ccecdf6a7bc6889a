package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStore(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocal(filepath.Join(t.TempDir(), "data"))
	require.NoError(t, err)

	// Load on an empty store reports ErrNotExist.
	_, err = store.Load(ctx, "tasks.yaml")
	require.True(t, errors.Is(err, ErrNotExist))

	require.NoError(t, store.Save(ctx, "tasks.yaml", []byte("tasks: []")))

	data, err := store.Load(ctx, "tasks.yaml")
	require.NoError(t, err)
	assert.Equal(t, "tasks: []", string(data))

	ok, err := store.Exists(ctx, "tasks.yaml")
	require.NoError(t, err)
	assert.True(t, ok)

	// Nested key creates intermediate directories.
	require.NoError(t, store.Save(ctx, "logs/TASK-1.jsonl", []byte("{}")))

	keys, err := store.Keys(ctx, "logs")
	require.NoError(t, err)
	assert.Equal(t, []string{"logs/TASK-1.jsonl"}, keys)

	require.NoError(t, store.Remove(ctx, "tasks.yaml"))
	ok, err = store.Exists(ctx, "tasks.yaml")
	require.NoError(t, err)
	assert.False(t, ok)

	err = store.Remove(ctx, "tasks.yaml")
	require.True(t, errors.Is(err, ErrNotExist))
}

func TestLocalStoreOverwrite(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Save(ctx, "a.yaml", []byte("one")))
	require.NoError(t, store.Save(ctx, "a.yaml", []byte("two")))

	data, err := store.Load(ctx, "a.yaml")
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))
}
