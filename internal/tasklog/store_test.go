package tasklog

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendSequencesAreGapFree(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	for i := 0; i < 25; i++ {
		entry, err := store.Append("TASK-1", KindStdout, fmt.Sprintf("line %d", i))
		require.NoError(t, err)
		assert.Equal(t, uint64(i+1), entry.Seq)
	}

	entries, err := store.Tail("TASK-1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 25)
	for i, entry := range entries {
		assert.Equal(t, uint64(i+1), entry.Seq)
	}
}

func TestSequencesSurviveRestart(t *testing.T) {
	dir := t.TempDir()

	store, err := NewStore(dir)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := store.Append("TASK-1", KindStdout, "before restart")
		require.NoError(t, err)
	}

	// A new store over the same directory picks up where the old one left off.
	reopened, err := NewStore(dir)
	require.NoError(t, err)
	entry, err := reopened.Append("TASK-1", KindSystem, "after restart")
	require.NoError(t, err)
	assert.Equal(t, uint64(4), entry.Seq)
}

func TestSequencesAreIndependentPerTask(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	a, err := store.Append("TASK-A", KindStdout, "a")
	require.NoError(t, err)
	b, err := store.Append("TASK-B", KindStdout, "b")
	require.NoError(t, err)

	assert.Equal(t, uint64(1), a.Seq)
	assert.Equal(t, uint64(1), b.Seq)
}

func TestTail(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	for i := 1; i <= 10; i++ {
		_, err := store.Append("TASK-1", KindStdout, fmt.Sprintf("line %d", i))
		require.NoError(t, err)
	}

	entries, err := store.Tail("TASK-1", 3)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "line 8", entries[0].Message)
	assert.Equal(t, "line 10", entries[2].Message)

	// Unknown task: empty, not an error.
	entries, err = store.Tail("TASK-NONE", 5)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestTailTextTagsSystemEntries(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Append("TASK-1", KindStdout, "compiling")
	require.NoError(t, err)
	_, err = store.Append("TASK-1", KindSystem, "run cancelled by operator")
	require.NoError(t, err)

	text, err := store.TailText("TASK-1", 0)
	require.NoError(t, err)
	assert.Equal(t, "compiling\n[system] run cancelled by operator", text)

	assert.True(t, store.Exists("TASK-1"))
	assert.False(t, store.Exists("TASK-2"))
}
