package shard

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPool_ReusesHandles(t *testing.T) {
	pool, err := NewPool(t.TempDir(), 4)
	require.NoError(t, err)
	defer pool.Close()

	a, err := pool.Get("proj-a")
	require.NoError(t, err)
	b, err := pool.Get("proj-a")
	require.NoError(t, err)
	require.Same(t, a, b)
	require.Equal(t, 1, pool.Len())
}

func TestPool_EvictsLeastRecentlyUsed(t *testing.T) {
	dir := t.TempDir()
	pool, err := NewPool(dir, 2)
	require.NoError(t, err)
	defer pool.Close()

	first, err := pool.Get("proj-1")
	require.NoError(t, err)
	ingestOK(t, first, exception("EvictError", "boom"))

	_, err = pool.Get("proj-2")
	require.NoError(t, err)
	_, err = pool.Get("proj-3")
	require.NoError(t, err)
	require.Equal(t, 2, pool.Len())

	// proj-1 was evicted and its handle closed.
	_, err = first.Issues(context.Background(), IssueFilter{})
	require.Error(t, err)

	// Reopening is safe and the data survived eviction.
	reopened, err := pool.Get("proj-1")
	require.NoError(t, err)
	require.NotSame(t, first, reopened)
	page, err := reopened.Issues(context.Background(), IssueFilter{})
	require.NoError(t, err)
	require.Len(t, page.Issues, 1)
	require.Equal(t, "EvictError: boom", page.Issues[0].Title)
}

func TestPool_RemoveEvictsWithoutDeleting(t *testing.T) {
	dir := t.TempDir()
	pool, err := NewPool(dir, 4)
	require.NoError(t, err)
	defer pool.Close()

	sh, err := pool.Get("proj-a")
	require.NoError(t, err)
	ingestOK(t, sh, exception("KeepError", "boom"))

	pool.Remove("proj-a")
	require.Equal(t, 0, pool.Len())
	_, err = os.Stat(filepath.Join(dir, "proj-a.db"))
	require.NoError(t, err, "Remove must keep the database file")

	reopened, err := pool.Get("proj-a")
	require.NoError(t, err)
	page, err := reopened.Issues(context.Background(), IssueFilter{})
	require.NoError(t, err)
	require.Len(t, page.Issues, 1)
}

func TestPool_DestroyDeletesFiles(t *testing.T) {
	dir := t.TempDir()
	pool, err := NewPool(dir, 4)
	require.NoError(t, err)
	defer pool.Close()

	sh, err := pool.Get("proj-a")
	require.NoError(t, err)
	ingestOK(t, sh, exception("GoneError", "boom"))

	require.NoError(t, pool.Destroy("proj-a"))
	require.Equal(t, 0, pool.Len())
	_, err = os.Stat(filepath.Join(dir, "proj-a.db"))
	require.True(t, os.IsNotExist(err))

	// The next Get starts from a fresh, empty shard.
	fresh, err := pool.Get("proj-a")
	require.NoError(t, err)
	page, err := fresh.Issues(context.Background(), IssueFilter{})
	require.NoError(t, err)
	require.Empty(t, page.Issues)
}

func TestPool_RejectsUnsafeIDs(t *testing.T) {
	pool, err := NewPool(t.TempDir(), 4)
	require.NoError(t, err)
	defer pool.Close()

	for _, id := range []string{"", "../escape", "a/b", "a.b", "name with spaces"} {
		_, err := pool.Get(id)
		require.ErrorIs(t, err, ErrBadProjectID, "id %q", id)
		require.ErrorIs(t, pool.Destroy(id), ErrBadProjectID, "id %q", id)
	}
}
