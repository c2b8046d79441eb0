package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amaydixit11/cowrite/internal/core"
	"github.com/amaydixit11/cowrite/internal/storage"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := NewMemoryIndex()
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func rooms(results []Result) []core.RoomID {
	out := make([]core.RoomID, len(results))
	for i, r := range results {
		out[i] = r.Room
	}
	return out
}

func TestIndexAndSearch(t *testing.T) {
	idx := newTestIndex(t)
	require.NoError(t, idx.Index(storage.Document{Room: "AAAA0001", Text: "the quick brown fox"}))
	require.NoError(t, idx.Index(storage.Document{Room: "AAAA0002", Text: "lazy dogs sleep"}))
	require.NoError(t, idx.Index(storage.Document{Room: "AAAA0003", Name: "fox notes", Text: "nothing here"}))

	results, err := idx.Search("fox", 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []core.RoomID{"AAAA0001", "AAAA0003"}, rooms(results))
	for _, r := range results {
		assert.Greater(t, r.Score, 0.0)
	}

	results, err = idx.Search("cat", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestIndexReplacesAndDeletes(t *testing.T) {
	idx := newTestIndex(t)
	require.NoError(t, idx.Index(storage.Document{Room: "AAAA0001", Text: "draft"}))
	require.NoError(t, idx.Index(storage.Document{Room: "AAAA0001", Text: "final"}))

	results, err := idx.Search("draft", 10)
	require.NoError(t, err)
	assert.Empty(t, results, "re-indexing replaces the old text")

	results, err = idx.Search("final", 10)
	require.NoError(t, err)
	assert.Equal(t, []core.RoomID{"AAAA0001"}, rooms(results))

	require.NoError(t, idx.Delete("AAAA0001"))
	n, err := idx.Count()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRebuild(t *testing.T) {
	idx := newTestIndex(t)
	require.NoError(t, idx.Rebuild([]storage.Document{
		{Room: "AAAA0001", Text: "alpha"},
		{Room: "AAAA0002", Text: "beta"},
	}))
	n, err := idx.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)
}

func TestNewIndexOnDisk(t *testing.T) {
	dir := t.TempDir()
	idx, err := NewIndex(dir)
	require.NoError(t, err)
	require.NoError(t, idx.Index(storage.Document{Room: "AAAA0001", Text: "persisted words"}))
	require.NoError(t, idx.Close())

	reopened, err := NewIndex(dir)
	require.NoError(t, err)
	defer reopened.Destroy()
	results, err := reopened.Search("persisted", 5)
	require.NoError(t, err)
	assert.Equal(t, []core.RoomID{"AAAA0001"}, rooms(results))
}
