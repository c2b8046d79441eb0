// Package storagetest holds the behaviour every storage.Store backend must
// share.
package storagetest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amaydixit11/cowrite/internal/core"
	"github.com/amaydixit11/cowrite/internal/storage"
)

// Run exercises a backend. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) storage.Store) {
	t.Run("SaveAndGet", func(t *testing.T) {
		s := newStore(t)
		at := time.UnixMilli(1_700_000_000_000)
		require.NoError(t, s.Save(storage.Document{Room: "ABCD1234", Name: "notes", Text: "Hello\nWörld", SavedAt: at}))

		doc, err := s.Get("ABCD1234")
		require.NoError(t, err)
		assert.Equal(t, core.RoomID("ABCD1234"), doc.Room)
		assert.Equal(t, "notes", doc.Name)
		assert.Equal(t, "Hello\nWörld", doc.Text)
		assert.True(t, doc.SavedAt.Equal(at), "saved at %s, want %s", doc.SavedAt, at)
	})

	t.Run("SaveReplaces", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Save(storage.Document{Room: "ABCD1234", Text: "one"}))
		require.NoError(t, s.Save(storage.Document{Room: "ABCD1234", Text: "two"}))

		doc, err := s.Get("ABCD1234")
		require.NoError(t, err)
		assert.Equal(t, "two", doc.Text)
		assert.False(t, doc.SavedAt.IsZero())

		docs, err := s.List(storage.ListFilter{})
		require.NoError(t, err)
		assert.Len(t, docs, 1)
	})

	t.Run("SaveRejectsInvalidRoom", func(t *testing.T) {
		s := newStore(t)
		var invalid *core.InvalidRoomIDError
		assert.ErrorAs(t, s.Save(storage.Document{Room: "nope", Text: "x"}), &invalid)
	})

	t.Run("NotFound", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get("ZZZZ9999")
		assert.ErrorAs(t, err, &storage.ErrNotFound{})
		assert.ErrorAs(t, s.Delete("ZZZZ9999"), &storage.ErrNotFound{})
	})

	t.Run("ListNewestFirst", func(t *testing.T) {
		s := newStore(t)
		base := time.UnixMilli(1_700_000_000_000)
		rooms := []core.RoomID{"AAAA0001", "AAAA0002", "AAAA0003"}
		for i, r := range rooms {
			require.NoError(t, s.Save(storage.Document{Room: r, Text: string(r), SavedAt: base.Add(time.Duration(i) * time.Minute)}))
		}

		docs, err := s.List(storage.ListFilter{})
		require.NoError(t, err)
		require.Len(t, docs, 3)
		assert.Equal(t, []core.RoomID{"AAAA0003", "AAAA0002", "AAAA0001"}, roomsOf(docs))

		docs, err = s.List(storage.ListFilter{Limit: 1, Offset: 1})
		require.NoError(t, err)
		assert.Equal(t, []core.RoomID{"AAAA0002"}, roomsOf(docs))

		docs, err = s.List(storage.ListFilter{Offset: 2})
		require.NoError(t, err)
		assert.Equal(t, []core.RoomID{"AAAA0001"}, roomsOf(docs))
	})

	t.Run("Delete", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Save(storage.Document{Room: "ABCD1234", Text: "x"}))
		require.NoError(t, s.Delete("ABCD1234"))
		_, err := s.Get("ABCD1234")
		assert.ErrorAs(t, err, &storage.ErrNotFound{})
	})
}

func roomsOf(docs []storage.Document) []core.RoomID {
	out := make([]core.RoomID, len(docs))
	for i, d := range docs {
		out[i] = d.Room
	}
	return out
}
