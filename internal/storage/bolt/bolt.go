// Package bolt implements storage.Store on a bbolt file.
package bolt

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"github.com/amaydixit11/cowrite/internal/core"
	"github.com/amaydixit11/cowrite/internal/storage"
)

var documentsBucket = []byte("documents")

// BoltStore keeps one JSON record per room in a single bucket.
type BoltStore struct {
	db *bbolt.DB
}

var _ storage.Store = (*BoltStore)(nil)

// New opens (or creates) the database file at path.
func New(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(documentsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Save(doc storage.Document) error {
	if !doc.Room.Valid() {
		return &core.InvalidRoomIDError{Input: string(doc.Room), Reason: "must be 8 characters A-Z or 0-9"}
	}
	if doc.SavedAt.IsZero() {
		doc.SavedAt = time.Now()
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(documentsBucket).Put([]byte(doc.Room), data)
	})
}

func (s *BoltStore) Get(room core.RoomID) (storage.Document, error) {
	var doc storage.Document
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(documentsBucket).Get([]byte(room))
		if data == nil {
			return storage.ErrNotFound{Room: room}
		}
		return json.Unmarshal(data, &doc)
	})
	if err != nil {
		return storage.Document{}, err
	}
	return doc, nil
}

func (s *BoltStore) List(filter storage.ListFilter) ([]storage.Document, error) {
	docs := []storage.Document{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(documentsBucket).ForEach(func(_, v []byte) error {
			var doc storage.Document
			if err := json.Unmarshal(v, &doc); err != nil {
				return err
			}
			docs = append(docs, doc)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	sort.Slice(docs, func(i, j int) bool {
		if !docs[i].SavedAt.Equal(docs[j].SavedAt) {
			return docs[i].SavedAt.After(docs[j].SavedAt)
		}
		return docs[i].Room < docs[j].Room
	})
	return storage.Paginate(docs, filter), nil
}

func (s *BoltStore) Delete(room core.RoomID) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(documentsBucket)
		if b.Get([]byte(room)) == nil {
			return storage.ErrNotFound{Room: room}
		}
		return b.Delete([]byte(room))
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
