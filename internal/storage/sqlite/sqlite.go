// Package sqlite implements storage.Store on SQLite.
package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/amaydixit11/cowrite/internal/core"
	"github.com/amaydixit11/cowrite/internal/storage"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db *sql.DB
}

var _ storage.Store = (*SQLiteStore)(nil)

// New creates a new SQLite store at the given path
// If path is ":memory:", creates an in-memory database
func New(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		// every pooled connection would get its own empty database
		db.SetMaxOpenConns(1)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// initSchema creates the database tables if they don't exist
func (s *SQLiteStore) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS documents (
			room TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			text TEXT NOT NULL,
			saved_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_documents_saved ON documents(saved_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Save stores a document (idempotent - upsert)
func (s *SQLiteStore) Save(doc storage.Document) error {
	if !doc.Room.Valid() {
		return &core.InvalidRoomIDError{Input: string(doc.Room), Reason: "must be 8 characters A-Z or 0-9"}
	}
	if doc.SavedAt.IsZero() {
		doc.SavedAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO documents (room, name, text, saved_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(room) DO UPDATE SET
			name = excluded.name,
			text = excluded.text,
			saved_at = excluded.saved_at
	`, string(doc.Room), doc.Name, doc.Text, doc.SavedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save document: %w", err)
	}
	return nil
}

// Get retrieves the document of a room
func (s *SQLiteStore) Get(room core.RoomID) (storage.Document, error) {
	doc := storage.Document{Room: room}
	var savedAt int64
	err := s.db.QueryRow(`
		SELECT name, text, saved_at
		FROM documents
		WHERE room = ?
	`, string(room)).Scan(&doc.Name, &doc.Text, &savedAt)

	if err == sql.ErrNoRows {
		return storage.Document{}, storage.ErrNotFound{Room: room}
	}
	if err != nil {
		return storage.Document{}, fmt.Errorf("failed to get document: %w", err)
	}
	doc.SavedAt = time.UnixMilli(savedAt)
	return doc, nil
}

// List returns documents, most recently saved first
func (s *SQLiteStore) List(filter storage.ListFilter) ([]storage.Document, error) {
	query := "SELECT room, name, text, saved_at FROM documents ORDER BY saved_at DESC, room"
	args := []interface{}{}

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	} else if filter.Offset > 0 {
		query += " LIMIT -1"
	}
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	docs := []storage.Document{}
	for rows.Next() {
		var doc storage.Document
		var room string
		var savedAt int64
		if err := rows.Scan(&room, &doc.Name, &doc.Text, &savedAt); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		doc.Room = core.RoomID(room)
		doc.SavedAt = time.UnixMilli(savedAt)
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// Delete removes the document of a room
func (s *SQLiteStore) Delete(room core.RoomID) error {
	result, err := s.db.Exec("DELETE FROM documents WHERE room = ?", string(room))
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return storage.ErrNotFound{Room: room}
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
