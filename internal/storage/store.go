// Package storage retains the visible text of rooms between sessions.
//
// Only the materialized text is stored. Operations, tombstones and presence
// live and die with their session; a resumed room is hosted anew from the
// retained text.
package storage

import (
	"time"

	"github.com/amaydixit11/cowrite/internal/core"
)

// Document is the retained text of one room
type Document struct {
	Room    core.RoomID `json:"room"`
	Name    string      `json:"name,omitempty"` // optional label
	Text    string      `json:"text"`
	SavedAt time.Time   `json:"saved_at"`
}

// ListFilter specifies which documents List returns
type ListFilter struct {
	Limit  int // Max number of results (0 = no limit)
	Offset int // Skip first N results
}

// Store defines the storage interface for retained documents
type Store interface {
	// Save stores doc, replacing any earlier text of the same room.
	// A zero SavedAt is set to the current time.
	Save(doc Document) error

	// Get retrieves the document of a room
	// Returns ErrNotFound if the room was never saved
	Get(room core.RoomID) (Document, error)

	// List returns documents, most recently saved first
	List(filter ListFilter) ([]Document, error)

	// Delete removes the document of a room
	Delete(room core.RoomID) error

	// Close releases all resources
	Close() error
}

// ErrNotFound is returned when a room has no retained document
type ErrNotFound struct {
	Room core.RoomID
}

func (e ErrNotFound) Error() string {
	return "no saved document for room " + string(e.Room)
}

// Paginate applies filter to documents already in List order.
func Paginate(docs []Document, filter ListFilter) []Document {
	if filter.Offset > 0 {
		if filter.Offset >= len(docs) {
			return []Document{}
		}
		docs = docs[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(docs) {
		docs = docs[:filter.Limit]
	}
	return docs
}
