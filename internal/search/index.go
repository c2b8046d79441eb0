// Package search provides full-text search over retained room texts using
// Bleve.
package search

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/amaydixit11/cowrite/internal/core"
	"github.com/amaydixit11/cowrite/internal/storage"
)

// Index wraps Bleve for full-text search
type Index struct {
	index bleve.Index
	path  string
}

// document is the indexed form of a retained room
type document struct {
	Room string `json:"room"`
	Name string `json:"name"`
	Text string `json:"text"`
}

func newMapping() mapping.IndexMapping {
	m := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()

	textField := bleve.NewTextFieldMapping()
	textField.Analyzer = "standard"
	docMapping.AddFieldMappingsAt("text", textField)

	nameField := bleve.NewTextFieldMapping()
	nameField.Analyzer = "standard"
	docMapping.AddFieldMappingsAt("name", nameField)

	roomField := bleve.NewTextFieldMapping()
	roomField.Analyzer = "keyword"
	docMapping.AddFieldMappingsAt("room", roomField)

	m.DefaultMapping = docMapping
	return m
}

// NewIndex creates or opens a Bleve index in dataDir
func NewIndex(dataDir string) (*Index, error) {
	indexPath := filepath.Join(dataDir, "rooms.bleve")

	idx, err := bleve.Open(indexPath)
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		idx, err = bleve.New(indexPath, newMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to create index: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}

	return &Index{index: idx, path: indexPath}, nil
}

// NewMemoryIndex creates an in-memory index for testing
func NewMemoryIndex() (*Index, error) {
	idx, err := bleve.NewMemOnly(newMapping())
	if err != nil {
		return nil, err
	}
	return &Index{index: idx}, nil
}

// Index adds or updates the text of a room
func (i *Index) Index(doc storage.Document) error {
	return i.index.Index(string(doc.Room), document{
		Room: string(doc.Room),
		Name: doc.Name,
		Text: doc.Text,
	})
}

// Rebuild indexes every document, e.g. after the index was lost.
func (i *Index) Rebuild(docs []storage.Document) error {
	batch := i.index.NewBatch()
	for _, doc := range docs {
		if err := batch.Index(string(doc.Room), document{Room: string(doc.Room), Name: doc.Name, Text: doc.Text}); err != nil {
			return err
		}
	}
	return i.index.Batch(batch)
}

// Delete removes a room from the index
func (i *Index) Delete(room core.RoomID) error {
	return i.index.Delete(string(room))
}

// Count returns the number of indexed rooms.
func (i *Index) Count() (uint64, error) {
	return i.index.DocCount()
}

// Result represents a search hit
type Result struct {
	Room  core.RoomID
	Score float64
}

// Search matches query against room texts and names, best first
func (i *Index) Search(query string, limit int) ([]Result, error) {
	text := bleve.NewMatchQuery(query)
	text.SetField("text")
	name := bleve.NewMatchQuery(query)
	name.SetField("name")

	req := bleve.NewSearchRequest(bleve.NewDisjunctionQuery(text, name))
	req.Size = limit
	if req.Size <= 0 {
		req.Size = 50
	}

	res, err := i.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	results := make([]Result, 0, len(res.Hits))
	for _, hit := range res.Hits {
		results = append(results, Result{Room: core.RoomID(hit.ID), Score: hit.Score})
	}
	return results, nil
}

// Close closes the index
func (i *Index) Close() error {
	return i.index.Close()
}

// Destroy closes the index and removes it from disk
func (i *Index) Destroy() error {
	i.index.Close()
	if i.path != "" {
		return os.RemoveAll(i.path)
	}
	return nil
}
