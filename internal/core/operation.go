// Package core holds the identifiers and operation types shared by every
// layer of the collaborative text engine.
package core

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// ReplicaID distinguishes the peers editing a document.
// A fresh one is allocated for every session.
type ReplicaID string

// OpID is the globally unique identifier of an operation.
type OpID struct {
	Replica ReplicaID `json:"r"`
	Counter uint64    `json:"c"`
}

// Root is the sentinel "start of document" identifier. Inserts at the very
// beginning of the text reference it as their predecessor.
var Root = OpID{}

// IsRoot reports whether id is the start sentinel.
func (id OpID) IsRoot() bool {
	return id == Root
}

// Compare returns the total order used to break ties between concurrent
// inserts: by counter, then by replica.
func (id OpID) Compare(other OpID) int {
	switch {
	case id.Counter < other.Counter:
		return -1
	case id.Counter > other.Counter:
		return 1
	}
	return strings.Compare(string(id.Replica), string(other.Replica))
}

func (id OpID) String() string {
	if id.IsRoot() {
		return "root"
	}
	return string(id.Replica) + "@" + strconv.FormatUint(id.Counter, 10)
}

// OpKind is the kind of an operation
type OpKind string

const (
	Insert OpKind = "insert"
	Delete OpKind = "delete"
)

// Operation is an atomic edit of the shared text.
//
// Inserts place Value after the character identified by Ref (or at the
// start for Root). Deletes tombstone the character identified by Ref.
type Operation struct {
	ID    OpID   `json:"id"`
	Kind  OpKind `json:"kind"`
	Ref   OpID   `json:"ref"`
	Value string `json:"value,omitempty"`
}

// Dependency returns the identifier that must be applied before op.
func (op Operation) Dependency() OpID {
	return op.Ref
}

// Validate checks the structural invariants of an operation.
func (op Operation) Validate() error {
	if op.ID.IsRoot() || op.ID.Replica == "" || op.ID.Counter == 0 {
		return &InvalidOperationError{ID: op.ID, Reason: "missing identifier"}
	}
	switch op.Kind {
	case Insert:
		if utf8.RuneCountInString(op.Value) != 1 || !utf8.ValidString(op.Value) {
			return &InvalidOperationError{ID: op.ID, Reason: "insert must carry exactly one character"}
		}
		if !op.Ref.IsRoot() && op.Ref.Compare(op.ID) >= 0 {
			return &InvalidOperationError{ID: op.ID, Reason: "insert predecessor is not older than the insert"}
		}
	case Delete:
		if op.Ref.IsRoot() {
			return &InvalidOperationError{ID: op.ID, Reason: "delete must target a character"}
		}
		if op.Value != "" {
			return &InvalidOperationError{ID: op.ID, Reason: "delete carries no value"}
		}
	default:
		return &InvalidOperationError{ID: op.ID, Reason: fmt.Sprintf("unknown kind %q", op.Kind)}
	}
	return nil
}

// InvalidOperationError is returned for malformed operations
type InvalidOperationError struct {
	ID     OpID
	Reason string
}

func (e *InvalidOperationError) Error() string {
	return "invalid operation " + e.ID.String() + ": " + e.Reason
}
