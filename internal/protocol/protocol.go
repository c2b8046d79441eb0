// Package protocol defines the messages peers exchange in a room.
//
// Messages are a versioned tagged union encoded as JSON. Every decoded
// message is validated against an embedded JSON Schema and then checked
// semantically, so a malformed peer cannot smuggle a partial or mistyped
// payload into the document.
package protocol

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/amaydixit11/cowrite/internal/awareness"
	"github.com/amaydixit11/cowrite/internal/core"
)

// Version is the wire format version this package speaks.
const Version = 1

// Kind identifies the payload of a message.
type Kind string

const (
	// KindOps carries newly made operations.
	KindOps Kind = "ops"
	// KindAwareness carries the sender's full presence state.
	KindAwareness Kind = "awareness"
	// KindSyncRequest asks the receiver for its full operation set.
	KindSyncRequest Kind = "sync_request"
	// KindSyncResponse answers a sync request with every applied operation.
	KindSyncResponse Kind = "sync_response"
)

// Message is a protocol message
type Message struct {
	V         int               `json:"v"`
	Kind      Kind              `json:"kind"`
	Room      core.RoomID       `json:"room"`
	Ops       []core.Operation  `json:"ops,omitempty"`
	Awareness *awareness.Update `json:"awareness,omitempty"`
}

// NewOperations builds a message broadcasting local operations.
func NewOperations(room core.RoomID, ops []core.Operation) *Message {
	return &Message{V: Version, Kind: KindOps, Room: room, Ops: ops}
}

// NewAwareness builds a presence message.
func NewAwareness(room core.RoomID, u awareness.Update) *Message {
	return &Message{V: Version, Kind: KindAwareness, Room: room, Awareness: &u}
}

// NewSyncRequest builds a request for the receiver's full operation set.
func NewSyncRequest(room core.RoomID) *Message {
	return &Message{V: Version, Kind: KindSyncRequest, Room: room}
}

// NewSyncResponse builds the answer to a sync request.
func NewSyncResponse(room core.RoomID, ops []core.Operation) *Message {
	return &Message{V: Version, Kind: KindSyncResponse, Room: room, Ops: ops}
}

// Encode serializes the message to bytes
func (m *Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Validate checks the kind-specific shape of the message.
func (m *Message) Validate() error {
	if m.V != Version {
		return &DecodeError{Reason: fmt.Sprintf("unsupported version %d", m.V)}
	}
	if !m.Room.Valid() {
		return &DecodeError{Reason: fmt.Sprintf("invalid room %q", m.Room)}
	}
	switch m.Kind {
	case KindOps:
		if len(m.Ops) == 0 {
			return &DecodeError{Reason: "ops message without operations"}
		}
	case KindSyncResponse:
	case KindAwareness:
		if m.Awareness == nil {
			return &DecodeError{Reason: "awareness message without state"}
		}
	case KindSyncRequest:
		if len(m.Ops) > 0 {
			return &DecodeError{Reason: "sync request carries operations"}
		}
	default:
		return &DecodeError{Reason: fmt.Sprintf("unknown kind %q", m.Kind)}
	}
	if m.Kind != KindAwareness && m.Awareness != nil {
		return &DecodeError{Reason: fmt.Sprintf("%s message carries awareness state", m.Kind)}
	}
	for _, op := range m.Ops {
		if err := op.Validate(); err != nil {
			return &DecodeError{Reason: "bad operation", Err: err}
		}
	}
	return nil
}

//go:embed schema.json
var schemaJSON []byte

var (
	schemaOnce sync.Once
	schema     *gojsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaJSON))
	})
	return schema, schemaErr
}

// Decode parses and validates a message.
func Decode(data []byte) (*Message, error) {
	s, err := compiledSchema()
	if err != nil {
		return nil, fmt.Errorf("compile message schema: %w", err)
	}
	result, err := s.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, &DecodeError{Reason: "malformed json", Err: err}
	}
	if !result.Valid() {
		fields := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			fields = append(fields, e.Field()+": "+e.Description())
		}
		return nil, &DecodeError{Reason: "schema: " + strings.Join(fields, "; ")}
	}

	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &DecodeError{Reason: "malformed json", Err: err}
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// DecodeError is returned for messages that fail to parse or validate.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return "decode message: " + e.Reason + ": " + e.Err.Error()
	}
	return "decode message: " + e.Reason
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
