// Package transport connects the peers of a room and carries protocol
// messages between them.
//
// A Transport discovers peers through one or more rendezvous services,
// keeps a direct ordered channel to every peer in the room and reports
// everything that happens (peer joined, peer left, message received) on a
// single event queue, in the order it happened.
package transport

import (
	"context"
	"errors"

	"github.com/amaydixit11/cowrite/internal/core"
	"github.com/amaydixit11/cowrite/internal/protocol"
)

// ErrClosed is returned by operations on a closed transport.
var ErrClosed = errors.New("transport closed")

// ErrUnknownPeer is returned by Send for peers that are not connected.
var ErrUnknownPeer = errors.New("unknown peer")

// PeerID identifies a connection for as long as it lives.
type PeerID string

func (p PeerID) String() string {
	return string(p)
}

// Short returns an abbreviated id for logs.
func (p PeerID) Short() string {
	if len(p) > 8 {
		return string(p[len(p)-8:])
	}
	return string(p)
}

// EventKind is the kind of a transport event
type EventKind int

const (
	PeerJoined EventKind = iota
	PeerLeft
	MessageReceived
)

func (k EventKind) String() string {
	switch k {
	case PeerJoined:
		return "peer_joined"
	case PeerLeft:
		return "peer_left"
	case MessageReceived:
		return "message"
	}
	return "unknown"
}

// Event is one entry of the transport's event queue.
type Event struct {
	Kind    EventKind
	Peer    PeerID
	Message *protocol.Message // set for MessageReceived
}

// Transport is a room-scoped connection set.
type Transport interface {
	// ID returns the local connection identifier.
	ID() PeerID

	// Join starts discovering and connecting to the peers of room.
	// It returns once discovery is under way; connections follow
	// asynchronously and are reported as events.
	Join(ctx context.Context, room core.RoomID) error

	// Broadcast sends msg to every connected peer.
	Broadcast(msg *protocol.Message) error

	// Send sends msg to a single peer.
	Send(peer PeerID, msg *protocol.Message) error

	// Events returns the event queue. It is closed by Close.
	Events() <-chan Event

	// Status returns the current connection status.
	Status() Status

	// MarkSynced records that a full history exchange with peer completed.
	MarkSynced(peer PeerID)

	// Close disconnects every peer and stops discovery.
	Close() error
}

// Logger interface for transport events.
// *zap.SugaredLogger satisfies it.
type Logger interface {
	Debugf(template string, args ...interface{})
	Infof(template string, args ...interface{})
	Warnf(template string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Debugf(string, ...interface{}) {}
func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}

// NopLogger returns a Logger that discards everything.
func NopLogger() Logger {
	return nopLogger{}
}
