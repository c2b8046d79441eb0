// Package session ties a replicated document, a presence table and a
// transport together into a collaboration session on one room.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/amaydixit11/cowrite/internal/awareness"
	"github.com/amaydixit11/cowrite/internal/core"
	"github.com/amaydixit11/cowrite/internal/transport"
)

// Config contains configuration for new sessions
type Config struct {
	// DisplayName is the local participant's name (default "Anonymous")
	DisplayName string

	// Color is the local participant's color (default derived from the client id)
	Color string

	// PresenceTimeout is how long a silent peer stays in the presence table.
	// Local presence is re-broadcast every PresenceTimeout/3.
	PresenceTimeout time.Duration

	// Logger for session events (optional)
	Logger transport.Logger
}

// DefaultConfig returns the default session configuration
func DefaultConfig() Config {
	return Config{PresenceTimeout: awareness.DefaultTimeout}
}

// TransportFactory creates the transport of a new session.
type TransportFactory func() (transport.Transport, error)

// Controller starts and stops sessions.
type Controller struct {
	cfg          Config
	newTransport TransportFactory
}

// NewController creates a controller whose sessions use transports made by
// factory.
func NewController(cfg Config, factory TransportFactory) *Controller {
	if cfg.PresenceTimeout <= 0 {
		cfg.PresenceTimeout = awareness.DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = transport.NopLogger()
	}
	return &Controller{cfg: cfg, newTransport: factory}
}

// Host starts a session on a fresh room seeded with initialText.
func (c *Controller) Host(ctx context.Context, initialText string) (*Session, error) {
	return c.HostRoom(ctx, core.NewRoomID(), initialText)
}

// HostRoom starts a session on room seeded with initialText, e.g. to resume
// a room whose text was retained.
func (c *Controller) HostRoom(ctx context.Context, room core.RoomID, initialText string) (*Session, error) {
	if !room.Valid() {
		return nil, &core.InvalidRoomIDError{Input: string(room), Reason: "must be 8 characters A-Z or 0-9"}
	}
	return c.start(ctx, room, initialText)
}

// Join connects to an existing room. The document converges from the peers.
// A malformed room id is rejected before any connection attempt.
func (c *Controller) Join(ctx context.Context, roomID string) (*Session, error) {
	room, err := core.ParseRoomID(roomID)
	if err != nil {
		return nil, err
	}
	return c.start(ctx, room, "")
}

// Leave ends s. See Session.Leave.
func (c *Controller) Leave(s *Session) error {
	return s.Leave()
}

func (c *Controller) start(ctx context.Context, room core.RoomID, initialText string) (*Session, error) {
	tr, err := c.newTransport()
	if err != nil {
		return nil, fmt.Errorf("create transport: %w", err)
	}
	s, err := newSession(ctx, room, tr, c.cfg, initialText)
	if err != nil {
		tr.Close()
		return nil, err
	}
	return s, nil
}
