package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/amaydixit11/cowrite/internal/awareness"
	"github.com/amaydixit11/cowrite/internal/core"
	"github.com/amaydixit11/cowrite/internal/protocol"
	"github.com/amaydixit11/cowrite/internal/replica"
	"github.com/amaydixit11/cowrite/internal/transport"
)

// ErrSessionClosed is the panic value for any use of a Session after Leave.
var ErrSessionClosed = errors.New("session: use after leave")

// MaxNameLength bounds display names, in characters.
const MaxNameLength = awareness.MaxNameLength

// maxOpsPerMessage keeps large documents well below the frame size limit.
const maxOpsPerMessage = 4096

// Session is one participant's view of a room: the replicated document,
// the presence table and the connections to the other participants.
//
// Remote traffic is handled by a single event-loop goroutine in the order
// the transport delivered it. Local edits apply immediately on the calling
// goroutine and are broadcast before the call returns.
type Session struct {
	room      core.RoomID
	doc       *replica.Document
	presence  *awareness.Awareness
	transport transport.Transport
	bus       *EventBus
	logger    transport.Logger
	heartbeat time.Duration

	closed atomic.Bool
	cancel context.CancelFunc
	done   chan struct{}
}

func newSession(ctx context.Context, room core.RoomID, tr transport.Transport, cfg Config, initialText string) (*Session, error) {
	loopCtx, cancel := context.WithCancel(context.Background())
	s := &Session{
		room:      room,
		transport: tr,
		bus:       NewEventBus(),
		logger:    cfg.Logger,
		heartbeat: cfg.PresenceTimeout / 3,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	if s.heartbeat <= 0 {
		s.heartbeat = awareness.DefaultTimeout / 3
	}
	s.doc = replica.New(core.ReplicaID(uuid.NewString()), replica.WithLocalOps(s.broadcastOps))
	s.presence = awareness.New(string(tr.ID()), awareness.WithTimeout(cfg.PresenceTimeout))

	local := awareness.Fields{}
	if cfg.DisplayName != "" {
		local.Name = &cfg.DisplayName
	}
	if cfg.Color != "" {
		local.Color = &cfg.Color
	}
	if err := local.Validate(); err != nil {
		cancel()
		return nil, err
	}
	s.presence.SetLocal(local)

	if initialText != "" {
		if _, err := s.doc.SetText(initialText); err != nil {
			cancel()
			return nil, fmt.Errorf("seed document: %w", err)
		}
	}

	s.doc.OnChange(func(text string) {
		s.bus.Publish(Event{Type: EventContent, Room: s.room, Text: text})
	})
	s.presence.OnPeerChange(func(ch awareness.PeerChange) {
		s.bus.Publish(Event{Type: EventPresence, Room: s.room, Presence: &ch})
	})

	if err := tr.Join(ctx, room); err != nil {
		cancel()
		return nil, fmt.Errorf("join room %s: %w", room, err)
	}
	s.logger.Infof("session %s: replica %s on connection %s", room, s.doc.ReplicaID(), tr.ID().Short())

	go s.run(loopCtx)
	return s, nil
}

// ensureOpen panics once the session has been left.
func (s *Session) ensureOpen() {
	if s.closed.Load() {
		panic(ErrSessionClosed)
	}
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	events := s.transport.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.handle(ev)
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Session) handle(ev transport.Event) {
	switch ev.Kind {
	case transport.PeerJoined:
		s.logger.Debugf("session %s: peer %s joined, requesting sync", s.room, ev.Peer.Short())
		s.send(ev.Peer, protocol.NewSyncRequest(s.room))
		s.send(ev.Peer, protocol.NewAwareness(s.room, s.presence.LocalUpdate()))
		s.publishStatus()

	case transport.PeerLeft:
		s.presence.Remove(string(ev.Peer))
		s.publishStatus()

	case transport.MessageReceived:
		s.presence.Touch(string(ev.Peer))
		s.handleMessage(ev.Peer, ev.Message)
	}
}

func (s *Session) handleMessage(from transport.PeerID, msg *protocol.Message) {
	if msg == nil || msg.Room != s.room {
		return
	}
	switch msg.Kind {
	case protocol.KindOps:
		s.apply(from, msg.Ops)

	case protocol.KindSyncRequest:
		ops := s.doc.Operations()
		for _, batch := range batches(ops) {
			s.send(from, protocol.NewSyncResponse(s.room, batch))
		}

	case protocol.KindSyncResponse:
		s.apply(from, msg.Ops)
		s.transport.MarkSynced(from)
		s.publishStatus()

	case protocol.KindAwareness:
		s.presence.Apply(string(from), *msg.Awareness)
	}
}

func (s *Session) apply(from transport.PeerID, ops []core.Operation) {
	if len(ops) == 0 {
		return
	}
	if err := s.doc.Apply(ops); err != nil {
		s.logger.Warnf("session %s: operations from %s: %v", s.room, from.Short(), err)
	}
}

// tick expires silent peers and re-announces local presence.
func (s *Session) tick() {
	for _, id := range s.presence.Expire() {
		s.logger.Debugf("session %s: presence of %s expired", s.room, transport.PeerID(id).Short())
	}
	s.broadcast(protocol.NewAwareness(s.room, s.presence.LocalUpdate()))
}

// broadcastOps runs under the document lock for every local edit.
func (s *Session) broadcastOps(ops []core.Operation) {
	for _, batch := range batches(ops) {
		s.broadcast(protocol.NewOperations(s.room, batch))
	}
}

func (s *Session) broadcast(msg *protocol.Message) {
	if err := s.transport.Broadcast(msg); err != nil && !errors.Is(err, transport.ErrClosed) {
		s.logger.Warnf("session %s: broadcast %s: %v", s.room, msg.Kind, err)
	}
}

func (s *Session) send(to transport.PeerID, msg *protocol.Message) {
	if err := s.transport.Send(to, msg); err != nil {
		s.logger.Debugf("session %s: send %s to %s: %v", s.room, msg.Kind, to.Short(), err)
	}
}

func (s *Session) publishStatus() {
	st := s.transport.Status()
	s.bus.Publish(Event{Type: EventStatus, Room: s.room, Status: &st})
}

func batches(ops []core.Operation) [][]core.Operation {
	if len(ops) == 0 {
		return [][]core.Operation{nil}
	}
	var out [][]core.Operation
	for len(ops) > maxOpsPerMessage {
		out = append(out, ops[:maxOpsPerMessage])
		ops = ops[maxOpsPerMessage:]
	}
	return append(out, ops)
}

// RoomID returns the room identifier.
func (s *Session) RoomID() core.RoomID {
	s.ensureOpen()
	return s.room
}

// ReplicaID returns the identifier stamped on local operations.
func (s *Session) ReplicaID() core.ReplicaID {
	s.ensureOpen()
	return s.doc.ReplicaID()
}

// ConnectionID returns the local connection identifier, which is also the
// local participant's presence id.
func (s *Session) ConnectionID() string {
	s.ensureOpen()
	return string(s.transport.ID())
}

// ClientID returns the local participant's client identifier.
func (s *Session) ClientID() string {
	s.ensureOpen()
	return s.presence.ClientID()
}

// Text returns the current document text.
func (s *Session) Text() string {
	s.ensureOpen()
	return s.doc.Text()
}

// Len returns the document length in characters.
func (s *Session) Len() int {
	s.ensureOpen()
	return s.doc.Len()
}

// Insert inserts text at the character index.
func (s *Session) Insert(index int, text string) error {
	s.ensureOpen()
	_, err := s.doc.Insert(index, text)
	return err
}

// Delete removes count characters starting at index.
func (s *Session) Delete(index, count int) error {
	s.ensureOpen()
	_, err := s.doc.Delete(index, count)
	return err
}

// SetText replaces the whole document. It deletes and reinserts every
// character, so it is meant for seeding, not for editing.
func (s *Session) SetText(text string) error {
	s.ensureOpen()
	_, err := s.doc.SetText(text)
	return err
}

// OnContentChange registers fn to receive the text after every change.
func (s *Session) OnContentChange(fn func(text string)) (cancel func()) {
	s.ensureOpen()
	return s.doc.OnChange(replica.Listener(fn))
}

// SetPresence updates the local participant and broadcasts the result.
// Fields peers would reject are refused with an *awareness.InvalidFieldError
// and nothing changes.
func (s *Session) SetPresence(f awareness.Fields) error {
	s.ensureOpen()
	if err := f.Validate(); err != nil {
		return err
	}
	u := s.presence.SetLocal(f)
	s.broadcast(protocol.NewAwareness(s.room, u))
	return nil
}

// Participants returns the local participant followed by every known peer.
func (s *Session) Participants() []awareness.Participant {
	s.ensureOpen()
	return s.presence.GetAll()
}

// OnPeerChange registers fn for presence churn.
func (s *Session) OnPeerChange(fn func(awareness.PeerChange)) (cancel func()) {
	s.ensureOpen()
	return s.presence.OnPeerChange(awareness.Listener(fn))
}

// Status returns the connection status.
func (s *Session) Status() transport.Status {
	s.ensureOpen()
	return s.transport.Status()
}

// Subscribe returns a channel of session events. It is closed on Leave.
func (s *Session) Subscribe(opts SubscriptionOptions) Subscription {
	s.ensureOpen()
	return s.bus.Subscribe(opts)
}

// Closed reports whether Leave has been called. It is the only method that
// may be called after Leave.
func (s *Session) Closed() bool {
	return s.closed.Load()
}

// Leave disconnects from every peer and discards the session state. Any
// later use of the session, including a second Leave, panics with
// ErrSessionClosed.
func (s *Session) Leave() error {
	if !s.closed.CompareAndSwap(false, true) {
		panic(ErrSessionClosed)
	}
	s.cancel()
	err := s.transport.Close()
	<-s.done
	s.bus.Close()
	s.logger.Infof("session %s: left", s.room)
	return err
}
