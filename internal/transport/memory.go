package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/amaydixit11/cowrite/internal/core"
	"github.com/amaydixit11/cowrite/internal/protocol"
)

// MemoryNetwork connects in-process transports. Every message goes through
// the same encode/decode path as the network transport, and links between
// peers can be cut and healed to simulate partitions.
type MemoryNetwork struct {
	mu     sync.Mutex
	next   int
	rooms  map[core.RoomID]map[PeerID]*MemoryTransport
	links  map[link]bool
	cut    map[link]bool
	logger Logger
}

type link struct{ a, b PeerID }

func newLink(a, b PeerID) link {
	if b < a {
		a, b = b, a
	}
	return link{a, b}
}

// NewMemoryNetwork creates an empty network.
func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{
		rooms:  make(map[core.RoomID]map[PeerID]*MemoryTransport),
		links:  make(map[link]bool),
		cut:    make(map[link]bool),
		logger: NopLogger(),
	}
}

// SetLogger sets the logger handed to new transports.
func (n *MemoryNetwork) SetLogger(l Logger) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.logger = l
}

// NewTransport creates a transport attached to the network.
func (n *MemoryNetwork) NewTransport() *MemoryTransport {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.next++
	return &MemoryTransport{
		id:      PeerID(fmt.Sprintf("mem-%d", n.next)),
		net:     n,
		tracker: newTracker(),
		mailbox: newMailbox(),
		logger:  n.logger,
	}
}

// Partition cuts the link between a and b. Both sides see the other leave.
func (n *MemoryNetwork) Partition(a, b PeerID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	l := newLink(a, b)
	n.cut[l] = true
	if n.links[l] {
		n.disconnectLocked(l)
	}
}

// Heal restores the link between a and b. If both are in the same room
// they reconnect and see each other join.
func (n *MemoryNetwork) Heal(a, b PeerID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	l := newLink(a, b)
	delete(n.cut, l)
	for _, members := range n.rooms {
		ta, okA := members[a]
		tb, okB := members[b]
		if okA && okB {
			n.connectLocked(ta, tb)
		}
	}
}

func (n *MemoryNetwork) join(t *MemoryTransport, room core.RoomID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	members, ok := n.rooms[room]
	if !ok {
		members = make(map[PeerID]*MemoryTransport)
		n.rooms[room] = members
	}
	members[t.id] = t
	for _, other := range members {
		if other != t {
			n.connectLocked(t, other)
		}
	}
}

func (n *MemoryNetwork) leave(t *MemoryTransport, room core.RoomID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	members := n.rooms[room]
	delete(members, t.id)
	if len(members) == 0 {
		delete(n.rooms, room)
	}
	for l := range n.links {
		if l.a == t.id || l.b == t.id {
			n.disconnectLocked(l)
		}
	}
}

func (n *MemoryNetwork) connectLocked(a, b *MemoryTransport) {
	l := newLink(a.id, b.id)
	if n.cut[l] || n.links[l] {
		return
	}
	n.links[l] = true
	a.peerUp(b.id)
	b.peerUp(a.id)
}

func (n *MemoryNetwork) disconnectLocked(l link) {
	delete(n.links, l)
	for _, members := range n.rooms {
		if t, ok := members[l.a]; ok {
			t.peerDown(l.b)
		}
		if t, ok := members[l.b]; ok {
			t.peerDown(l.a)
		}
	}
}

// deliver hands data from one peer to another if they are linked.
func (n *MemoryNetwork) deliver(from, to PeerID, room core.RoomID, data []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.links[newLink(from, to)] {
		return ErrUnknownPeer
	}
	dst, ok := n.rooms[room][to]
	if !ok {
		return ErrUnknownPeer
	}
	dst.receive(from, data)
	return nil
}

// MemoryTransport is a Transport on a MemoryNetwork.
type MemoryTransport struct {
	id      PeerID
	net     *MemoryNetwork
	tracker *tracker
	mailbox *mailbox
	logger  Logger

	mu     sync.Mutex
	room   core.RoomID
	closed bool
}

var _ Transport = (*MemoryTransport)(nil)

// ID returns the local connection identifier.
func (t *MemoryTransport) ID() PeerID {
	return t.id
}

// Join connects to every reachable member of room.
func (t *MemoryTransport) Join(ctx context.Context, room core.RoomID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	if t.room != "" {
		t.mu.Unlock()
		return fmt.Errorf("already joined room %s", t.room)
	}
	t.room = room
	t.mu.Unlock()

	t.tracker.join()
	t.net.join(t, room)
	return nil
}

// Broadcast sends msg to every linked peer.
func (t *MemoryTransport) Broadcast(msg *protocol.Message) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return ErrClosed
	}
	for _, p := range t.tracker.list() {
		if err := t.Send(p, msg); err != nil && err != ErrUnknownPeer {
			return err
		}
	}
	return nil
}

// Send sends msg to one peer.
func (t *MemoryTransport) Send(p PeerID, msg *protocol.Message) error {
	t.mu.Lock()
	room, closed := t.room, t.closed
	t.mu.Unlock()
	if closed {
		return ErrClosed
	}

	data, err := msg.Encode()
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Kind, err)
	}
	if err := t.net.deliver(t.id, p, room, data); err != nil {
		return err
	}
	messagesSent.WithLabelValues("memory", string(msg.Kind)).Inc()
	return nil
}

// Events returns the event queue.
func (t *MemoryTransport) Events() <-chan Event {
	return t.mailbox.events()
}

// Status returns the connection status.
func (t *MemoryTransport) Status() Status {
	return t.tracker.status()
}

// MarkSynced records a completed history exchange with p.
func (t *MemoryTransport) MarkSynced(p PeerID) {
	t.tracker.markSynced(p)
}

// Close leaves the room. Peers see this transport leave.
func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	room := t.room
	t.mu.Unlock()

	if room != "" {
		t.net.leave(t, room)
	}
	t.tracker.close()
	t.mailbox.close()
	return nil
}

func (t *MemoryTransport) peerUp(p PeerID) {
	if t.tracker.add(p) {
		peerEvents.WithLabelValues("memory", "joined").Inc()
		t.logger.Debugf("memory %s: peer %s joined", t.id, p)
		t.mailbox.push(Event{Kind: PeerJoined, Peer: p})
	}
}

func (t *MemoryTransport) peerDown(p PeerID) {
	if t.tracker.remove(p) {
		peerEvents.WithLabelValues("memory", "left").Inc()
		t.logger.Debugf("memory %s: peer %s left", t.id, p)
		t.mailbox.push(Event{Kind: PeerLeft, Peer: p})
	}
}

func (t *MemoryTransport) receive(from PeerID, data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		messagesDropped.WithLabelValues("memory").Inc()
		t.logger.Warnf("memory %s: dropping message from %s: %v", t.id, from, err)
		return
	}
	messagesReceived.WithLabelValues("memory", string(msg.Kind)).Inc()
	t.mailbox.push(Event{Kind: MessageReceived, Peer: from, Message: msg})
}
