package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
)

// relayMessage is the signaling frame exchanged with a relay.
type relayMessage struct {
	Type  string   `json:"type"` // announce, peer, leave
	NS    string   `json:"ns,omitempty"`
	Peer  string   `json:"peer"`
	Addrs []string `json:"addrs,omitempty"`
}

func announcement(ns string, self peer.AddrInfo) relayMessage {
	addrs := make([]string, 0, len(self.Addrs))
	for _, a := range self.Addrs {
		addrs = append(addrs, a.String())
	}
	return relayMessage{Type: "announce", NS: ns, Peer: self.ID.String(), Addrs: addrs}
}

func (m relayMessage) addrInfo() (peer.AddrInfo, error) {
	id, err := peer.Decode(m.Peer)
	if err != nil {
		return peer.AddrInfo{}, fmt.Errorf("invalid peer id %q: %w", m.Peer, err)
	}
	pi := peer.AddrInfo{ID: id}
	for _, s := range m.Addrs {
		a, err := multiaddr.NewMultiaddr(s)
		if err != nil {
			continue
		}
		pi.Addrs = append(pi.Addrs, a)
	}
	return pi, nil
}

// RelayRendezvous finds peers through a websocket signaling relay
// (see RelayServer). The relay only forwards announcements; peers then
// connect to each other directly.
type RelayRendezvous struct {
	url    string
	dialer *websocket.Dialer
	found  *peerBuffer
	logger Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewRelayRendezvous creates a client for the relay at url (ws:// or wss://).
func NewRelayRendezvous(url string, logger Logger) *RelayRendezvous {
	if logger == nil {
		logger = NopLogger()
	}
	return &RelayRendezvous{
		url:    url,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		found:  newPeerBuffer(0),
		logger: logger,
	}
}

func (r *RelayRendezvous) Name() string { return "relay" }

// Advertise (re)connects to the relay if needed and announces self.
func (r *RelayRendezvous) Advertise(ctx context.Context, ns string, self peer.AddrInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil {
		conn, _, err := r.dialer.DialContext(ctx, r.url, nil)
		if err != nil {
			return fmt.Errorf("relay %s: %w", r.url, err)
		}
		r.conn = conn
		go r.readLoop(conn, ns)
	}

	if deadline, ok := ctx.Deadline(); ok {
		r.conn.SetWriteDeadline(deadline)
	} else {
		r.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	}
	if err := r.conn.WriteJSON(announcement(ns, self)); err != nil {
		r.conn.Close()
		r.conn = nil
		return fmt.Errorf("relay announce: %w", err)
	}
	return nil
}

// FindPeers returns the peers announced and not yet gone.
func (r *RelayRendezvous) FindPeers(context.Context, string) (<-chan peer.AddrInfo, error) {
	return r.found.snapshot(), nil
}

func (r *RelayRendezvous) readLoop(conn *websocket.Conn, ns string) {
	for {
		var msg relayMessage
		if err := conn.ReadJSON(&msg); err != nil {
			r.logger.Debugf("relay: connection closed: %v", err)
			r.mu.Lock()
			if r.conn == conn {
				r.conn = nil
			}
			r.mu.Unlock()
			conn.Close()
			return
		}
		if msg.NS != "" && msg.NS != ns {
			continue
		}
		pi, err := msg.addrInfo()
		if err != nil {
			r.logger.Warnf("relay: %v", err)
			continue
		}
		switch msg.Type {
		case "peer":
			r.found.add(pi)
		case "leave":
			r.found.remove(pi.ID)
		}
	}
}

// Close disconnects from the relay.
func (r *RelayRendezvous) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil
	}
	r.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	err := r.conn.Close()
	r.conn = nil
	return err
}

// RelayServer is a minimal signaling relay: it remembers the latest
// announcement of every connected client and forwards announcements to the
// other clients of the same namespace. It never sees document content.
type RelayServer struct {
	upgrader websocket.Upgrader
	logger   Logger

	mu    sync.Mutex
	rooms map[string]map[*relayClient]relayMessage
}

type relayClient struct {
	conn *websocket.Conn
	send chan relayMessage
	ns   string
}

// NewRelayServer creates a relay handler.
func NewRelayServer(logger Logger) *RelayServer {
	if logger == nil {
		logger = NopLogger()
	}
	return &RelayServer{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger,
		rooms:  make(map[string]map[*relayClient]relayMessage),
	}
}

// ServeHTTP upgrades the request and serves one relay client.
func (s *RelayServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnf("relay: upgrade failed: %v", err)
		return
	}
	c := &relayClient{conn: conn, send: make(chan relayMessage, 256)}
	go c.writePump()
	s.readPump(c)
}

func (s *RelayServer) readPump(c *relayClient) {
	defer func() {
		s.unregister(c)
		close(c.send)
		c.conn.Close()
	}()
	for {
		var msg relayMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}
		if msg.Type != "announce" || msg.NS == "" || msg.Peer == "" {
			continue
		}
		if c.ns != "" && c.ns != msg.NS {
			continue
		}
		s.announce(c, msg)
	}
}

func (c *relayClient) writePump() {
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

func (s *RelayServer) announce(c *relayClient, msg relayMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	members, ok := s.rooms[msg.NS]
	if !ok {
		members = make(map[*relayClient]relayMessage)
		s.rooms[msg.NS] = members
	}
	if c.ns == "" {
		c.ns = msg.NS
		s.logger.Debugf("relay: %s joined %s", msg.Peer, msg.NS)
	}
	members[c] = msg

	fwd := msg
	fwd.Type = "peer"
	for other, known := range members {
		if other == c {
			continue
		}
		s.trySend(other, fwd)
		known.Type = "peer"
		s.trySend(c, known)
	}
}

func (s *RelayServer) unregister(c *relayClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	members := s.rooms[c.ns]
	last, ok := members[c]
	if !ok {
		return
	}
	delete(members, c)
	if len(members) == 0 {
		delete(s.rooms, c.ns)
	}
	leave := relayMessage{Type: "leave", NS: c.ns, Peer: last.Peer}
	for other := range members {
		s.trySend(other, leave)
	}
}

// trySend never blocks the relay; a client that cannot keep up misses
// announcements and catches up on its next one.
func (s *RelayServer) trySend(c *relayClient, msg relayMessage) {
	select {
	case c.send <- msg:
	default:
	}
}
