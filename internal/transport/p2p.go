package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	p2pproto "github.com/libp2p/go-libp2p/core/protocol"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"

	"github.com/amaydixit11/cowrite/internal/core"
	"github.com/amaydixit11/cowrite/internal/protocol"
)

// Config contains configuration for the P2PTransport
type Config struct {
	// ListenAddrs are the multiaddrs to listen on
	// Default: /ip4/0.0.0.0/tcp/0 (random port)
	ListenAddrs []string

	// PrivateKey is the identity key for the host
	// Optional (generated if nil)
	PrivateKey crypto.PrivKey

	// EnableMDNS enables libp2p mDNS for LAN peer discovery
	// Default: true
	EnableMDNS bool

	// EnableZeroconf announces the room over the system DNS-SD responder
	EnableZeroconf bool

	// EnableDHT enables Kademlia DHT for global peer discovery
	EnableDHT bool

	// BootstrapPeers for the DHT; empty selects the IPFS bootstrap nodes
	BootstrapPeers []string

	// RelayURL is a websocket signaling relay (ws://host:port/relay)
	RelayURL string

	// RedisAddr is a Redis server used as a rendezvous registry
	RedisAddr string

	// StaticPeers are full peer multiaddrs dialed directly (e.g. from an invite)
	StaticPeers []string

	// AllowlistPath is the path to the trusted peers file
	AllowlistPath string

	// StrictAllowlist rejects peers not in the allowlist
	StrictAllowlist bool

	// QueueSize bounds the outbound queue of each peer. A peer whose queue
	// overflows is reset and resynchronized on reconnect.
	// Default: 256
	QueueSize int

	// DiscoveryInterval is how often each rendezvous is queried
	// Default: 10 seconds
	DiscoveryInterval time.Duration

	// WriteTimeout bounds a single message write
	// Default: 10 seconds
	WriteTimeout time.Duration

	// Logger for transport events (optional)
	Logger Logger
}

// DefaultConfig returns the default transport configuration
func DefaultConfig() Config {
	return Config{
		ListenAddrs:       []string{"/ip4/0.0.0.0/tcp/0"},
		EnableMDNS:        true,
		QueueSize:         256,
		DiscoveryInterval: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// ProtocolID is the libp2p protocol of a room. Peers of other rooms do not
// speak it, so stream negotiation filters them out.
func ProtocolID(room core.RoomID) p2pproto.ID {
	return p2pproto.ID("/cowrite/" + string(room) + "/1.0.0")
}

// P2PTransport implements Transport using libp2p
type P2PTransport struct {
	host       host.Host
	cfg        Config
	logger     Logger
	allowlist  *Allowlist
	rendezvous []Rendezvous
	tracker    *tracker
	mailbox    *mailbox
	notifiee   *network.NotifyBundle

	mu      sync.Mutex
	room    core.RoomID
	proto   p2pproto.ID
	peers   map[peer.ID]*peerConn
	dialing map[peer.ID]chan struct{}
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// peerConn is the link to one peer: our outbound stream with its writer
// queue, and the inbound streams the peer opened to us.
type peerConn struct {
	id    peer.ID
	out   network.Stream
	in    []network.Stream
	queue chan []byte
	done  chan struct{}
}

var _ Transport = (*P2PTransport)(nil)

// NewP2PTransport creates a libp2p host and the configured rendezvous.
func NewP2PTransport(cfg Config) (*P2PTransport, error) {
	def := DefaultConfig()
	if len(cfg.ListenAddrs) == 0 {
		cfg.ListenAddrs = def.ListenAddrs
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.DiscoveryInterval <= 0 {
		cfg.DiscoveryInterval = def.DiscoveryInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = NopLogger()
	}

	allowlist, err := NewAllowlist(cfg.AllowlistPath, cfg.StrictAllowlist)
	if err != nil {
		return nil, err
	}

	opts := []libp2p.Option{libp2p.ListenAddrStrings(cfg.ListenAddrs...)}
	if cfg.PrivateKey != nil {
		opts = append(opts, libp2p.Identity(cfg.PrivateKey))
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create libp2p host: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &P2PTransport{
		host:      h,
		cfg:       cfg,
		logger:    cfg.Logger,
		allowlist: allowlist,
		tracker:   newTracker(),
		mailbox:   newMailbox(),
		peers:     make(map[peer.ID]*peerConn),
		dialing:   make(map[peer.ID]chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
	if err := t.buildRendezvous(); err != nil {
		cancel()
		return nil, multierr.Append(err, h.Close())
	}
	return t, nil
}

func (t *P2PTransport) buildRendezvous() error {
	cfg := t.cfg
	if len(cfg.StaticPeers) > 0 {
		s, err := NewStaticRendezvous(cfg.StaticPeers)
		if err != nil {
			return err
		}
		t.rendezvous = append(t.rendezvous, s)
	}
	if cfg.EnableMDNS {
		t.rendezvous = append(t.rendezvous, NewMDNSRendezvous(t.host))
	}
	if cfg.EnableZeroconf {
		t.rendezvous = append(t.rendezvous, NewZeroconfRendezvous(0, t.logger))
	}
	if cfg.EnableDHT {
		bootstrap, err := ParseBootstrapPeers(cfg.BootstrapPeers)
		if err != nil {
			return err
		}
		d, err := NewDHTRendezvous(t.host, bootstrap, t.logger)
		if err != nil {
			// other rendezvous may still find peers
			t.logger.Warnf("DHT disabled: %v", err)
		} else {
			t.rendezvous = append(t.rendezvous, d)
		}
	}
	if cfg.RelayURL != "" {
		t.rendezvous = append(t.rendezvous, NewRelayRendezvous(cfg.RelayURL, t.logger))
	}
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		t.rendezvous = append(t.rendezvous, NewRedisRendezvous(client, DefaultRedisTTL))
	}
	return nil
}

// Host returns the underlying libp2p host
func (t *P2PTransport) Host() host.Host {
	return t.host
}

// ID returns the local peer id.
func (t *P2PTransport) ID() PeerID {
	return PeerID(t.host.ID().String())
}

// Addrs returns the full multiaddrs other peers can dial.
func (t *P2PTransport) Addrs() []string {
	out := make([]string, 0, len(t.host.Addrs()))
	for _, a := range t.host.Addrs() {
		out = append(out, a.String()+"/p2p/"+t.host.ID().String())
	}
	return out
}

// Invite creates a signed invite to the joined room.
func (t *P2PTransport) Invite(expiry time.Duration) (*RoomInvite, error) {
	t.mu.Lock()
	room := t.room
	t.mu.Unlock()
	if room == "" {
		return nil, fmt.Errorf("not in a room")
	}
	return CreateInvite(t.host, room, expiry)
}

// Join registers the room protocol and starts one discovery loop per
// rendezvous. The transport keeps running until Close, whatever happens
// to ctx after Join returns.
func (t *P2PTransport) Join(ctx context.Context, room core.RoomID) error {
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
	t.proto = ProtocolID(room)
	rendezvous := append([]Rendezvous(nil), t.rendezvous...)
	t.mu.Unlock()

	t.host.SetStreamHandler(t.proto, t.handleStream)
	t.notifiee = &network.NotifyBundle{DisconnectedF: t.disconnected}
	t.host.Network().Notify(t.notifiee)
	t.tracker.join()

	ns := Namespace(room)
	for _, r := range rendezvous {
		t.wg.Add(1)
		go t.discoverLoop(r, ns)
	}
	t.logger.Infof("joined room %s as %s (%d rendezvous)", room, t.ID().Short(), len(rendezvous))
	return nil
}

// discoverLoop advertises and looks up peers on r every DiscoveryInterval,
// retrying failures with exponential backoff.
func (t *P2PTransport) discoverLoop(r Rendezvous, ns string) {
	defer t.wg.Done()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = t.cfg.DiscoveryInterval
	b.MaxElapsedTime = 0 // retry until closed

	for {
		backoff.RetryNotify(func() error {
			return t.discoverOnce(r, ns)
		}, backoff.WithContext(b, t.ctx), func(err error, next time.Duration) {
			rendezvousErrors.WithLabelValues(r.Name()).Inc()
			t.logger.Warnf("%s rendezvous: %v (retry in %s)", r.Name(), err, next.Round(time.Millisecond))
		})

		select {
		case <-t.ctx.Done():
			return
		case <-time.After(t.cfg.DiscoveryInterval):
		}
	}
}

func (t *P2PTransport) discoverOnce(r Rendezvous, ns string) error {
	ctx, cancel := context.WithTimeout(t.ctx, t.cfg.DiscoveryInterval)
	defer cancel()

	self := peer.AddrInfo{ID: t.host.ID(), Addrs: t.host.Addrs()}
	if err := r.Advertise(ctx, ns, self); err != nil {
		return fmt.Errorf("advertise: %w", err)
	}
	found, err := r.FindPeers(ctx, ns)
	if err != nil {
		return fmt.Errorf("find peers: %w", err)
	}
	for pi := range found {
		if pi.ID == t.host.ID() {
			continue
		}
		rendezvousPeers.WithLabelValues(r.Name()).Inc()
		t.connectAsync(pi)
	}
	return nil
}

func (t *P2PTransport) connectAsync(pi peer.AddrInfo) {
	t.mu.Lock()
	_, connected := t.peers[pi.ID]
	_, dialing := t.dialing[pi.ID]
	t.mu.Unlock()
	if connected || dialing {
		return
	}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		if err := t.ensurePeer(t.ctx, pi); err != nil {
			t.logger.Debugf("peer %s: %v", pi.ID, err)
		}
	}()
}

// ensurePeer opens our outbound stream to pi unless one exists. Concurrent
// calls for the same peer wait for the first.
func (t *P2PTransport) ensurePeer(ctx context.Context, pi peer.AddrInfo) error {
	if !t.allowlist.IsAllowed(pi.ID) {
		return fmt.Errorf("peer %s is not in the allowlist", pi.ID)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	if _, ok := t.peers[pi.ID]; ok {
		t.mu.Unlock()
		return nil
	}
	if wait, ok := t.dialing[pi.ID]; ok {
		t.mu.Unlock()
		select {
		case <-wait:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	wait := make(chan struct{})
	t.dialing[pi.ID] = wait
	proto := t.proto
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.dialing, pi.ID)
		t.mu.Unlock()
		close(wait)
	}()

	t.tracker.dialStart()
	defer t.tracker.dialDone()

	if len(pi.Addrs) > 0 {
		if err := t.host.Connect(ctx, pi); err != nil {
			return fmt.Errorf("connect: %w", err)
		}
	}
	s, err := t.host.NewStream(ctx, pi.ID, proto)
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}

	pc := &peerConn{
		id:    pi.ID,
		out:   s,
		queue: make(chan []byte, t.cfg.QueueSize),
		done:  make(chan struct{}),
	}
	pid := PeerID(pi.ID.String())

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		s.Reset()
		return ErrClosed
	}
	t.peers[pi.ID] = pc
	t.tracker.add(pid)
	t.mailbox.push(Event{Kind: PeerJoined, Peer: pid})
	t.wg.Add(1)
	t.mu.Unlock()

	peerEvents.WithLabelValues("p2p", "joined").Inc()
	t.logger.Infof("peer %s joined", pid.Short())
	go t.writeLoop(pc)
	return nil
}

func (t *P2PTransport) writeLoop(pc *peerConn) {
	defer t.wg.Done()
	for {
		select {
		case frame := <-pc.queue:
			pc.out.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
			if _, err := pc.out.Write(frame); err != nil {
				t.dropPeer(pc, fmt.Sprintf("write failed: %v", err))
				return
			}
		case <-pc.done:
			return
		case <-t.ctx.Done():
			return
		}
	}
}

// handleStream serves a stream opened by a peer of the room.
func (t *P2PTransport) handleStream(s network.Stream) {
	remote := s.Conn().RemotePeer()
	if !t.allowlist.IsAllowed(remote) {
		t.logger.Warnf("rejecting stream from %s: not in allowlist", remote)
		s.Reset()
		return
	}

	// A peer that dials us is in the room. Open our side first so replies
	// to its first message have somewhere to go.
	if err := t.ensurePeer(t.ctx, peer.AddrInfo{ID: remote}); err != nil {
		t.logger.Debugf("peer %s: %v", remote, err)
		s.Reset()
		return
	}

	t.mu.Lock()
	pc, ok := t.peers[remote]
	if ok {
		pc.in = append(pc.in, s)
	}
	room := t.room
	t.mu.Unlock()
	if !ok {
		s.Reset()
		return
	}

	pid := PeerID(remote.String())
	for {
		msg, err := protocol.ReadMessage(s)
		if err != nil {
			var decodeErr *protocol.DecodeError
			if errors.As(err, &decodeErr) {
				// the frame was consumed, the stream is still aligned
				messagesDropped.WithLabelValues("p2p").Inc()
				t.logger.Warnf("dropping message from %s: %v", pid.Short(), err)
				continue
			}
			t.dropPeer(pc, fmt.Sprintf("read: %v", err))
			return
		}
		if msg.Room != room {
			messagesDropped.WithLabelValues("p2p").Inc()
			continue
		}
		messagesReceived.WithLabelValues("p2p", string(msg.Kind)).Inc()
		t.mailbox.push(Event{Kind: MessageReceived, Peer: pid, Message: msg})
	}
}

// disconnected is libp2p's liveness verdict: once no connection to a peer
// remains, the peer is gone.
func (t *P2PTransport) disconnected(n network.Network, c network.Conn) {
	id := c.RemotePeer()
	if n.Connectedness(id) == network.Connected {
		return
	}
	t.mu.Lock()
	pc := t.peers[id]
	t.mu.Unlock()
	if pc != nil {
		go t.dropPeer(pc, "disconnected")
	}
}

// dropPeer tears down pc and reports the peer gone. Rediscovery will find
// it again if it is still around, and the session resyncs on rejoin.
func (t *P2PTransport) dropPeer(pc *peerConn, reason string) {
	t.mu.Lock()
	if cur, ok := t.peers[pc.id]; !ok || cur != pc {
		t.mu.Unlock()
		return
	}
	delete(t.peers, pc.id)
	close(pc.done)
	in := pc.in
	pc.in = nil
	pid := PeerID(pc.id.String())
	left := t.tracker.remove(pid)
	if left {
		t.mailbox.push(Event{Kind: PeerLeft, Peer: pid})
	}
	t.mu.Unlock()

	pc.out.Reset()
	for _, s := range in {
		s.Reset()
	}
	if left {
		peerEvents.WithLabelValues("p2p", "left").Inc()
		t.logger.Infof("peer %s left: %s", pid.Short(), reason)
	}
}

func encodeFrame(msg *protocol.Message) ([]byte, error) {
	var buf bytes.Buffer
	if err := protocol.WriteMessage(&buf, msg); err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.Kind, err)
	}
	return buf.Bytes(), nil
}

// enqueue hands a frame to the peer's writer without blocking.
func (t *P2PTransport) enqueue(pc *peerConn, frame []byte, kind protocol.Kind) error {
	select {
	case <-pc.done:
		return ErrUnknownPeer
	default:
	}
	select {
	case pc.queue <- frame:
		messagesSent.WithLabelValues("p2p", string(kind)).Inc()
		return nil
	default:
		peerResets.WithLabelValues("p2p").Inc()
		t.dropPeer(pc, "outbound queue overflow")
		return fmt.Errorf("peer %s: outbound queue full", pc.id)
	}
}

// Broadcast sends msg to every connected peer.
func (t *P2PTransport) Broadcast(msg *protocol.Message) error {
	frame, err := encodeFrame(msg)
	if err != nil {
		return err
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	peers := make([]*peerConn, 0, len(t.peers))
	for _, pc := range t.peers {
		peers = append(peers, pc)
	}
	t.mu.Unlock()

	for _, pc := range peers {
		if err := t.enqueue(pc, frame, msg.Kind); err != nil {
			t.logger.Debugf("broadcast: %v", err)
		}
	}
	return nil
}

// Send sends msg to one peer.
func (t *P2PTransport) Send(p PeerID, msg *protocol.Message) error {
	id, err := peer.Decode(string(p))
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, p)
	}
	frame, err := encodeFrame(msg)
	if err != nil {
		return err
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	pc, ok := t.peers[id]
	t.mu.Unlock()
	if !ok {
		return ErrUnknownPeer
	}
	return t.enqueue(pc, frame, msg.Kind)
}

// Events returns the event queue.
func (t *P2PTransport) Events() <-chan Event {
	return t.mailbox.events()
}

// Status returns the connection status.
func (t *P2PTransport) Status() Status {
	return t.tracker.status()
}

// MarkSynced records a completed history exchange with p.
func (t *P2PTransport) MarkSynced(p PeerID) {
	t.tracker.markSynced(p)
}

// Close gracefully shuts down the transport
func (t *P2PTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	peers := t.peers
	t.peers = make(map[peer.ID]*peerConn)
	proto := t.proto
	rendezvous := t.rendezvous
	t.mu.Unlock()

	t.cancel()
	if proto != "" {
		t.host.RemoveStreamHandler(proto)
	}
	if t.notifiee != nil {
		t.host.Network().StopNotify(t.notifiee)
	}
	for _, pc := range peers {
		close(pc.done)
		pc.out.Reset()
		for _, s := range pc.in {
			s.Reset()
		}
	}
	t.wg.Wait()

	var errs error
	for _, r := range rendezvous {
		errs = multierr.Append(errs, r.Close())
	}
	t.tracker.close()
	t.mailbox.close()
	return multierr.Append(errs, t.host.Close())
}
