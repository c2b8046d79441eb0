package transport

import (
	"context"
	"encoding/hex"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
	"golang.org/x/crypto/blake2b"

	"github.com/amaydixit11/cowrite/internal/core"
)

// NamespacePrefix prefixes every room namespace on a rendezvous service.
const NamespacePrefix = "/cowrite/rooms/"

// Namespace returns the rendezvous namespace of a room. The room id itself
// is never published; only a truncated hash of it is.
func Namespace(room core.RoomID) string {
	sum := blake2b.Sum256([]byte(room))
	return NamespacePrefix + hex.EncodeToString(sum[:16])
}

// Rendezvous helps peers of the same room find each other's addresses.
//
// Advertise publishes self under ns; the transport calls it again
// periodically so registrations with a TTL stay fresh. FindPeers returns
// candidates currently known for ns; the channel is closed when the lookup
// is complete.
type Rendezvous interface {
	Name() string
	Advertise(ctx context.Context, ns string, self peer.AddrInfo) error
	FindPeers(ctx context.Context, ns string) (<-chan peer.AddrInfo, error)
	Close() error
}

// peerBuffer collects peers pushed by asynchronous discovery (mDNS, relay).
// Every FindPeers offers all of them again, so a peer that drops is redialed
// on the next round; connected peers are skipped by the transport. Entries
// leave on remove or, when ttl is set, once not seen for ttl.
type peerBuffer struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	found map[peer.ID]*bufferedPeer
}

type bufferedPeer struct {
	info     peer.AddrInfo
	lastSeen time.Time
}

func newPeerBuffer(ttl time.Duration) *peerBuffer {
	return &peerBuffer{ttl: ttl, now: time.Now, found: make(map[peer.ID]*bufferedPeer)}
}

func (b *peerBuffer) add(pi peer.AddrInfo) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.found[pi.ID]
	if !ok {
		e = &bufferedPeer{info: peer.AddrInfo{ID: pi.ID}}
		b.found[pi.ID] = e
	}
	for _, a := range pi.Addrs {
		if !multiaddr.Contains(e.info.Addrs, a) {
			e.info.Addrs = append(e.info.Addrs, a)
		}
	}
	e.lastSeen = b.now()
}

func (b *peerBuffer) remove(id peer.ID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.found, id)
}

// snapshot returns a closed channel holding every live buffered peer and
// drops the expired ones.
func (b *peerBuffer) snapshot() <-chan peer.AddrInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ttl > 0 {
		cutoff := b.now().Add(-b.ttl)
		for id, e := range b.found {
			if e.lastSeen.Before(cutoff) {
				delete(b.found, id)
			}
		}
	}
	ch := make(chan peer.AddrInfo, len(b.found))
	for _, e := range b.found {
		pi := e.info
		pi.Addrs = append([]multiaddr.Multiaddr(nil), e.info.Addrs...)
		ch <- pi
	}
	close(ch)
	return ch
}

// StaticRendezvous returns a fixed set of peers, e.g. from an invite.
type StaticRendezvous struct {
	peers []peer.AddrInfo
}

// NewStaticRendezvous parses full peer multiaddrs (with a /p2p/ component).
func NewStaticRendezvous(addrs []string) (*StaticRendezvous, error) {
	peers := make([]peer.AddrInfo, 0, len(addrs))
	for _, s := range addrs {
		pi, err := peer.AddrInfoFromString(s)
		if err != nil {
			return nil, &AddressError{Addr: s, Err: err}
		}
		peers = append(peers, *pi)
	}
	return &StaticRendezvous{peers: mergeAddrInfos(peers)}, nil
}

func (s *StaticRendezvous) Name() string { return "static" }

func (s *StaticRendezvous) Advertise(context.Context, string, peer.AddrInfo) error { return nil }

func (s *StaticRendezvous) FindPeers(_ context.Context, _ string) (<-chan peer.AddrInfo, error) {
	ch := make(chan peer.AddrInfo, len(s.peers))
	for _, pi := range s.peers {
		ch <- pi
	}
	close(ch)
	return ch, nil
}

func (s *StaticRendezvous) Close() error { return nil }

// mergeAddrInfos folds entries for the same peer together.
func mergeAddrInfos(in []peer.AddrInfo) []peer.AddrInfo {
	index := make(map[peer.ID]int)
	var out []peer.AddrInfo
	for _, pi := range in {
		if i, ok := index[pi.ID]; ok {
			out[i].Addrs = append(out[i].Addrs, pi.Addrs...)
			continue
		}
		index[pi.ID] = len(out)
		out = append(out, pi)
	}
	return out
}

// AddressError reports an unparsable peer address.
type AddressError struct {
	Addr string
	Err  error
}

func (e *AddressError) Error() string {
	return "invalid peer address " + e.Addr + ": " + e.Err.Error()
}

func (e *AddressError) Unwrap() error {
	return e.Err
}
