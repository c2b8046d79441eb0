package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
)

// mdnsPeerTTL is how long a peer found on the LAN is offered for redial
// after its last mDNS answer.
const mdnsPeerTTL = 10 * time.Minute

// MDNSRendezvous discovers peers of the room on the local network.
type MDNSRendezvous struct {
	host  host.Host
	found *peerBuffer

	mu      sync.Mutex
	ns      string
	service mdns.Service
}

// NewMDNSRendezvous creates an mDNS rendezvous for h. The service starts on
// the first Advertise.
func NewMDNSRendezvous(h host.Host) *MDNSRendezvous {
	return &MDNSRendezvous{host: h, found: newPeerBuffer(mdnsPeerTTL)}
}

func (m *MDNSRendezvous) Name() string { return "mdns" }

// Advertise starts the mDNS service for ns.
func (m *MDNSRendezvous) Advertise(_ context.Context, ns string, _ peer.AddrInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.service != nil {
		if m.ns != ns {
			return fmt.Errorf("mdns: already advertising %s", m.ns)
		}
		return nil
	}
	svc := mdns.NewMdnsService(m.host, mdnsServiceName(ns), m)
	if err := svc.Start(); err != nil {
		return fmt.Errorf("failed to start mDNS: %w", err)
	}
	m.ns = ns
	m.service = svc
	return nil
}

// FindPeers returns the peers answering on the LAN within mdnsPeerTTL.
func (m *MDNSRendezvous) FindPeers(context.Context, string) (<-chan peer.AddrInfo, error) {
	return m.found.snapshot(), nil
}

// HandlePeerFound is called by mDNS when a peer is discovered
func (m *MDNSRendezvous) HandlePeerFound(pi peer.AddrInfo) {
	if pi.ID == m.host.ID() {
		return
	}
	m.found.add(pi)
}

// Close stops the mDNS service.
func (m *MDNSRendezvous) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.service == nil {
		return nil
	}
	err := m.service.Close()
	m.service = nil
	return err
}

// mdnsServiceName derives a DNS-SD service label from a namespace hash, so
// only peers of the same room answer each other.
func mdnsServiceName(ns string) string {
	id := ns
	if len(id) > 12 {
		id = id[len(id)-12:]
	}
	return "_cowrite-" + id + "._udp"
}
