package transport

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
)

const (
	zeroconfService = "_cowrite._tcp"
	zeroconfDomain  = "local."
)

// ZeroconfRendezvous announces the room over DNS-SD and browses for other
// members. It finds LAN peers on networks where libp2p's own mDNS
// responder is filtered but a system DNS-SD responder is not.
type ZeroconfRendezvous struct {
	browse time.Duration
	logger Logger

	mu     sync.Mutex
	server *zeroconf.Server
	self   peer.ID
}

// NewZeroconfRendezvous creates a DNS-SD rendezvous. Each lookup browses
// for the given duration.
func NewZeroconfRendezvous(browse time.Duration, logger Logger) *ZeroconfRendezvous {
	if browse <= 0 {
		browse = 3 * time.Second
	}
	if logger == nil {
		logger = NopLogger()
	}
	return &ZeroconfRendezvous{browse: browse, logger: logger}
}

func (z *ZeroconfRendezvous) Name() string { return "zeroconf" }

// Advertise registers the DNS-SD service once.
func (z *ZeroconfRendezvous) Advertise(_ context.Context, ns string, self peer.AddrInfo) error {
	z.mu.Lock()
	defer z.mu.Unlock()
	if z.server != nil {
		return nil
	}

	port := 0
	txt := []string{"ns=" + ns, "peer=" + self.ID.String()}
	for _, a := range self.Addrs {
		if port == 0 {
			if v, err := a.ValueForProtocol(multiaddr.P_TCP); err == nil {
				port, _ = strconv.Atoi(v)
			}
		}
		if len(txt) < 6 {
			txt = append(txt, "addr="+a.String())
		}
	}
	if port == 0 {
		return fmt.Errorf("zeroconf: no tcp listen address")
	}

	server, err := zeroconf.Register(self.ID.String(), zeroconfService, zeroconfDomain, port, txt, nil)
	if err != nil {
		return fmt.Errorf("zeroconf register: %w", err)
	}
	z.server = server
	z.self = self.ID
	return nil
}

// FindPeers browses the LAN for members of ns.
func (z *ZeroconfRendezvous) FindPeers(ctx context.Context, ns string) (<-chan peer.AddrInfo, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("zeroconf resolver: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, z.browse)
	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(ctx, zeroconfService, zeroconfDomain, entries); err != nil {
		cancel()
		return nil, fmt.Errorf("zeroconf browse: %w", err)
	}

	out := make(chan peer.AddrInfo)
	go func() {
		defer cancel()
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-entries:
				if !ok {
					return
				}
				pi, ok := z.parseEntry(entry, ns)
				if !ok {
					continue
				}
				select {
				case out <- pi:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (z *ZeroconfRendezvous) parseEntry(entry *zeroconf.ServiceEntry, ns string) (peer.AddrInfo, bool) {
	var pi peer.AddrInfo
	matched := false
	for _, kv := range entry.Text {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		switch key {
		case "ns":
			matched = value == ns
		case "peer":
			id, err := peer.Decode(value)
			if err != nil {
				return pi, false
			}
			pi.ID = id
		case "addr":
			if a, err := multiaddr.NewMultiaddr(value); err == nil {
				pi.Addrs = append(pi.Addrs, a)
			}
		}
	}
	z.mu.Lock()
	self := z.self
	z.mu.Unlock()
	if !matched || pi.ID == "" || pi.ID == self || len(pi.Addrs) == 0 {
		return pi, false
	}
	return pi, true
}

// Close withdraws the DNS-SD registration.
func (z *ZeroconfRendezvous) Close() error {
	z.mu.Lock()
	defer z.mu.Unlock()
	if z.server != nil {
		z.server.Shutdown()
		z.server = nil
	}
	return nil
}
