package transport

import (
	"context"
	"fmt"

	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	drouting "github.com/libp2p/go-libp2p/p2p/discovery/routing"
)

// DHTRendezvous provides global peer discovery via Kademlia DHT
type DHTRendezvous struct {
	host      host.Host
	dht       *dht.IpfsDHT
	discovery *drouting.RoutingDiscovery
	logger    Logger
	cancel    context.CancelFunc
}

// NewDHTRendezvous creates a DHT node and starts bootstrapping it.
// Advertise fails until the routing table has peers; the transport's
// backoff keeps retrying.
func NewDHTRendezvous(h host.Host, bootstrapPeers []peer.AddrInfo, logger Logger) (*DHTRendezvous, error) {
	if logger == nil {
		logger = NopLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())

	kadDHT, err := dht.New(ctx, h,
		dht.Mode(dht.ModeAutoServer),
		dht.BootstrapPeers(bootstrapPeers...),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create DHT: %w", err)
	}

	logger.Infof("DHT: bootstrapping with %d peers", len(bootstrapPeers))
	if err := kadDHT.Bootstrap(ctx); err != nil {
		cancel()
		kadDHT.Close()
		return nil, fmt.Errorf("failed to bootstrap DHT: %w", err)
	}

	return &DHTRendezvous{
		host:      h,
		dht:       kadDHT,
		discovery: drouting.NewRoutingDiscovery(kadDHT),
		logger:    logger,
		cancel:    cancel,
	}, nil
}

func (d *DHTRendezvous) Name() string { return "dht" }

// Advertise announces this host under ns.
func (d *DHTRendezvous) Advertise(ctx context.Context, ns string, _ peer.AddrInfo) error {
	if d.dht.RoutingTable().Size() == 0 {
		return fmt.Errorf("dht: routing table empty")
	}
	_, err := d.discovery.Advertise(ctx, ns)
	return err
}

// FindPeers searches the DHT for peers advertising ns.
func (d *DHTRendezvous) FindPeers(ctx context.Context, ns string) (<-chan peer.AddrInfo, error) {
	found, err := d.discovery.FindPeers(ctx, ns)
	if err != nil {
		return nil, err
	}

	out := make(chan peer.AddrInfo)
	go func() {
		defer close(out)
		for pi := range found {
			if pi.ID == d.host.ID() || len(pi.Addrs) == 0 {
				continue
			}
			select {
			case out <- pi:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close shuts down the DHT node.
func (d *DHTRendezvous) Close() error {
	d.cancel()
	return d.dht.Close()
}

// DefaultBootstrapPeers returns the default IPFS bootstrap peers
func DefaultBootstrapPeers() []peer.AddrInfo {
	result := make([]peer.AddrInfo, 0, len(dht.DefaultBootstrapPeers))
	for _, addr := range dht.DefaultBootstrapPeers {
		pi, err := peer.AddrInfoFromP2pAddr(addr)
		if err != nil {
			continue
		}
		result = append(result, *pi)
	}
	return result
}

// ParseBootstrapPeers parses bootstrap multiaddrs; an empty list selects the
// defaults.
func ParseBootstrapPeers(addrs []string) ([]peer.AddrInfo, error) {
	if len(addrs) == 0 {
		return DefaultBootstrapPeers(), nil
	}
	s, err := NewStaticRendezvous(addrs)
	if err != nil {
		return nil, err
	}
	return s.peers, nil
}
