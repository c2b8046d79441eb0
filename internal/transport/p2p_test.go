package transport

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amaydixit11/cowrite/internal/protocol"
)

func newLoopbackTransport(t *testing.T, staticPeers []string) *P2PTransport {
	t.Helper()
	cfg := DefaultConfig()
	cfg.ListenAddrs = []string{"/ip4/127.0.0.1/tcp/0"}
	cfg.EnableMDNS = false
	cfg.StaticPeers = staticPeers
	cfg.DiscoveryInterval = 200 * time.Millisecond
	tr, err := NewP2PTransport(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { tr.Close() })
	return tr
}

func TestP2PTransportLoopback(t *testing.T) {
	if testing.Short() {
		t.Skip("opens real sockets")
	}
	ctx := context.Background()

	a := newLoopbackTransport(t, nil)
	require.NoError(t, a.Join(ctx, testRoom))
	b := newLoopbackTransport(t, a.Addrs())
	require.NoError(t, b.Join(ctx, testRoom))

	expectEvent(t, b, PeerJoined, a.ID())
	expectEvent(t, a, PeerJoined, b.ID())
	assert.Equal(t, Connected, a.Status().State)

	require.NoError(t, b.Broadcast(protocol.NewSyncRequest(testRoom)))
	ev := expectEvent(t, a, MessageReceived, b.ID())
	assert.Equal(t, protocol.KindSyncRequest, ev.Message.Kind)

	require.NoError(t, a.Send(b.ID(), protocol.NewSyncResponse(testRoom, nil)))
	ev = expectEvent(t, b, MessageReceived, a.ID())
	assert.Equal(t, protocol.KindSyncResponse, ev.Message.Kind)

	invite, err := a.Invite(time.Hour)
	require.NoError(t, err)
	assert.Equal(t, testRoom, invite.Room)

	require.NoError(t, b.Close())
	expectEvent(t, a, PeerLeft, b.ID())
	assert.Equal(t, Discovering, a.Status().State)
}

func TestP2PTransportOtherRoomIsIgnored(t *testing.T) {
	if testing.Short() {
		t.Skip("opens real sockets")
	}
	ctx := context.Background()

	a := newLoopbackTransport(t, nil)
	require.NoError(t, a.Join(ctx, testRoom))
	b := newLoopbackTransport(t, a.Addrs())
	require.NoError(t, b.Join(ctx, "ZZZZ9999"))

	select {
	case ev := <-a.Events():
		t.Fatalf("unexpected %s from %s", ev.Kind, ev.Peer)
	case <-time.After(500 * time.Millisecond):
	}
	assert.Equal(t, 0, a.Status().PeerCount)
}

func TestP2PTransportSendUnknownPeer(t *testing.T) {
	a := newLoopbackTransport(t, nil)
	assert.ErrorIs(t, a.Send("not-a-peer", protocol.NewSyncRequest(testRoom)), ErrUnknownPeer)
	_, err := a.Invite(time.Hour)
	assert.Error(t, err, "no invite before joining a room")
}

func TestRedisRendezvous(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()
	ns := Namespace(testRoom)

	r1 := NewRedisRendezvous(redis.NewClient(&redis.Options{Addr: addr}), time.Minute)
	r2 := NewRedisRendezvous(redis.NewClient(&redis.Options{Addr: addr}), time.Minute)
	defer r2.Close()

	self1 := addrInfo(t, newPeerID(t), "/ip4/10.0.0.1/tcp/4001")
	self2 := addrInfo(t, newPeerID(t), "/ip4/10.0.0.2/tcp/4001")
	require.NoError(t, r1.Advertise(ctx, ns, self1))
	require.NoError(t, r2.Advertise(ctx, ns, self2))

	found, err := r2.FindPeers(ctx, ns)
	require.NoError(t, err)
	peers := collect(found)
	require.Len(t, peers, 1)
	assert.Equal(t, self1.ID, peers[0].ID)

	require.NoError(t, r1.Close())
	found, err = r2.FindPeers(ctx, ns)
	require.NoError(t, err)
	assert.Empty(t, collect(found), "a closed rendezvous deregisters")
}
