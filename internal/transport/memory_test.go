package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amaydixit11/cowrite/internal/core"
	"github.com/amaydixit11/cowrite/internal/protocol"
)

const testRoom = core.RoomID("ABCD1234")

func nextEvent(t *testing.T, tr Transport) Event {
	t.Helper()
	select {
	case ev, ok := <-tr.Events():
		require.True(t, ok, "event queue closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func expectEvent(t *testing.T, tr Transport, kind EventKind, from PeerID) Event {
	t.Helper()
	ev := nextEvent(t, tr)
	require.Equal(t, kind, ev.Kind, "got %s from %s", ev.Kind, ev.Peer)
	require.Equal(t, from, ev.Peer)
	return ev
}

// assertClosed drains events still queued at close time and expects the
// channel to be closed.
func assertClosed(t *testing.T, tr Transport) {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-tr.Events():
			if !ok {
				return
			}
		case <-timeout:
			t.Fatal("events channel not closed")
		}
	}
}

func joinMemory(t *testing.T, net *MemoryNetwork, room core.RoomID) *MemoryTransport {
	t.Helper()
	tr := net.NewTransport()
	require.NoError(t, tr.Join(context.Background(), room))
	t.Cleanup(func() { tr.Close() })
	return tr
}

func TestMemoryTransportJoinAndBroadcast(t *testing.T) {
	net := NewMemoryNetwork()
	a := joinMemory(t, net, testRoom)
	assert.Equal(t, Discovering, a.Status().State)

	b := joinMemory(t, net, testRoom)
	expectEvent(t, a, PeerJoined, b.ID())
	expectEvent(t, b, PeerJoined, a.ID())
	assert.Equal(t, Status{State: Connected, Connected: true, PeerCount: 1}, a.Status())

	require.NoError(t, a.Broadcast(protocol.NewSyncRequest(testRoom)))
	ev := expectEvent(t, b, MessageReceived, a.ID())
	assert.Equal(t, protocol.KindSyncRequest, ev.Message.Kind)
	assert.Equal(t, testRoom, ev.Message.Room)
}

func TestMemoryTransportRoomsAreIsolated(t *testing.T) {
	net := NewMemoryNetwork()
	a := joinMemory(t, net, testRoom)
	joinMemory(t, net, "ZZZZ9999")

	require.NoError(t, a.Broadcast(protocol.NewSyncRequest(testRoom)))
	select {
	case ev := <-a.Events():
		t.Fatalf("unexpected event %s", ev.Kind)
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, 0, a.Status().PeerCount)
}

func TestMemoryTransportSendUnknownPeer(t *testing.T) {
	net := NewMemoryNetwork()
	a := joinMemory(t, net, testRoom)
	err := a.Send("mem-404", protocol.NewSyncRequest(testRoom))
	assert.ErrorIs(t, err, ErrUnknownPeer)
}

func TestMemoryTransportPartitionAndHeal(t *testing.T) {
	net := NewMemoryNetwork()
	a := joinMemory(t, net, testRoom)
	b := joinMemory(t, net, testRoom)
	expectEvent(t, a, PeerJoined, b.ID())
	expectEvent(t, b, PeerJoined, a.ID())

	a.MarkSynced(b.ID())
	assert.Equal(t, Synced, a.Status().State)

	net.Partition(a.ID(), b.ID())
	expectEvent(t, a, PeerLeft, b.ID())
	expectEvent(t, b, PeerLeft, a.ID())
	assert.Equal(t, Discovering, a.Status().State, "losing every peer returns to discovering")
	assert.ErrorIs(t, a.Send(b.ID(), protocol.NewSyncRequest(testRoom)), ErrUnknownPeer)

	net.Heal(a.ID(), b.ID())
	expectEvent(t, a, PeerJoined, b.ID())
	expectEvent(t, b, PeerJoined, a.ID())
	assert.Equal(t, Connected, a.Status().State, "sync state does not survive a reconnect")
}

func TestMemoryTransportCloseNotifiesPeers(t *testing.T) {
	net := NewMemoryNetwork()
	a := joinMemory(t, net, testRoom)
	b := net.NewTransport()
	require.NoError(t, b.Join(context.Background(), testRoom))
	expectEvent(t, a, PeerJoined, b.ID())

	require.NoError(t, b.Close())
	require.NoError(t, b.Close(), "close is idempotent")
	expectEvent(t, a, PeerLeft, b.ID())

	assertClosed(t, b)
	assert.Equal(t, Disconnected, b.Status().State)
	assert.ErrorIs(t, b.Broadcast(protocol.NewSyncRequest(testRoom)), ErrClosed)
	assert.ErrorIs(t, b.Join(context.Background(), testRoom), ErrClosed)
}

func TestMemoryTransportJoinTwice(t *testing.T) {
	net := NewMemoryNetwork()
	a := joinMemory(t, net, testRoom)
	assert.Error(t, a.Join(context.Background(), testRoom))
}
