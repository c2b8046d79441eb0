package session

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/amaydixit11/cowrite/internal/awareness"
	"github.com/amaydixit11/cowrite/internal/core"
	"github.com/amaydixit11/cowrite/internal/transport"
)

const (
	room    = "ABCD1234"
	waitFor = 2 * time.Second
	tick    = 10 * time.Millisecond
)

func newController(t *testing.T, net *transport.MemoryNetwork, name string) *Controller {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DisplayName = name
	cfg.Logger = zaptest.NewLogger(t).Sugar()
	return NewController(cfg, func() (transport.Transport, error) {
		return net.NewTransport(), nil
	})
}

func leaveOnCleanup(t *testing.T, s *Session) *Session {
	t.Helper()
	t.Cleanup(func() {
		if !s.Closed() {
			s.Leave()
		}
	})
	return s
}

func host(t *testing.T, net *transport.MemoryNetwork, text string) *Session {
	t.Helper()
	s, err := newController(t, net, "host").HostRoom(context.Background(), room, text)
	require.NoError(t, err)
	return leaveOnCleanup(t, s)
}

func join(t *testing.T, net *transport.MemoryNetwork, name string) *Session {
	t.Helper()
	s, err := newController(t, net, name).Join(context.Background(), room)
	require.NoError(t, err)
	return leaveOnCleanup(t, s)
}

func TestHostAndJoinConverge(t *testing.T) {
	net := transport.NewMemoryNetwork()
	alice := host(t, net, "Hello")
	assert.Equal(t, core.RoomID(room), alice.RoomID())
	assert.Equal(t, "Hello", alice.Text())

	bob := join(t, net, "bob")
	require.Eventually(t, func() bool { return bob.Text() == "Hello" }, waitFor, tick)
	require.Eventually(t, func() bool { return bob.Status().State == transport.Synced }, waitFor, tick)

	changes := make(chan string, 16)
	bob.OnContentChange(func(text string) { changes <- text })

	require.NoError(t, alice.Insert(alice.Len(), " World"))
	deadline := time.After(waitFor)
	for {
		select {
		case text := <-changes:
			if text == "Hello World" {
				assert.Equal(t, "Hello World", bob.Text())
				return
			}
		case <-deadline:
			t.Fatalf("bob never saw the edit, text is %q", bob.Text())
		}
	}
}

func TestConcurrentEditsConverge(t *testing.T) {
	net := transport.NewMemoryNetwork()
	alice := host(t, net, "ab")
	bob := join(t, net, "bob")
	require.Eventually(t, func() bool { return bob.Text() == "ab" }, waitFor, tick)

	require.NoError(t, alice.Insert(1, "X"))
	require.NoError(t, bob.Insert(1, "Y"))
	require.NoError(t, bob.Delete(0, 1))

	require.Eventually(t, func() bool {
		return alice.Text() == bob.Text() && alice.Len() == 3
	}, waitFor, tick)
	assert.NotContains(t, alice.Text(), "a")
}

func TestPartitionHealResyncs(t *testing.T) {
	net := transport.NewMemoryNetwork()
	alice := host(t, net, "base")
	bob := join(t, net, "bob")
	require.Eventually(t, func() bool { return bob.Text() == "base" }, waitFor, tick)

	a := transport.PeerID(alice.ConnectionID())
	b := transport.PeerID(bob.ConnectionID())
	net.Partition(a, b)
	require.Eventually(t, func() bool { return alice.Status().PeerCount == 0 }, waitFor, tick)
	assert.Equal(t, transport.Discovering, alice.Status().State)

	// edits keep working locally while disconnected
	require.NoError(t, alice.Insert(0, ">"))
	require.NoError(t, bob.Insert(bob.Len(), "<"))
	assert.Equal(t, ">base", alice.Text())
	assert.Equal(t, "base<", bob.Text())

	net.Heal(a, b)
	require.Eventually(t, func() bool {
		return alice.Text() == ">base<" && bob.Text() == ">base<"
	}, waitFor, tick)
	require.Eventually(t, func() bool { return alice.Status().Synced }, waitFor, tick)
}

func TestPresenceChurn(t *testing.T) {
	net := transport.NewMemoryNetwork()
	alice := host(t, net, "doc")
	bob := join(t, net, "bob")
	carol := join(t, net, "carol")

	require.Eventually(t, func() bool { return len(alice.Participants()) == 3 }, waitFor, tick)
	parts := alice.Participants()
	assert.True(t, parts[0].Local)
	assert.Equal(t, "host", parts[0].Name)

	left := make(chan awareness.PeerChange, 4)
	alice.OnPeerChange(func(ch awareness.PeerChange) {
		if ch.Kind == awareness.Left {
			left <- ch
		}
	})

	carolID := carol.ConnectionID()
	require.NoError(t, carol.Leave())

	select {
	case ch := <-left:
		assert.Equal(t, carolID, ch.Participant.ID)
		assert.Equal(t, "carol", ch.Participant.Name)
	case <-time.After(waitFor):
		t.Fatal("no presence change for the departed peer")
	}
	require.Eventually(t, func() bool { return alice.Status().PeerCount == 1 }, waitFor, tick)
	assert.Len(t, alice.Participants(), 2)
	assert.Equal(t, "doc", alice.Text())
	assert.Equal(t, "doc", bob.Text())
}

func TestSetPresencePropagates(t *testing.T) {
	net := transport.NewMemoryNetwork()
	alice := host(t, net, "")
	bob := join(t, net, "bob")

	name := "Ada"
	cursor := 3
	require.NoError(t, alice.SetPresence(awareness.Fields{Name: &name, Cursor: &cursor}))

	require.Eventually(t, func() bool {
		for _, p := range bob.Participants() {
			if p.ID == alice.ConnectionID() {
				return p.Name == "Ada" && p.Cursor != nil && *p.Cursor == 3
			}
		}
		return false
	}, waitFor, tick)

	long := strings.Repeat("x", MaxNameLength+1)
	assert.Error(t, alice.SetPresence(awareness.Fields{Name: &long}))
}

func TestSetPresenceRejectsFieldsPeersWouldDrop(t *testing.T) {
	net := transport.NewMemoryNetwork()
	alice := host(t, net, "")
	bob := join(t, net, "bob")

	color := strings.Repeat("#", awareness.MaxColorLength+1)
	negative := -1
	renamed := "robert"
	var invalid *awareness.InvalidFieldError
	assert.ErrorAs(t, bob.SetPresence(awareness.Fields{Color: &color}), &invalid)
	assert.ErrorAs(t, bob.SetPresence(awareness.Fields{Name: &renamed, Cursor: &negative}), &invalid)
	assert.Equal(t, "bob", bob.Participants()[0].Name, "a rejected update changes nothing")

	// the local state stays encodable, so later updates still reach peers
	require.NoError(t, bob.SetPresence(awareness.Fields{Name: &renamed}))
	require.Eventually(t, func() bool {
		for _, p := range alice.Participants() {
			if p.ID == bob.ConnectionID() {
				return p.Name == "robert"
			}
		}
		return false
	}, waitFor, tick)
}

func TestHostRejectsInvalidColor(t *testing.T) {
	net := transport.NewMemoryNetwork()
	cfg := DefaultConfig()
	cfg.Color = strings.Repeat("c", awareness.MaxColorLength+1)
	calls := 0
	ctrl := NewController(cfg, func() (transport.Transport, error) {
		calls++
		return net.NewTransport(), nil
	})
	_, err := ctrl.HostRoom(context.Background(), room, "")
	var invalid *awareness.InvalidFieldError
	assert.ErrorAs(t, err, &invalid)
	assert.Equal(t, 1, calls)
}

func TestSubscribe(t *testing.T) {
	net := transport.NewMemoryNetwork()
	alice := host(t, net, "")
	sub := alice.Subscribe(SubscriptionOptions{Events: []EventType{EventContent}})

	require.NoError(t, alice.Insert(0, "hi"))
	select {
	case ev := <-sub.Events():
		assert.Equal(t, EventContent, ev.Type)
		assert.Equal(t, "hi", ev.Text)
		assert.Equal(t, core.RoomID(room), ev.Room)
		assert.False(t, ev.Timestamp.IsZero())
	case <-time.After(waitFor):
		t.Fatal("no content event")
	}

	require.NoError(t, alice.Leave())
	_, ok := <-sub.Events()
	assert.False(t, ok, "subscriptions close on leave")
}

func TestJoinRejectsInvalidRoom(t *testing.T) {
	calls := 0
	ctrl := NewController(DefaultConfig(), func() (transport.Transport, error) {
		calls++
		return transport.NewMemoryNetwork().NewTransport(), nil
	})

	for _, id := range []string{"", "abc", "ABCD-123", "ABCD12345"} {
		_, err := ctrl.Join(context.Background(), id)
		var invalid *core.InvalidRoomIDError
		assert.ErrorAs(t, err, &invalid, "room %q", id)
	}
	_, err := ctrl.HostRoom(context.Background(), "bad", "")
	var invalid *core.InvalidRoomIDError
	assert.ErrorAs(t, err, &invalid)
	assert.Zero(t, calls, "no transport is created for an invalid room")
}

func TestJoinNormalizesRoom(t *testing.T) {
	net := transport.NewMemoryNetwork()
	s, err := newController(t, net, "x").Join(context.Background(), " abcd1234 ")
	require.NoError(t, err)
	leaveOnCleanup(t, s)
	assert.Equal(t, core.RoomID(room), s.RoomID())
}

func TestHostGeneratesRoom(t *testing.T) {
	net := transport.NewMemoryNetwork()
	s, err := newController(t, net, "x").Host(context.Background(), "seed")
	require.NoError(t, err)
	leaveOnCleanup(t, s)
	assert.True(t, s.RoomID().Valid())
	assert.Equal(t, "seed", s.Text())
	assert.NotEmpty(t, s.ReplicaID())
	assert.NotEmpty(t, s.ClientID())
}

func TestUseAfterLeavePanics(t *testing.T) {
	net := transport.NewMemoryNetwork()
	s := host(t, net, "x")
	require.NoError(t, s.Leave())
	assert.True(t, s.Closed())

	calls := map[string]func(){
		"Text":         func() { s.Text() },
		"Insert":       func() { s.Insert(0, "y") },
		"Delete":       func() { s.Delete(0, 1) },
		"SetText":      func() { s.SetText("z") },
		"Participants": func() { s.Participants() },
		"Status":       func() { s.Status() },
		"Leave":        func() { s.Leave() },
	}
	for name, call := range calls {
		t.Run(name, func(t *testing.T) {
			assert.PanicsWithValue(t, ErrSessionClosed, call)
		})
	}
}
