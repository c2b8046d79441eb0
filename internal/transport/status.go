package transport

import (
	"fmt"
	"sync"
)

// State is a step of the connection state machine:
//
//	Disconnected → Discovering → Connecting → Connected → Synced
//
// Losing every peer returns to Discovering.
type State int

const (
	Disconnected State = iota
	Discovering
	Connecting
	Connected
	Synced
)

var stateNames = []string{"disconnected", "discovering", "connecting", "connected", "synced"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(text []byte) error {
	for i, name := range stateNames {
		if name == string(text) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", text)
}

// Status is the externally visible connection status of a room.
type Status struct {
	State     State `json:"state"`
	Connected bool  `json:"connected"`
	Synced    bool  `json:"synced"`
	PeerCount int   `json:"peer_count"`
}

// tracker derives Status from the peer set. Every transport shares it so
// the state machine is the same whatever carries the bytes.
type tracker struct {
	mu      sync.Mutex
	joined  bool
	closed  bool
	dialing int
	peers   map[PeerID]bool // peer → synced
}

func newTracker() *tracker {
	return &tracker{peers: make(map[PeerID]bool)}
}

func (t *tracker) join() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.joined = true
}

func (t *tracker) close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.peers = make(map[PeerID]bool)
}

func (t *tracker) dialStart() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dialing++
}

func (t *tracker) dialDone() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dialing > 0 {
		t.dialing--
	}
}

// add registers a live peer and reports whether it was new.
func (t *tracker) add(p PeerID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	if _, ok := t.peers[p]; ok {
		return false
	}
	t.peers[p] = false
	return true
}

// remove forgets a peer and reports whether it was known.
func (t *tracker) remove(p PeerID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.peers[p]; !ok {
		return false
	}
	delete(t.peers, p)
	return true
}

func (t *tracker) has(p PeerID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.peers[p]
	return ok
}

func (t *tracker) markSynced(p PeerID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.peers[p]; ok {
		t.peers[p] = true
	}
}

func (t *tracker) list() []PeerID {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]PeerID, 0, len(t.peers))
	for p := range t.peers {
		out = append(out, p)
	}
	return out
}

func (t *tracker) status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := Status{PeerCount: len(t.peers)}
	for _, synced := range t.peers {
		if synced {
			st.Synced = true
			break
		}
	}
	st.Connected = st.PeerCount > 0

	switch {
	case t.closed || !t.joined:
		st.State = Disconnected
	case st.Synced:
		st.State = Synced
	case st.Connected:
		st.State = Connected
	case t.dialing > 0:
		st.State = Connecting
	default:
		st.State = Discovering
	}
	return st
}
