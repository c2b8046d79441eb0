// Package awareness tracks ephemeral presence for the participants of a
// session: display name, colour and cursor position.
//
// Presence is never persisted and has no correctness requirement beyond
// freshness. Each field is a last-writer-wins register stamped with the
// origin's own clock; entries not heard from within the timeout are dropped.
package awareness

import (
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/segmentio/ksuid"

	"github.com/amaydixit11/cowrite/internal/crdt"
)

// DefaultTimeout is how long a peer may stay silent before its presence
// entry is dropped.
const DefaultTimeout = 30 * time.Second

// DefaultName is shown for participants that never set a name.
const DefaultName = "Anonymous"

var palette = []string{
	"#e6194b", "#3cb44b", "#4363d8", "#f58231",
	"#911eb4", "#42d4f4", "#f032e6", "#469990",
	"#9a6324", "#800000", "#808000", "#000075",
}

// ColorFor returns the default colour for a client.
func ColorFor(clientID string) string {
	h := fnv.New32a()
	h.Write([]byte(clientID))
	return palette[h.Sum32()%uint32(len(palette))]
}

// Participant is the rendered view of one participant's presence.
type Participant struct {
	ID       string `json:"id"`
	ClientID string `json:"client_id"`
	Name     string `json:"name"`
	Color    string `json:"color"`
	Cursor   *int   `json:"cursor,omitempty"`
	Local    bool   `json:"local"`
}

// Limits on presence fields. Peers reject awareness messages beyond them.
const (
	MaxNameLength  = 128
	MaxColorLength = 32
)

// Fields is a partial presence update. Nil fields are left unchanged;
// ClearCursor removes the cursor.
type Fields struct {
	Name        *string
	Color       *string
	Cursor      *int
	ClearCursor bool
}

// Validate checks the set fields against the limits peers enforce.
func (f Fields) Validate() error {
	if f.Name != nil && utf8.RuneCountInString(*f.Name) > MaxNameLength {
		return &InvalidFieldError{Field: "name", Reason: fmt.Sprintf("longer than %d characters", MaxNameLength)}
	}
	if f.Color != nil && utf8.RuneCountInString(*f.Color) > MaxColorLength {
		return &InvalidFieldError{Field: "color", Reason: fmt.Sprintf("longer than %d characters", MaxColorLength)}
	}
	if f.Cursor != nil && *f.Cursor < 0 {
		return &InvalidFieldError{Field: "cursor", Reason: "negative"}
	}
	return nil
}

// InvalidFieldError is returned for presence fields peers would reject.
type InvalidFieldError struct {
	Field  string
	Reason string
}

func (e *InvalidFieldError) Error() string {
	return "invalid presence " + e.Field + ": " + e.Reason
}

// Update is the full presence state of one participant as sent on the wire.
type Update struct {
	ClientID string                   `json:"client_id"`
	Clock    uint64                   `json:"clock"`
	Name     crdt.LWWRegister[string] `json:"name"`
	Color    crdt.LWWRegister[string] `json:"color"`
	Cursor   crdt.LWWRegister[*int]   `json:"cursor"`
}

// ChangeKind classifies a PeerChange.
type ChangeKind string

const (
	Joined  ChangeKind = "joined"
	Updated ChangeKind = "updated"
	Left    ChangeKind = "left"
)

// PeerChange is delivered to listeners on membership churn and field updates.
type PeerChange struct {
	Kind        ChangeKind  `json:"kind"`
	Participant Participant `json:"participant"`
}

// Listener receives presence changes.
type Listener func(PeerChange)

// Option configures an Awareness.
type Option func(*Awareness)

// WithTimeout sets the presence timeout.
func WithTimeout(d time.Duration) Option {
	return func(a *Awareness) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithClientID overrides the generated client identifier.
func WithClientID(id string) Option {
	return func(a *Awareness) {
		a.local.clientID = id
	}
}

// WithNow replaces the wall clock used for liveness.
func WithNow(now func() time.Time) Option {
	return func(a *Awareness) {
		a.now = now
	}
}

type entry struct {
	clientID string
	clock    uint64
	name     crdt.LWWRegister[string]
	color    crdt.LWWRegister[string]
	cursor   crdt.LWWRegister[*int]
	lastSeen time.Time
}

func (e *entry) participant(id string, local bool) Participant {
	p := Participant{
		ID:       id,
		ClientID: e.clientID,
		Name:     e.name.Value,
		Color:    e.color.Value,
		Local:    local,
	}
	if !e.name.IsSet() || p.Name == "" {
		p.Name = DefaultName
	}
	if !e.color.IsSet() || p.Color == "" {
		p.Color = ColorFor(e.clientID)
	}
	if e.cursor.Value != nil {
		c := *e.cursor.Value
		p.Cursor = &c
	}
	return p
}

func (e *entry) update() Update {
	return Update{
		ClientID: e.clientID,
		Clock:    e.clock,
		Name:     e.name,
		Color:    e.color,
		Cursor:   e.cursor,
	}
}

// merge folds u into e and reports whether any field changed.
func (e *entry) merge(u Update) bool {
	changed := e.name.Merge(u.Name)
	if e.color.Merge(u.Color) {
		changed = true
	}
	if e.cursor.Merge(u.Cursor) {
		changed = true
	}
	if u.Clock > e.clock {
		e.clock = u.Clock
	}
	return changed
}

// Awareness is the presence table of one session.
// It is safe for concurrent use; listeners run without the lock held.
type Awareness struct {
	mu      sync.Mutex
	localID string
	local   entry
	peers   map[string]*entry
	timeout time.Duration
	now     func() time.Time

	lmu       sync.Mutex
	listeners map[int]Listener
	nextID    int
}

// New creates a presence table whose local participant is identified by
// localID (the transport's connection identifier).
func New(localID string, opts ...Option) *Awareness {
	a := &Awareness{
		localID:   localID,
		peers:     make(map[string]*entry),
		timeout:   DefaultTimeout,
		now:       time.Now,
		listeners: make(map[int]Listener),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.local.clientID == "" {
		a.local.clientID = ksuid.New().String()
	}
	return a
}

// ClientID returns the local participant's client identifier.
func (a *Awareness) ClientID() string {
	return a.local.clientID
}

// SetLocal merges fields into the local state and returns the update to
// broadcast.
func (a *Awareness) SetLocal(f Fields) Update {
	a.mu.Lock()
	a.local.clock++
	clock := a.local.clock
	if f.Name != nil {
		a.local.name.Set(*f.Name, clock)
	}
	if f.Color != nil {
		a.local.color.Set(*f.Color, clock)
	}
	switch {
	case f.ClearCursor:
		a.local.cursor.Set(nil, clock)
	case f.Cursor != nil:
		c := *f.Cursor
		a.local.cursor.Set(&c, clock)
	}
	u := a.local.update()
	p := a.local.participant(a.localID, true)
	a.mu.Unlock()

	a.fire(PeerChange{Kind: Updated, Participant: p})
	return u
}

// LocalUpdate returns the current local state, e.g. for a heartbeat or a
// newly joined peer.
func (a *Awareness) LocalUpdate() Update {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.local.update()
}

// Apply merges a remote update received over connection connID and marks the
// peer alive. It reports whether the visible participant changed.
func (a *Awareness) Apply(connID string, u Update) bool {
	if connID == "" || connID == a.localID || u.ClientID == "" {
		return false
	}

	a.mu.Lock()
	e, ok := a.peers[connID]
	kind := Updated
	if !ok || e.clientID != u.ClientID {
		// a connection id reused by a different client is a new participant
		e = &entry{clientID: u.ClientID}
		a.peers[connID] = e
		kind = Joined
	}
	e.lastSeen = a.now()
	changed := e.merge(u)
	if kind == Updated && !changed {
		a.mu.Unlock()
		return false
	}
	p := e.participant(connID, false)
	a.mu.Unlock()

	a.fire(PeerChange{Kind: kind, Participant: p})
	return true
}

// Touch refreshes the liveness of connID without changing its state.
func (a *Awareness) Touch(connID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if e, ok := a.peers[connID]; ok {
		e.lastSeen = a.now()
	}
}

// Remove drops the entry for connID, e.g. when the transport reports the
// peer gone.
func (a *Awareness) Remove(connID string) bool {
	a.mu.Lock()
	e, ok := a.peers[connID]
	if !ok {
		a.mu.Unlock()
		return false
	}
	delete(a.peers, connID)
	p := e.participant(connID, false)
	a.mu.Unlock()

	a.fire(PeerChange{Kind: Left, Participant: p})
	return true
}

// Expire drops every peer not heard from within the timeout and returns
// their connection ids.
func (a *Awareness) Expire() []string {
	a.mu.Lock()
	cutoff := a.now().Add(-a.timeout)
	var gone []PeerChange
	var ids []string
	for id, e := range a.peers {
		if e.lastSeen.Before(cutoff) {
			delete(a.peers, id)
			ids = append(ids, id)
			gone = append(gone, PeerChange{Kind: Left, Participant: e.participant(id, false)})
		}
	}
	a.mu.Unlock()

	sort.Strings(ids)
	for _, ch := range gone {
		a.fire(ch)
	}
	return ids
}

// GetAll returns the local participant followed by every peer, sorted by
// connection id.
func (a *Awareness) GetAll() []Participant {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]Participant, 0, len(a.peers)+1)
	out = append(out, a.local.participant(a.localID, true))
	ids := make([]string, 0, len(a.peers))
	for id := range a.peers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		out = append(out, a.peers[id].participant(id, false))
	}
	return out
}

// Len returns the number of known remote participants.
func (a *Awareness) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.peers)
}

// OnPeerChange registers a listener. The returned function removes it.
func (a *Awareness) OnPeerChange(fn Listener) (cancel func()) {
	a.lmu.Lock()
	id := a.nextID
	a.nextID++
	a.listeners[id] = fn
	a.lmu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			a.lmu.Lock()
			delete(a.listeners, id)
			a.lmu.Unlock()
		})
	}
}

func (a *Awareness) fire(ch PeerChange) {
	a.lmu.Lock()
	listeners := make([]Listener, 0, len(a.listeners))
	for _, fn := range a.listeners {
		listeners = append(listeners, fn)
	}
	a.lmu.Unlock()

	for _, fn := range listeners {
		fn(ch)
	}
}
