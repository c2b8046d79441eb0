// Package replica holds the local materialized state of a shared document.
//
// A Document owns a crdt.Sequence and keeps the visible text patched
// incrementally from every change the sequence reports. Local edits are
// expressed as visible indices and translated into operations; remote
// operations are applied in batches.
package replica

import (
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/text/unicode/norm"

	"github.com/amaydixit11/cowrite/internal/core"
	"github.com/amaydixit11/cowrite/internal/crdt"
)

// Listener receives the full visible text after a change.
type Listener func(text string)

// Option configures a Document.
type Option func(*Document)

// WithLocalOps registers fn to receive every batch of locally generated
// operations. fn runs while the document is locked, so batches arrive in the
// order the edits were made. It must not call back into the Document.
func WithLocalOps(fn func([]core.Operation)) Option {
	return func(d *Document) {
		d.onLocal = fn
	}
}

// WithClock makes the document draw operation counters from clock.
func WithClock(clock *core.Clock) Option {
	return func(d *Document) {
		d.clock = clock
	}
}

// Document is the local replica of a shared text.
// It is safe for concurrent use.
type Document struct {
	mu      sync.Mutex
	seq     *crdt.Sequence
	clock   *core.Clock
	text    []rune
	version uint64
	onLocal func([]core.Operation)

	lmu       sync.Mutex
	listeners map[int]Listener
	nextID    int
	notified  uint64
}

// New creates an empty document for the given replica.
func New(replica core.ReplicaID, opts ...Option) *Document {
	d := &Document{
		listeners: make(map[int]Listener),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.clock == nil {
		d.clock = core.NewClock()
	}
	d.seq = crdt.NewSequence(replica, d.clock)
	return d
}

// ReplicaID returns the identifier stamped on local operations.
func (d *Document) ReplicaID() core.ReplicaID {
	return d.seq.Replica()
}

// Text returns the current visible text.
func (d *Document) Text() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return string(d.text)
}

// Len returns the number of visible characters (code points).
func (d *Document) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.text)
}

// Insert inserts text before the character at index. index == Len() appends.
// The text is normalized to NFC first.
func (d *Document) Insert(index int, text string) ([]core.Operation, error) {
	d.mu.Lock()
	if index < 0 || index > len(d.text) {
		n := len(d.text)
		d.mu.Unlock()
		return nil, &RangeError{Index: index, Len: n}
	}
	ops, err := d.insertLocked(index, text)
	if err != nil || len(ops) == 0 {
		d.mu.Unlock()
		return ops, err
	}
	d.emitLocal(ops)
	snapshot, version := d.snapshotLocked()
	d.mu.Unlock()

	d.notify(snapshot, version)
	return ops, nil
}

// Delete removes count characters starting at index.
func (d *Document) Delete(index, count int) ([]core.Operation, error) {
	d.mu.Lock()
	if index < 0 || count < 0 || index > len(d.text) || count > len(d.text)-index {
		n := len(d.text)
		d.mu.Unlock()
		return nil, &RangeError{Index: index, Count: count, Len: n}
	}
	ops, err := d.deleteLocked(index, count)
	if err != nil || len(ops) == 0 {
		d.mu.Unlock()
		return ops, err
	}
	d.emitLocal(ops)
	snapshot, version := d.snapshotLocked()
	d.mu.Unlock()

	d.notify(snapshot, version)
	return ops, nil
}

// SetText replaces the whole document: every visible character is deleted,
// then text is inserted. It is meant for seeding a document, not for editing.
func (d *Document) SetText(text string) ([]core.Operation, error) {
	d.mu.Lock()
	ops, err := d.deleteLocked(0, len(d.text))
	if err != nil {
		d.mu.Unlock()
		return nil, err
	}
	inserted, err := d.insertLocked(0, text)
	ops = append(ops, inserted...)
	if len(ops) > 0 {
		d.emitLocal(ops)
	}
	if err != nil || len(ops) == 0 {
		d.mu.Unlock()
		return ops, err
	}
	snapshot, version := d.snapshotLocked()
	d.mu.Unlock()

	d.notify(snapshot, version)
	return ops, nil
}

// Apply integrates a batch of remote operations.
// Invalid operations are skipped; their errors are combined and returned
// while the rest of the batch still applies. Listeners fire at most once.
func (d *Document) Apply(ops []core.Operation) error {
	d.mu.Lock()
	var errs error
	changed := false
	for _, op := range ops {
		changes, err := d.seq.Apply(op)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		for _, ch := range changes {
			d.patch(ch)
			changed = true
		}
	}
	if !changed {
		d.mu.Unlock()
		return errs
	}
	snapshot, version := d.snapshotLocked()
	d.mu.Unlock()

	d.notify(snapshot, version)
	return errs
}

// Operations returns every applied operation in causal order.
func (d *Document) Operations() []core.Operation {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seq.Operations()
}

// Pending returns the number of remote operations waiting for a dependency.
func (d *Document) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seq.Pending()
}

// OnChange registers a listener for visible text changes.
// The returned function removes it.
func (d *Document) OnChange(fn Listener) (cancel func()) {
	d.lmu.Lock()
	id := d.nextID
	d.nextID++
	d.listeners[id] = fn
	d.lmu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.lmu.Lock()
			delete(d.listeners, id)
			d.lmu.Unlock()
		})
	}
}

func (d *Document) insertLocked(index int, text string) ([]core.Operation, error) {
	after := core.Root
	if index > 0 {
		id, ok := d.seq.IDAt(index - 1)
		if !ok {
			return nil, &RangeError{Index: index, Len: len(d.text)}
		}
		after = id
	}

	var ops []core.Operation
	for _, r := range norm.NFC.String(text) {
		op, ch, err := d.seq.InsertLocal(after, string(r))
		if err != nil {
			return ops, fmt.Errorf("insert at %d: %w", index, err)
		}
		d.patch(ch)
		ops = append(ops, op)
		after = op.ID
	}
	return ops, nil
}

func (d *Document) deleteLocked(index, count int) ([]core.Operation, error) {
	ops := make([]core.Operation, 0, count)
	for i := 0; i < count; i++ {
		id, ok := d.seq.IDAt(index)
		if !ok {
			return ops, &RangeError{Index: index, Count: count - i, Len: len(d.text)}
		}
		op, ch, visible, err := d.seq.DeleteLocal(id)
		if err != nil {
			return ops, fmt.Errorf("delete at %d: %w", index, err)
		}
		if visible {
			d.patch(ch)
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// patch applies one sequence change to the materialized text.
func (d *Document) patch(ch crdt.Change) {
	switch ch.Kind {
	case crdt.ChangeInsert:
		r := []rune(ch.Value)[0]
		d.text = append(d.text, 0)
		copy(d.text[ch.Index+1:], d.text[ch.Index:])
		d.text[ch.Index] = r
	case crdt.ChangeDelete:
		d.text = append(d.text[:ch.Index], d.text[ch.Index+1:]...)
	}
}

func (d *Document) emitLocal(ops []core.Operation) {
	if d.onLocal != nil {
		d.onLocal(ops)
	}
}

func (d *Document) snapshotLocked() (string, uint64) {
	d.version++
	return string(d.text), d.version
}

// notify delivers a snapshot to every listener. Snapshots older than one
// already delivered are dropped, so listeners never observe text going
// backwards when edits race.
func (d *Document) notify(text string, version uint64) {
	d.lmu.Lock()
	if version <= d.notified {
		d.lmu.Unlock()
		return
	}
	d.notified = version
	listeners := make([]Listener, 0, len(d.listeners))
	for _, fn := range d.listeners {
		listeners = append(listeners, fn)
	}
	d.lmu.Unlock()

	for _, fn := range listeners {
		fn(text)
	}
}

// RangeError reports an edit outside the visible text.
type RangeError struct {
	Index int
	Count int
	Len   int
}

func (e *RangeError) Error() string {
	if e.Count > 0 {
		return fmt.Sprintf("range [%d, %d) out of bounds for length %d", e.Index, e.Index+e.Count, e.Len)
	}
	return fmt.Sprintf("index %d out of bounds for length %d", e.Index, e.Len)
}
