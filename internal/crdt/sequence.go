// Package crdt provides the conflict-free replicated data types behind
// collaborative editing.
//
// This package implements operation-based CRDTs:
//   - Sequence: a Replicated Growable Array (RGA) holding the shared text
//   - LWWRegister: a last-writer-wins register for presence fields
package crdt

import (
	"strings"

	"github.com/amaydixit11/cowrite/internal/core"
)

// ChangeKind describes the visible effect of an applied operation.
type ChangeKind int

const (
	ChangeInsert ChangeKind = iota
	ChangeDelete
)

// Change is the effect an operation had on the visible text.
// Index is a position in the visible (non-tombstoned) characters.
type Change struct {
	Kind  ChangeKind
	Index int
	Value string
	ID    core.OpID
}

// element is one inserted character in the weave.
type element struct {
	id      core.OpID
	value   string
	deleted bool // tombstone
	blk     *block
}

// Sequence is the causal update log of a replica and the ordered weave
// derived from it.
//
// Every insert references the character it follows. Concurrent inserts after
// the same predecessor are ordered by descending OpID, so replicas that
// applied the same operations in any causal order hold the same weave.
// Deleted characters stay in the weave as tombstones.
//
// A Sequence is not safe for concurrent use; its owner serializes access.
type Sequence struct {
	replica core.ReplicaID
	clock   *core.Clock

	weave   weave                  // document order, tombstones included
	index   map[core.OpID]*element // insert id → element
	applied map[core.OpID]struct{} // every applied op id
	log     []core.Operation       // applied ops in application (causal) order
	pending *pendingSet
	visible int
}

// NewSequence creates an empty sequence owned by replica.
func NewSequence(replica core.ReplicaID, clock *core.Clock) *Sequence {
	return &Sequence{
		replica: replica,
		clock:   clock,
		index:   make(map[core.OpID]*element),
		applied: make(map[core.OpID]struct{}),
		pending: newPendingSet(),
	}
}

// Replica returns the identifier of the local replica.
func (s *Sequence) Replica() core.ReplicaID {
	return s.replica
}

// Apply integrates a (typically remote) operation.
//
// Applying an operation twice is a no-op. An operation whose dependency is
// unknown is buffered and applied as soon as the dependency arrives; the
// returned changes then include every operation released by op.
func (s *Sequence) Apply(op core.Operation) ([]Change, error) {
	if err := op.Validate(); err != nil {
		return nil, err
	}
	if s.Contains(op.ID) || s.pending.contains(op.ID) {
		return nil, nil
	}
	if !s.ready(op) {
		s.pending.add(op)
		return nil, nil
	}

	var changes []Change
	queue := []core.Operation{op}
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if s.Contains(next.ID) {
			continue
		}
		if ch, ok := s.integrate(next); ok {
			changes = append(changes, ch)
		}
		if next.Kind == core.Insert {
			queue = append(queue, s.pending.release(next.ID)...)
		}
	}
	return changes, nil
}

// InsertLocal creates an insert of value after the character identified by
// after and applies it. The returned operation is meant for broadcast.
func (s *Sequence) InsertLocal(after core.OpID, value string) (core.Operation, Change, error) {
	if !after.IsRoot() {
		if _, ok := s.index[after]; !ok {
			return core.Operation{}, Change{}, &UnknownIDError{ID: after}
		}
	}
	op := core.Operation{
		ID:    core.OpID{Replica: s.replica, Counter: s.clock.Tick()},
		Kind:  core.Insert,
		Ref:   after,
		Value: value,
	}
	if err := op.Validate(); err != nil {
		return core.Operation{}, Change{}, err
	}
	ch, _ := s.integrate(op)
	return op, ch, nil
}

// DeleteLocal tombstones the character identified by target.
// The returned change is only meaningful when visible is true.
func (s *Sequence) DeleteLocal(target core.OpID) (op core.Operation, ch Change, visible bool, err error) {
	if _, ok := s.index[target]; !ok {
		return core.Operation{}, Change{}, false, &UnknownIDError{ID: target}
	}
	op = core.Operation{
		ID:   core.OpID{Replica: s.replica, Counter: s.clock.Tick()},
		Kind: core.Delete,
		Ref:  target,
	}
	ch, visible = s.integrate(op)
	return op, ch, visible, nil
}

// ready reports whether the dependency of op has been applied.
func (s *Sequence) ready(op core.Operation) bool {
	dep := op.Dependency()
	if dep.IsRoot() {
		return true
	}
	_, ok := s.index[dep]
	return ok
}

// integrate applies an operation whose dependency is known. It reports the
// visible change, if the operation had one.
func (s *Sequence) integrate(op core.Operation) (Change, bool) {
	s.applied[op.ID] = struct{}{}
	s.log = append(s.log, op)
	s.clock.Observe(op.ID.Counter)

	switch op.Kind {
	case core.Insert:
		var c cursor
		if !op.Ref.IsRoot() {
			c = s.weave.next(s.weave.locate(s.index[op.Ref]))
		}
		// Skip newer siblings and their descendants.
		for s.weave.valid(c) && s.weave.at(c).id.Compare(op.ID) > 0 {
			c = s.weave.next(c)
		}
		index := s.weave.visibleBefore(c)
		el := &element{id: op.ID, value: op.Value}
		s.weave.insert(c, el)
		s.index[op.ID] = el
		s.visible++
		return Change{Kind: ChangeInsert, Index: index, Value: op.Value, ID: op.ID}, true

	case core.Delete:
		el := s.index[op.Ref]
		if el.deleted {
			return Change{}, false
		}
		index := s.weave.visibleBefore(s.weave.locate(el))
		s.weave.tombstone(el)
		s.visible--
		return Change{Kind: ChangeDelete, Index: index, Value: el.value, ID: op.Ref}, true
	}
	return Change{}, false
}

// Contains reports whether the operation with id has been applied.
func (s *Sequence) Contains(id core.OpID) bool {
	_, ok := s.applied[id]
	return ok
}

// IDAt returns the identifier of the visible character at index.
func (s *Sequence) IDAt(index int) (core.OpID, bool) {
	if index < 0 || index >= s.visible {
		return core.OpID{}, false
	}
	return s.weave.visibleAt(index).id, true
}

// Text materializes the visible characters.
func (s *Sequence) Text() string {
	var b strings.Builder
	s.weave.each(func(el *element) {
		if !el.deleted {
			b.WriteString(el.value)
		}
	})
	return b.String()
}

// Len returns the number of visible characters.
func (s *Sequence) Len() int {
	return s.visible
}

// Size returns the number of characters in the weave, tombstones included.
func (s *Sequence) Size() int {
	return s.weave.size
}

// Operations returns a copy of every applied operation in causal order.
// Replaying it into an empty Sequence reproduces this one.
func (s *Sequence) Operations() []core.Operation {
	out := make([]core.Operation, len(s.log))
	copy(out, s.log)
	return out
}

// Pending returns the number of operations waiting for a dependency.
func (s *Sequence) Pending() int {
	return s.pending.len()
}

// UnknownIDError is returned when a local edit references a character the
// replica has never seen.
type UnknownIDError struct {
	ID core.OpID
}

func (e *UnknownIDError) Error() string {
	return "unknown character id: " + e.ID.String()
}
