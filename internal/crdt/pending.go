package crdt

import "github.com/amaydixit11/cowrite/internal/core"

// pendingSet buffers operations whose dependency has not been applied yet.
// Operations are indexed by the identifier they wait for, so applying an
// insert releases exactly the operations blocked on it.
type pendingSet struct {
	waiting map[core.OpID][]core.Operation // dependency → blocked operations
	ids     map[core.OpID]struct{}         // ids of every buffered operation
}

func newPendingSet() *pendingSet {
	return &pendingSet{
		waiting: make(map[core.OpID][]core.Operation),
		ids:     make(map[core.OpID]struct{}),
	}
}

// add buffers op until its dependency arrives. Duplicates are ignored.
func (p *pendingSet) add(op core.Operation) {
	if _, ok := p.ids[op.ID]; ok {
		return
	}
	dep := op.Dependency()
	p.waiting[dep] = append(p.waiting[dep], op)
	p.ids[op.ID] = struct{}{}
}

func (p *pendingSet) contains(id core.OpID) bool {
	_, ok := p.ids[id]
	return ok
}

// release removes and returns the operations waiting on dep, in arrival order.
func (p *pendingSet) release(dep core.OpID) []core.Operation {
	ops := p.waiting[dep]
	if len(ops) == 0 {
		return nil
	}
	delete(p.waiting, dep)
	for _, op := range ops {
		delete(p.ids, op.ID)
	}
	return ops
}

func (p *pendingSet) len() int {
	return len(p.ids)
}
