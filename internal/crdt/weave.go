package crdt

// weaveBlockSize is the target number of elements per block; a block that
// grows to twice this size is split.
const weaveBlockSize = 64

// weave holds the elements in document order, tombstones included, as a
// list of blocks. Each block counts its live elements, so locating an
// element or a visible index walks block counts rather than every element.
type weave struct {
	blocks []*block
	size   int
}

type block struct {
	elems   []*element
	visible int
	index   int // position in weave.blocks
}

// cursor addresses a slot in the weave: element off of block blk. A cursor
// one past the last element of the last block is the end of the weave.
type cursor struct {
	blk, off int
}

func (w *weave) valid(c cursor) bool {
	return c.blk < len(w.blocks) && c.off < len(w.blocks[c.blk].elems)
}

func (w *weave) at(c cursor) *element {
	return w.blocks[c.blk].elems[c.off]
}

// next advances c by one element.
func (w *weave) next(c cursor) cursor {
	c.off++
	if c.off >= len(w.blocks[c.blk].elems) && c.blk+1 < len(w.blocks) {
		return cursor{blk: c.blk + 1}
	}
	return c
}

// locate returns the cursor of an element in the weave.
func (w *weave) locate(el *element) cursor {
	b := el.blk
	for i, e := range b.elems {
		if e == el {
			return cursor{blk: b.index, off: i}
		}
	}
	panic("crdt: element missing from its block")
}

// insert places el at c, shifting the elements from c on.
func (w *weave) insert(c cursor, el *element) {
	if len(w.blocks) == 0 {
		w.blocks = append(w.blocks, &block{})
	}
	b := w.blocks[c.blk]
	b.elems = append(b.elems, nil)
	copy(b.elems[c.off+1:], b.elems[c.off:])
	b.elems[c.off] = el
	el.blk = b
	if !el.deleted {
		b.visible++
	}
	w.size++
	if len(b.elems) >= 2*weaveBlockSize {
		w.split(c.blk)
	}
}

func (w *weave) split(i int) {
	b := w.blocks[i]
	half := len(b.elems) / 2
	nb := &block{elems: append(make([]*element, 0, 2*weaveBlockSize), b.elems[half:]...)}
	for j := half; j < len(b.elems); j++ {
		b.elems[j] = nil
	}
	b.elems = b.elems[:half]
	for _, el := range nb.elems {
		el.blk = nb
		if !el.deleted {
			nb.visible++
		}
	}
	b.visible -= nb.visible

	w.blocks = append(w.blocks, nil)
	copy(w.blocks[i+2:], w.blocks[i+1:])
	w.blocks[i+1] = nb
	for j := i + 1; j < len(w.blocks); j++ {
		w.blocks[j].index = j
	}
}

// tombstone marks el deleted.
func (w *weave) tombstone(el *element) {
	el.deleted = true
	el.blk.visible--
}

// visibleBefore counts live elements before c.
func (w *weave) visibleBefore(c cursor) int {
	n := 0
	for _, b := range w.blocks[:min(c.blk, len(w.blocks))] {
		n += b.visible
	}
	if c.blk < len(w.blocks) {
		for _, el := range w.blocks[c.blk].elems[:c.off] {
			if !el.deleted {
				n++
			}
		}
	}
	return n
}

// visibleAt returns the live element at visible index i, or nil.
func (w *weave) visibleAt(i int) *element {
	for _, b := range w.blocks {
		if i >= b.visible {
			i -= b.visible
			continue
		}
		for _, el := range b.elems {
			if el.deleted {
				continue
			}
			if i == 0 {
				return el
			}
			i--
		}
	}
	return nil
}

// each calls fn for every element in document order.
func (w *weave) each(fn func(*element)) {
	for _, b := range w.blocks {
		for _, el := range b.elems {
			fn(el)
		}
	}
}
