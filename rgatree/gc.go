package rgatree

// Detach unlinks the node identified by id from both the chain-order and
// insertion-order lists and from the split table, rewiring any neighbor
// that pointed through id so no live node loses its place. This is the
// "rewrite forward references during detachment" strategy spec §4.6
// invariant 1 allows as an alternative to withholding GC until no anchor
// remains.
func (c *Chain) Detach(id ID) {
	n, ok := c.table[id]
	if !ok {
		return
	}
	if n.prev != nil {
		n.prev.next = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	}
	if n.insPrev != nil {
		n.insPrev.insNext = n.insNext
	}
	if n.insNext != nil {
		n.insNext.insPrev = n.insPrev
	}
	delete(c.table, id)
}

// Tombstones returns every removed node currently in the chain, in chain
// order, for the document's GC pass to evaluate against the min-synced
// version vector.
func (c *Chain) Tombstones() []*Node {
	var out []*Node
	c.Each(func(n *Node) bool {
		if n.IsRemoved() {
			out = append(out, n)
		}
		return true
	})
	return out
}
