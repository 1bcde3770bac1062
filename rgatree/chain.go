package rgatree

import (
	"docengine/logicaltime"

	"github.com/pkg/errors"
)

// Chain is an RGATreeSplit: an ordered chain of split-nodes plus an
// identity → node split table, so an operation can re-address the
// interior of a previously-inserted run after it has been split
// (spec §4.1).
type Chain struct {
	head  *Node // sentinel; never visible, anchors "insert at the start"
	table map[ID]*Node
	// totalLen is the sum of live (non-removed) run lengths, i.e. the
	// number of addressable indices — the IndexTree "size" invariant
	// applied to a flat chain (§4.1).
	totalLen int
}

// NewChain creates an empty chain.
func NewChain() *Chain {
	head := NewNode(ID{}, RuneValue(nil))
	return &Chain{head: head, table: map[ID]*Node{head.id: head}}
}

// Find returns the split-node registered for id, or an error if the
// identity is unknown (the anchor was never created on this replica, or
// has already been spliced out by GC).
func (c *Chain) Find(id ID) (*Node, error) {
	n, ok := c.table[id]
	if !ok {
		return nil, errors.Errorf("rgatree: unknown split id %+v", id)
	}
	return n, nil
}

// register adds n (and, transitively, nothing else — callers add split
// halves individually) to the split table.
func (c *Chain) register(n *Node) {
	c.table[n.id] = n
}

// InsertAfter places a new node carrying value, with identity
// {createdAt, 0}, immediately after the run identified by afterID,
// applying the RGA tie-break from spec §4.2 Array (generalized to
// splits): among siblings already chained after afterID, the new node
// goes before any existing sibling whose CreatedAt is less than
// createdAt's ticket — descending-by-createdAt order among concurrent
// insertions at the same anchor, which is what makes convergence
// deterministic.
func (c *Chain) InsertAfter(afterID ID, createdAt logicaltime.TimeTicket, value Value) (*Node, error) {
	anchor, err := c.Find(afterID)
	if err != nil {
		return nil, err
	}

	// Redelivered insertion: the identity is already chained in.
	if existing, ok := c.table[ID{CreatedAt: createdAt, Offset: 0}]; ok {
		return existing, nil
	}

	newNode := NewNode(ID{CreatedAt: createdAt, Offset: 0}, value)

	insertionParent := anchor
	for insertionParent.insNext != nil && insertionParent.insNext.id.CreatedAt.Compare(createdAt) > 0 {
		insertionParent = insertionParent.insNext
	}

	newNode.insNext = insertionParent.insNext
	if insertionParent.insNext != nil {
		insertionParent.insNext.insPrev = newNode
	}
	insertionParent.insNext = newNode
	newNode.insPrev = insertionParent

	newNode.next = insertionParent.next
	if insertionParent.next != nil {
		insertionParent.next.prev = newNode
	}
	insertionParent.next = newNode
	newNode.prev = insertionParent

	c.register(newNode)
	c.totalLen += newNode.Len()
	return newNode, nil
}

// nodeAt finds the live run containing idx (a live index in the
// flattened chain) and returns it along with the offset of idx within
// it, without splitting anything. One past the last live unit yields a
// nil node and offset 0.
func (c *Chain) nodeAt(idx int) (*Node, int, error) {
	pos := 0
	for n := c.head.next; n != nil; n = n.next {
		if n.IsRemoved() {
			continue
		}
		if idx < pos+n.Len() {
			return n, idx - pos, nil
		}
		pos += n.Len()
	}
	if idx == pos {
		// One-past-the-end is valid for "insert at tail".
		return nil, 0, nil
	}
	return nil, 0, errors.Errorf("rgatree: index %d out of bounds (len=%d)", idx, pos)
}

// SplitAt ensures idx is a run boundary, splitting the containing node
// if necessary, and returns the ID to use as an anchor: the node that
// ends right before idx (the left half after a split), or the chain's
// head when idx==0.
func (c *Chain) SplitAt(idx int) (ID, error) {
	if idx == 0 {
		return c.head.id, nil
	}
	n, offset, err := c.nodeAt(idx)
	if err != nil {
		return ID{}, err
	}
	if n == nil {
		// idx is the tail; anchor on the last live node.
		last := c.lastLiveNode()
		if last == nil {
			return c.head.id, nil
		}
		return last.id, nil
	}
	if offset == 0 {
		return c.prevLiveID(n), nil
	}
	right := n.split(offset)
	right.next = n.next
	if n.next != nil {
		n.next.prev = right
	}
	n.next = right
	right.prev = n
	right.insNext = n.insNext
	if n.insNext != nil {
		n.insNext.insPrev = right
	}
	n.insNext = right
	right.insPrev = n
	c.register(right)
	return n.id, nil
}

func (c *Chain) prevLiveID(n *Node) ID {
	for p := n.prev; p != nil; p = p.prev {
		return p.id
	}
	return c.head.id
}

func (c *Chain) lastLiveNode() *Node {
	var last *Node
	for n := c.head.next; n != nil; n = n.next {
		if !n.IsRemoved() {
			last = n
		}
	}
	return last
}

// RemoveRange tombstones every live unit in [from, to) at executedAt,
// splitting boundary nodes as needed, and returns the set of node IDs
// that were newly removed (for change-record construction).
func (c *Chain) RemoveRange(from, to int, executedAt logicaltime.TimeTicket) ([]ID, error) {
	return c.RemoveRangeWithMax(from, to, nil, executedAt)
}

// RemoveRangeWithMax is RemoveRange gated by a per-actor high-water map:
// a run is only removable if the operation's author had already seen it
// when the operation was generated, i.e. the run's CreatedAt does not
// post-date maxByActor's entry for the run's author. Runs from actors
// absent from a non-nil map are concurrent insertions the deleter never
// saw, so they survive (spec §6.1 maxCreatedAtMapByActor). A nil map
// removes unconditionally, the right behavior for locally generated
// edits where the author by definition sees the whole current range.
func (c *Chain) RemoveRangeWithMax(from, to int, maxByActor map[logicaltime.ActorID]logicaltime.TimeTicket, executedAt logicaltime.TimeTicket) ([]ID, error) {
	if from > to {
		return nil, errors.Errorf("rgatree: invalid range [%d,%d)", from, to)
	}
	if from == to {
		return nil, nil
	}
	// A redelivered removal finds its own ticket already on a tombstone;
	// re-resolving [from, to) against the shrunken chain would reach other
	// runs, so the redelivery is a no-op instead.
	for _, n := range c.table {
		if n.removedAt != nil && n.removedAt.Equal(executedAt) {
			return nil, nil
		}
	}
	fromID, err := c.SplitAt(from)
	if err != nil {
		return nil, err
	}
	_, err = c.SplitAt(to)
	if err != nil {
		return nil, err
	}

	start, err := c.Find(fromID)
	if err != nil {
		return nil, err
	}

	var removed []ID
	pos := from
	for n := start.next; n != nil && pos < to; n = n.next {
		if n.IsRemoved() {
			continue
		}
		l := n.Len()
		pos += l
		if !removableUnder(n, maxByActor) {
			continue
		}
		if n.Remove(executedAt) {
			removed = append(removed, n.id)
			c.totalLen -= l
		}
	}
	return removed, nil
}

func removableUnder(n *Node, maxByActor map[logicaltime.ActorID]logicaltime.TimeTicket) bool {
	if maxByActor == nil {
		return true
	}
	max, ok := maxByActor[n.id.CreatedAt.Actor]
	if !ok {
		return false
	}
	return !n.id.CreatedAt.After(max)
}

// MaxCreatedAtIn reports, per actor, the latest run CreatedAt visible in
// [from, to) right now — the map a locally generated edit records so
// remote replicas can tell which runs the author had actually seen
// (spec §6.1).
func (c *Chain) MaxCreatedAtIn(from, to int) (map[logicaltime.ActorID]logicaltime.TimeTicket, error) {
	if from > to {
		return nil, errors.Errorf("rgatree: invalid range [%d,%d)", from, to)
	}
	out := make(map[logicaltime.ActorID]logicaltime.TimeTicket)
	pos := 0
	for n := c.head.next; n != nil && pos < to; n = n.next {
		if n.IsRemoved() {
			continue
		}
		l := n.Len()
		if pos+l > from {
			actor := n.id.CreatedAt.Actor
			if cur, ok := out[actor]; !ok || n.id.CreatedAt.After(cur) {
				out[actor] = n.id.CreatedAt
			}
		}
		pos += l
	}
	return out, nil
}

// Len returns the number of live addressable units in the chain.
func (c *Chain) Len() int { return c.totalLen }

// Runes concatenates the live content in order. Only meaningful when the
// chain's Value implementation is RuneValue (plain/attributed text).
func (c *Chain) Runes() []rune {
	var out []rune
	for n := c.head.next; n != nil; n = n.next {
		if n.IsRemoved() {
			continue
		}
		if rv, ok := n.Value().(RuneValue); ok {
			out = append(out, rv...)
		}
	}
	return out
}

// Each iterates every node (including tombstones) in chain order.
func (c *Chain) Each(fn func(n *Node) bool) {
	for n := c.head.next; n != nil; n = n.next {
		if !fn(n) {
			return
		}
	}
}

// HeadID returns the identity of the chain's sentinel head, used as the
// "insert at the very start" anchor.
func (c *Chain) HeadID() ID { return c.head.id }

// Clone returns a deep copy of the chain, preserving chain order,
// insertion order, tombstones, and attributes (spec §4.3 clone root).
func (c *Chain) Clone() *Chain {
	out := &Chain{totalLen: c.totalLen, table: make(map[ID]*Node, len(c.table))}
	nodes := make(map[*Node]*Node, len(c.table))
	head := NewNode(c.head.id, c.head.value)
	out.head = head
	nodes[c.head] = head
	out.table[head.id] = head
	for n := c.head.next; n != nil; n = n.next {
		clone := NewNode(n.id, n.value)
		clone.removedAt = n.removedAt
		if n.attrs != nil {
			clone.attrs = n.attrs.Clone()
		}
		nodes[n] = clone
		out.table[clone.id] = clone
	}
	link := func(src *Node) {
		dst := nodes[src]
		if src.prev != nil {
			dst.prev = nodes[src.prev]
		}
		if src.next != nil {
			dst.next = nodes[src.next]
		}
		if src.insPrev != nil {
			dst.insPrev = nodes[src.insPrev]
		}
		if src.insNext != nil {
			dst.insNext = nodes[src.insNext]
		}
	}
	link(c.head)
	for n := c.head.next; n != nil; n = n.next {
		link(n)
	}
	return out
}
