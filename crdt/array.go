package crdt

import (
	"docengine/logicaltime"

	"github.com/pkg/errors"
)

// HeadID is the sentinel "createdAt" used to anchor insertions at the
// very front of an Array (spec §4.2 Array "prev: TimeTicket | HEAD").
var HeadID = logicaltime.InitialTimeTicket

type arrayNode struct {
	elem Element
	// positionedAfter is the identity of the element this one was
	// inserted immediately after. It is preserved even once elem is
	// tombstoned so concurrent inserts anchored here still have
	// somewhere to attach (spec §3.3 Array).
	positionedAfter logicaltime.TimeTicket
	prev, next      *arrayNode // chain order (RGA visible order)
	insPrev, insNext *arrayNode // insertion-order chain off the same anchor
}

// Array is the RGA-ordered sequence CRDT primitive (spec §3.3, §4.2).
type Array struct {
	base
	head  *arrayNode
	index map[logicaltime.TimeTicket]*arrayNode
}

// NewArray creates an empty Array element.
func NewArray(createdAt logicaltime.TimeTicket) *Array {
	head := &arrayNode{elem: nil}
	head.elem = &sentinelElement{createdAt: HeadID}
	return &Array{base: newBase(createdAt), head: head, index: map[logicaltime.TimeTicket]*arrayNode{HeadID: head}}
}

// sentinelElement lets the HEAD anchor satisfy the Element interface
// without representing real document content.
type sentinelElement struct{ createdAt logicaltime.TimeTicket }

func (s *sentinelElement) Type() ElementType                        { return "" }
func (s *sentinelElement) CreatedAt() logicaltime.TimeTicket        { return s.createdAt }
func (s *sentinelElement) RemovedAt() *logicaltime.TimeTicket       { return nil }
func (s *sentinelElement) Remove(logicaltime.TimeTicket) bool       { return false }
func (s *sentinelElement) Value() interface{}                       { return nil }

// InsertAfter places value immediately after the element identified by
// afterID (or HeadID), breaking ties among concurrent insertions at the
// same anchor by descending CreatedAt (spec §4.2 Array RGA tie-break).
func (a *Array) InsertAfter(afterID logicaltime.TimeTicket, value Element, executedAt logicaltime.TimeTicket) error {
	anchor, ok := a.index[afterID]
	if !ok {
		return errors.Errorf("array: unknown anchor %s", afterID)
	}

	// Redelivered insertion: the identity is already chained in.
	if _, ok := a.index[value.CreatedAt()]; ok {
		return nil
	}

	n := &arrayNode{elem: value, positionedAfter: afterID}

	insParent := anchor
	for insParent.insNext != nil && insParent.insNext.elem.CreatedAt().Compare(executedAt) > 0 {
		insParent = insParent.insNext
	}

	n.insNext = insParent.insNext
	if insParent.insNext != nil {
		insParent.insNext.insPrev = n
	}
	insParent.insNext = n
	n.insPrev = insParent

	n.next = insParent.next
	if insParent.next != nil {
		insParent.next.prev = n
	}
	insParent.next = n
	n.prev = insParent

	a.index[value.CreatedAt()] = n
	return nil
}

// movable is satisfied by any Element whose position can be contested by
// concurrent moves (every primitive embeds base, which implements this).
type movable interface {
	Move(executedAt logicaltime.TimeTicket) bool
}

// MoveAfter updates target's position, LWW among concurrent moves (spec
// §4.2 Array moveAfter). The node is spliced to just after newPrev in
// the chain-order list; its insertion-order slot is left alone since
// Move is about display position, not RGA placement precedence.
func (a *Array) MoveAfter(target, newPrev logicaltime.TimeTicket, executedAt logicaltime.TimeTicket) error {
	n, ok := a.index[target]
	if !ok {
		return errors.Errorf("array: unknown target %s", target)
	}
	m, ok := n.elem.(movable)
	if !ok {
		return errors.Errorf("array: element %s cannot be moved", target)
	}
	if !m.Move(executedAt) {
		return nil
	}
	dest, ok := a.index[newPrev]
	if !ok {
		return errors.Errorf("array: unknown destination anchor %s", newPrev)
	}

	if n.prev != nil {
		n.prev.next = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	}

	n.next = dest.next
	if dest.next != nil {
		dest.next.prev = n
	}
	dest.next = n
	n.prev = dest

	return nil
}

// Remove tombstones the element identified by target.
func (a *Array) Remove(target logicaltime.TimeTicket, executedAt logicaltime.TimeTicket) error {
	n, ok := a.index[target]
	if !ok {
		return errors.Errorf("array: unknown target %s", target)
	}
	n.elem.Remove(executedAt)
	return nil
}

// Len returns the number of live (non-tombstoned) elements.
func (a *Array) Len() int {
	n := 0
	for c := a.head.next; c != nil; c = c.next {
		if c.elem.RemovedAt() == nil {
			n++
		}
	}
	return n
}

// At returns the live element at visible index i.
func (a *Array) At(i int) (Element, error) {
	idx := 0
	for c := a.head.next; c != nil; c = c.next {
		if c.elem.RemovedAt() != nil {
			continue
		}
		if idx == i {
			return c.elem, nil
		}
		idx++
	}
	return nil, errors.Errorf("array: index %d out of bounds", i)
}

// Elements returns every live element in visible order.
func (a *Array) Elements() []Element {
	var out []Element
	for c := a.head.next; c != nil; c = c.next {
		if c.elem.RemovedAt() == nil {
			out = append(out, c.elem)
		}
	}
	return out
}

// Tombstones returns every removed element still linked into the array.
func (a *Array) Tombstones() []Element {
	var out []Element
	for c := a.head.next; c != nil; c = c.next {
		if c.elem.RemovedAt() != nil {
			out = append(out, c.elem)
		}
	}
	return out
}

// CollectTombstone detaches the node identified by createdAt from both
// the chain-order and insertion-order lists, rewiring neighbors so no
// live node loses its anchor (same strategy as rgatree.Chain.Detach,
// spec §4.6 invariant 1).
func (a *Array) CollectTombstone(createdAt logicaltime.TimeTicket) bool {
	n, ok := a.index[createdAt]
	if !ok || n.elem.RemovedAt() == nil {
		return false
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
	delete(a.index, createdAt)
	return true
}

// Clone returns a deep copy of a, preserving chain order, insertion
// order, and every tombstone (spec §4.3 clone root).
func (a *Array) Clone() *Array {
	out := &Array{base: a.base, index: make(map[logicaltime.TimeTicket]*arrayNode, len(a.index))}
	nodes := make(map[*arrayNode]*arrayNode, len(a.index))
	head := &arrayNode{elem: CloneElement(a.head.elem)}
	out.head = head
	nodes[a.head] = head
	out.index[HeadID] = head
	for c := a.head.next; c != nil; c = c.next {
		n := &arrayNode{elem: CloneElement(c.elem), positionedAfter: c.positionedAfter}
		nodes[c] = n
		out.index[c.elem.CreatedAt()] = n
	}
	link := func(src *arrayNode) {
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
	link(a.head)
	for c := a.head.next; c != nil; c = c.next {
		link(c)
	}
	return out
}

// Type implements Element.
func (a *Array) Type() ElementType { return TypeArray }

// Value implements Element.
func (a *Array) Value() interface{} {
	out := make([]interface{}, 0, a.Len())
	for _, e := range a.Elements() {
		out = append(out, e.Value())
	}
	return out
}
