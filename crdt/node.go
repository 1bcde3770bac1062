// Package crdt implements the five replicated data primitives the
// document root is built from: Object, Array, Register/Counter, Text,
// and Tree (spec §3.3, §4.2). Every element is a tagged variant behind
// the Element interface (Type/CreatedAt/RemovedAt/Remove/Value);
// type-specific work such as cloning dispatches with a type switch,
// following the "polymorphic containers" design note of spec §9.
package crdt

import "docengine/logicaltime"

// ElementType tags which CRDT primitive a given Element is.
type ElementType string

const (
	TypeObject   ElementType = "object"
	TypeArray    ElementType = "array"
	TypeRegister ElementType = "register"
	TypeCounter  ElementType = "counter"
	TypeText     ElementType = "text"
	TypeTree     ElementType = "tree"
)

// Element is the common interface every CRDT primitive's root node
// satisfies. createdAt is the element's identity (spec §3.2); an
// element with a non-nil RemovedAt is a tombstone still reachable from
// its parent until GC proves it unreachable.
type Element interface {
	// Type reports which primitive this element is.
	Type() ElementType
	// CreatedAt returns the element's identity ticket.
	CreatedAt() logicaltime.TimeTicket
	// RemovedAt returns the tombstone ticket, or nil if the element is live.
	RemovedAt() *logicaltime.TimeTicket
	// Remove tombstones the element at executedAt, honoring LWW against
	// any earlier removal. Returns true if this call actually changed
	// the element's state.
	Remove(executedAt logicaltime.TimeTicket) bool
	// Value returns a plain Go value (map/slice/string/number/...)
	// suitable for JSON serialization of the current visible state.
	Value() interface{}
}

// base implements the bookkeeping every Element shares: identity,
// optional move timestamp, optional removal timestamp.
type base struct {
	createdAt logicaltime.TimeTicket
	movedAt   *logicaltime.TimeTicket
	removedAt *logicaltime.TimeTicket
}

func newBase(createdAt logicaltime.TimeTicket) base {
	return base{createdAt: createdAt}
}

// CreatedAt implements Element.
func (b *base) CreatedAt() logicaltime.TimeTicket { return b.createdAt }

// RemovedAt implements Element.
func (b *base) RemovedAt() *logicaltime.TimeTicket { return b.removedAt }

// IsRemoved reports whether the element is currently a tombstone.
func (b *base) IsRemoved() bool { return b.removedAt != nil }

// Remove tombstones the element at executedAt unless it is already
// removed by a timestamp that is later (LWW over concurrent removes).
func (b *base) Remove(executedAt logicaltime.TimeTicket) bool {
	if b.removedAt != nil && !executedAt.After(*b.removedAt) {
		return false
	}
	b.removedAt = &executedAt
	return true
}

// CloneElement returns a deep copy of e, dispatching to the concrete
// primitive's own Clone method (spec §4.3 clone root, the polymorphic
// vtable dispatch of spec §9).
func CloneElement(e Element) Element {
	switch v := e.(type) {
	case *Object:
		return v.Clone()
	case *Array:
		return v.Clone()
	case *Register:
		return v.Clone()
	case *Counter:
		return v.Clone()
	case *Text:
		return v.Clone()
	case *Tree:
		return v.Clone()
	case *sentinelElement:
		return &sentinelElement{createdAt: v.createdAt}
	default:
		return e
	}
}

// MovedAt returns the element's last move timestamp, or nil.
func (b *base) MovedAt() *logicaltime.TimeTicket { return b.movedAt }

// Move records executedAt as the element's move timestamp if it
// dominates any prior move (LWW among concurrent moves, spec §4.2 Array).
func (b *base) Move(executedAt logicaltime.TimeTicket) bool {
	if b.movedAt != nil && !executedAt.After(*b.movedAt) {
		return false
	}
	b.movedAt = &executedAt
	return true
}
