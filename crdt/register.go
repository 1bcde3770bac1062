package crdt

import "docengine/logicaltime"

// Primitive is the set of scalar kinds a Register or Counter can hold
// (spec §3.3 Register/Counter).
type Primitive int

const (
	PrimitiveNull Primitive = iota
	PrimitiveBool
	PrimitiveInt
	PrimitiveLong
	PrimitiveDouble
	PrimitiveString
	PrimitiveBytes
	PrimitiveDate
)

// Register is the LWW single-value CRDT primitive (spec §3.3 Register).
type Register struct {
	base
	kind  Primitive
	value interface{}
	setAt logicaltime.TimeTicket
}

// NewRegister creates a Register already holding value, set at createdAt.
func NewRegister(createdAt logicaltime.TimeTicket, kind Primitive, value interface{}) *Register {
	return &Register{base: newBase(createdAt), kind: kind, value: value, setAt: createdAt}
}

// Type implements Element.
func (r *Register) Type() ElementType { return TypeRegister }

// Kind reports the primitive type currently held.
func (r *Register) Kind() Primitive { return r.kind }

// Set overwrites the register's value if executedAt wins the LWW race
// against the current occupant (spec §4.2 Register).
func (r *Register) Set(kind Primitive, value interface{}, executedAt logicaltime.TimeTicket) bool {
	if !executedAt.After(r.setAt) {
		return false
	}
	r.kind = kind
	r.value = value
	r.setAt = executedAt
	return true
}

// Value implements Element.
func (r *Register) Value() interface{} { return r.value }

// Clone returns a deep copy of r.
func (r *Register) Clone() *Register {
	out := *r
	return &out
}

// Counter is the commutative-increment CRDT primitive (spec §3.3
// Counter). Increase is order-independent across distinct operations:
// every replica folds every increment it has seen into the same running
// total, so concurrent increments never conflict. Each increment's
// identity is recorded so folding it is a one-time event — the same
// double-count protection a G-Counter gets from its per-node slots,
// expressed per operation. Set is an LWW overwrite of the running
// total, used to seed or reset the counter.
type Counter struct {
	base
	kind    Primitive // PrimitiveInt, PrimitiveLong, or PrimitiveDouble
	value   float64
	setAt   logicaltime.TimeTicket
	applied map[logicaltime.TimeTicket]struct{}
}

// NewCounter creates a Counter seeded at value.
func NewCounter(createdAt logicaltime.TimeTicket, kind Primitive, value float64) *Counter {
	return &Counter{base: newBase(createdAt), kind: kind, value: value, setAt: createdAt, applied: make(map[logicaltime.TimeTicket]struct{})}
}

// Type implements Element.
func (c *Counter) Type() ElementType { return TypeCounter }

// Kind reports the numeric primitive type this counter carries.
func (c *Counter) Kind() Primitive { return c.kind }

// Increase folds delta into the running total, keyed by the increment's
// executedAt: a redelivered increment is a no-op while distinct
// increments applied in any order converge to the same sum. Returns
// false when executedAt has already been folded in.
func (c *Counter) Increase(delta float64, executedAt logicaltime.TimeTicket) bool {
	if _, ok := c.applied[executedAt]; ok {
		return false
	}
	c.applied[executedAt] = struct{}{}
	c.value += delta
	return true
}

// Set overwrites the counter's running total if executedAt wins the LWW
// race, analogous to Register.Set. Used for resets; increments since the
// last winning Set remain folded in regardless of delivery order.
func (c *Counter) Set(value float64, executedAt logicaltime.TimeTicket) bool {
	if !executedAt.After(c.setAt) {
		return false
	}
	c.value = value
	c.setAt = executedAt
	return true
}

// Value implements Element.
func (c *Counter) Value() interface{} {
	if c.kind == PrimitiveInt {
		return int64(c.value)
	}
	return c.value
}

// Clone returns a deep copy of c.
func (c *Counter) Clone() *Counter {
	out := *c
	out.applied = make(map[logicaltime.TimeTicket]struct{}, len(c.applied))
	for ticket := range c.applied {
		out.applied[ticket] = struct{}{}
	}
	return &out
}
