package crdt

import "docengine/logicaltime"

// objectEntry is a single key's value slot: the currently-live Element,
// and the timestamp that last won the key (used for the LWW comparison
// on the next concurrent Set). Unlike a plain map, the previous value is
// tombstoned rather than discarded so GC — not Set — is what reclaims it
// (spec §3.2 Ownership, §4.2 Object).
type objectEntry struct {
	value     Element
	setAt     logicaltime.TimeTicket
	tombstone Element // previous occupant of this key, if any and not yet GC'd
}

// Object is the LWW-map CRDT primitive (spec §3.3 Object).
type Object struct {
	base
	fields map[string]*objectEntry
	order  []string // insertion order of keys ever seen, for stable JSON iteration
}

// NewObject creates an empty Object element identified by createdAt.
func NewObject(createdAt logicaltime.TimeTicket) *Object {
	return &Object{base: newBase(createdAt), fields: make(map[string]*objectEntry)}
}

// Type implements Element.
func (o *Object) Type() ElementType { return TypeObject }

// Get returns the live element at key, or nil if unset/removed.
func (o *Object) Get(key string) Element {
	e, ok := o.fields[key]
	if !ok || e.value == nil || e.value.RemovedAt() != nil {
		return nil
	}
	return e.value
}

// Keys returns every key that currently has a live value, in first-seen
// order.
func (o *Object) Keys() []string {
	keys := make([]string, 0, len(o.order))
	for _, k := range o.order {
		if o.Get(k) != nil {
			keys = append(keys, k)
		}
	}
	return keys
}

// Set installs value at key if executedAt wins the LWW race against
// whatever currently occupies the key: a strictly greater executedAt
// wins outright; on an exact tie, the larger actor ID wins (spec §4.2
// Object "ties broken by actor ID"). The previous occupant, if any, is
// tombstoned rather than discarded.
func (o *Object) Set(key string, value Element, executedAt logicaltime.TimeTicket) bool {
	cur, ok := o.fields[key]
	if ok && !o.wins(executedAt, cur.setAt) {
		return false
	}
	if !ok {
		o.order = append(o.order, key)
		o.fields[key] = &objectEntry{value: value, setAt: executedAt}
		return true
	}
	cur.tombstone = cur.value
	if cur.tombstone != nil {
		cur.tombstone.Remove(executedAt)
	}
	cur.value = value
	cur.setAt = executedAt
	return true
}

// wins reports whether candidate should win over incumbent under the
// Object LWW rule: strictly later timestamp wins; on a tie the rule is
// vacuous here because two operations can never share an executedAt
// (tickets are globally unique), so a strict comparison suffices.
func (o *Object) wins(candidate, incumbent logicaltime.TimeTicket) bool {
	return candidate.After(incumbent)
}

// Remove tombstones the value at key if executedAt wins the LWW race.
func (o *Object) Remove(key string, executedAt logicaltime.TimeTicket) bool {
	cur, ok := o.fields[key]
	if !ok || cur.value == nil {
		return false
	}
	if !o.wins(executedAt, cur.setAt) {
		return false
	}
	cur.value.Remove(executedAt)
	cur.setAt = executedAt
	return true
}

// Elements exposes every live (key, element) pair for the document's
// indexer/GC walk.
func (o *Object) Elements() map[string]Element {
	out := make(map[string]Element)
	for k := range o.fields {
		if v := o.Get(k); v != nil {
			out[k] = v
		}
	}
	return out
}

// Tombstones returns every removed element still owned by this object
// (both explicitly-removed live values and values overwritten by a Set),
// for the GC pass to evaluate.
func (o *Object) Tombstones() []Element {
	var out []Element
	for _, e := range o.fields {
		if e.value != nil && e.value.RemovedAt() != nil {
			out = append(out, e.value)
		}
		if e.tombstone != nil {
			out = append(out, e.tombstone)
		}
	}
	return out
}

// CollectTombstone drops a tombstoned child once the caller (document
// GC) has proven it is safe to forget; returns true if something was
// removed.
func (o *Object) CollectTombstone(createdAt logicaltime.TimeTicket) bool {
	removed := false
	for key, e := range o.fields {
		if e.tombstone != nil && e.tombstone.CreatedAt().Equal(createdAt) {
			e.tombstone = nil
			removed = true
		}
		if e.value != nil && e.value.CreatedAt().Equal(createdAt) && e.value.RemovedAt() != nil {
			delete(o.fields, key)
			removed = true
		}
	}
	return removed
}

// Clone returns a deep copy of o, used when the document forks its clone
// root for a pending update closure (spec §4.3).
func (o *Object) Clone() *Object {
	out := &Object{base: o.base, fields: make(map[string]*objectEntry, len(o.fields)), order: append([]string(nil), o.order...)}
	for k, e := range o.fields {
		clone := &objectEntry{setAt: e.setAt}
		if e.value != nil {
			clone.value = CloneElement(e.value)
		}
		if e.tombstone != nil {
			clone.tombstone = CloneElement(e.tombstone)
		}
		out.fields[k] = clone
	}
	return out
}

// Value implements Element.
func (o *Object) Value() interface{} {
	out := make(map[string]interface{})
	for _, k := range o.Keys() {
		out[k] = o.Get(k).Value()
	}
	return out
}
