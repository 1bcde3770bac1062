package logicaltime

import "encoding/json"

// VersionVector maps an actor to the highest Lamport timestamp this
// replica has observed from it. The zero value is the empty vector
// (every actor implicitly maps to 0).
type VersionVector struct {
	entries map[ActorID]uint64
}

// NewVersionVector creates an empty version vector.
func NewVersionVector() *VersionVector {
	return &VersionVector{entries: make(map[ActorID]uint64)}
}

// Set records actor's lamport in the vector, overwriting any prior value.
// Used when explicitly recording a snapshot's "highest absorbed" lamport
// for the initial actor (§3.1).
func (v *VersionVector) Set(actor ActorID, lamport uint64) {
	v.entries[actor] = lamport
}

// Get returns the lamport recorded for actor, or 0 if the vector has
// never observed it.
func (v *VersionVector) Get(actor ActorID) uint64 {
	return v.entries[actor]
}

// Bump records lamport for actor only if it exceeds the value already
// stored, keeping the vector monotone per actor.
func (v *VersionVector) Bump(actor ActorID, lamport uint64) {
	if lamport > v.entries[actor] {
		v.entries[actor] = lamport
	}
}

// Size returns the number of actors tracked.
func (v *VersionVector) Size() int {
	return len(v.entries)
}

// AfterOrEqual reports whether this vector has observed everything up to
// and including ticket — i.e. Get(ticket.Actor) >= ticket.Lamport. This is
// the GC predicate of §4.6.
func (v *VersionVector) AfterOrEqual(ticket TimeTicket) bool {
	return v.Get(ticket.Actor) >= ticket.Lamport
}

// Max returns the pointwise maximum of v and other as a new vector.
func (v *VersionVector) Max(other *VersionVector) *VersionVector {
	out := NewVersionVector()
	for a, l := range v.entries {
		out.entries[a] = l
	}
	for a, l := range other.entries {
		if l > out.entries[a] {
			out.entries[a] = l
		}
	}
	return out
}

// Min returns the pointwise minimum of v and other as a new vector. An
// actor missing from either side contributes 0 to the minimum, matching
// the "every live peer has observed" semantics the GC watermark needs.
func (v *VersionVector) Min(other *VersionVector) *VersionVector {
	out := NewVersionVector()
	seen := make(map[ActorID]bool, len(v.entries)+len(other.entries))
	for a := range v.entries {
		seen[a] = true
	}
	for a := range other.entries {
		seen[a] = true
	}
	for a := range seen {
		l := v.Get(a)
		if o := other.Get(a); o < l {
			l = o
		}
		out.entries[a] = l
	}
	return out
}

// Clone returns an independent copy of the vector.
func (v *VersionVector) Clone() *VersionVector {
	out := NewVersionVector()
	for a, l := range v.entries {
		out.entries[a] = l
	}
	return out
}

// Each calls fn once per (actor, lamport) pair. Iteration order is
// unspecified.
func (v *VersionVector) Each(fn func(actor ActorID, lamport uint64)) {
	for a, l := range v.entries {
		fn(a, l)
	}
}

// Prune removes actors the caller (typically the document, acting on a
// server-reported deactivation list) judges retired, folding their
// contribution into the sentinel initial actor so GC correctness survives
// the vector shrinking (§9 "Version-vector pruning").
func (v *VersionVector) Prune(retired []ActorID) {
	var folded uint64
	for _, a := range retired {
		if l, ok := v.entries[a]; ok {
			if l > folded {
				folded = l
			}
			delete(v.entries, a)
		}
	}
	v.Bump(InitialActorID, folded)
}

// MarshalEntries returns a copy of the underlying map, suitable for JSON
// encoding in a ChangePack.
func (v *VersionVector) MarshalEntries() map[string]uint64 {
	out := make(map[string]uint64, len(v.entries))
	for a, l := range v.entries {
		out[a.String()] = l
	}
	return out
}

// UnmarshalEntries replaces the vector's contents from a wire map.
func (v *VersionVector) UnmarshalEntries(m map[string]uint64) error {
	v.entries = make(map[ActorID]uint64, len(m))
	for s, l := range m {
		a, err := ParseActorID(s)
		if err != nil {
			return err
		}
		v.entries[a] = l
	}
	return nil
}

// MarshalJSON implements json.Marshaler; the vector travels as a plain
// actor-hex → lamport map.
func (v *VersionVector) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.MarshalEntries())
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *VersionVector) UnmarshalJSON(data []byte) error {
	var m map[string]uint64
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	return v.UnmarshalEntries(m)
}
