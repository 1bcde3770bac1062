package logicaltime

import "fmt"

// TimeTicket is a Lamport timestamp scoped to an actor, with a delimiter
// that tie-breaks multiple operations sharing the same (lamport, actor)
// pair within one change.
type TimeTicket struct {
	Lamport   uint64  `json:"lamport"`
	Delimiter uint32  `json:"delimiter"`
	Actor     ActorID `json:"actor"`
}

// InitialTimeTicket is strictly less than any ticket a real operation can
// carry; it anchors RGA chains (e.g. "insert after HEAD").
var InitialTimeTicket = TimeTicket{Lamport: 0, Delimiter: 0, Actor: InitialActorID}

// MaxTimeTicket is strictly greater than any ticket a real operation can
// carry; it is used as an open upper bound when scanning ranges.
var MaxTimeTicket = TimeTicket{Lamport: ^uint64(0), Delimiter: ^uint32(0), Actor: ActorID{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}}

// NewTimeTicket constructs a ticket from its three components.
func NewTimeTicket(lamport uint64, delimiter uint32, actor ActorID) TimeTicket {
	return TimeTicket{Lamport: lamport, Delimiter: delimiter, Actor: actor}
}

// Compare orders tickets by (lamport, actor, delimiter), which is the
// total order §3.1 requires.
func (t TimeTicket) Compare(other TimeTicket) int {
	if t.Lamport != other.Lamport {
		if t.Lamport < other.Lamport {
			return -1
		}
		return 1
	}
	if c := t.Actor.Compare(other.Actor); c != 0 {
		return c
	}
	if t.Delimiter != other.Delimiter {
		if t.Delimiter < other.Delimiter {
			return -1
		}
		return 1
	}
	return 0
}

// After reports whether t happens strictly after other in the total order.
func (t TimeTicket) After(other TimeTicket) bool {
	return t.Compare(other) > 0
}

// Equal reports whether t and other identify the same operation.
func (t TimeTicket) Equal(other TimeTicket) bool {
	return t.Compare(other) == 0
}

// SetDelimiter returns a copy of t with the delimiter replaced; used to
// mint sibling tickets within the same change without bumping the clock.
func (t TimeTicket) SetDelimiter(d uint32) TimeTicket {
	t.Delimiter = d
	return t
}

// String renders the ticket in "lamport:delimiter:actor" form, the same
// shape the teacher's LogicalTimestamp.String used for debugging.
func (t TimeTicket) String() string {
	return fmt.Sprintf("%d:%d:%s", t.Lamport, t.Delimiter, t.Actor)
}
