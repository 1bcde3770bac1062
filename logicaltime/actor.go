// Package logicaltime implements the logical-time machinery shared by every
// CRDT primitive: actor identity, Lamport timestamps, and version vectors.
package logicaltime

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// ActorID identifies a replica within a document. It is a 12-byte value,
// written as a 24-character hex string, assigned by the server on
// activation.
type ActorID [12]byte

// InitialActorID is the sentinel actor used for pre-activation ticks and
// for entries that originate from a snapshot rather than a live peer.
var InitialActorID = ActorID{}

// NewActorID derives an ActorID from a freshly generated UUID, truncating
// to the 12 bytes the hex-encoded wire format expects.
func NewActorID() ActorID {
	id := uuid.New()
	var a ActorID
	copy(a[:], id[:12])
	return a
}

// ParseActorID parses the 24-character hex representation of an ActorID.
func ParseActorID(s string) (ActorID, error) {
	var a ActorID
	b, err := hex.DecodeString(s)
	if err != nil {
		return a, fmt.Errorf("parse actor id %q: %w", s, err)
	}
	if len(b) != len(a) {
		return a, fmt.Errorf("parse actor id %q: want %d bytes, got %d", s, len(a), len(b))
	}
	copy(a[:], b)
	return a, nil
}

// String returns the 24-character hex representation of the actor ID.
func (a ActorID) String() string {
	return hex.EncodeToString(a[:])
}

// Compare orders two actor IDs lexicographically by their byte value.
func (a ActorID) Compare(other ActorID) int {
	for i := range a {
		if a[i] != other[i] {
			if a[i] < other[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// IsInitial reports whether this is the sentinel initial actor.
func (a ActorID) IsInitial() bool {
	return a.Compare(InitialActorID) == 0
}

// MarshalText implements encoding.TextMarshaler, which also lets an
// ActorID serve as a map key in JSON and BSON documents (the per-actor
// high-water maps of spec §6.1 travel that way).
func (a ActorID) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *ActorID) UnmarshalText(text []byte) error {
	parsed, err := ParseActorID(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// MarshalJSON implements json.Marshaler.
func (a ActorID) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (a *ActorID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseActorID(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
