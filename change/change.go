package change

import (
	"docengine/crdt"
	"docengine/logicaltime"
)

// Change is one causally-ordered unit of work: a batch of operations
// authored together by a single Update closure call, plus the ID that
// places it in the document's history (spec §3.4, §4.3).
type Change struct {
	ID         logicaltime.ChangeID `bson:"id" json:"id"`
	Operations []Operation          `bson:"operations" json:"operations"`
	Message    string               `bson:"message,omitempty" json:"message,omitempty"`
	// PresenceChange carries an optional delta to the author's presence
	// payload (spec §3.4); nil when the change carries no presence update.
	PresenceChange map[string]interface{} `bson:"presenceChange,omitempty" json:"presenceChange,omitempty"`
}

// NewChange constructs a Change with the given id and operations.
func NewChange(id logicaltime.ChangeID, ops []Operation) *Change {
	return &Change{ID: id, Operations: ops}
}

// Apply runs every operation in order against root and stops at the
// first one that fails, returning its error; operations before it stay
// applied. The caller decides whether to abort or skip, since
// remote changes must still advance the document's checkpoint even if
// one operation turns out to target an already-collected element (spec
// §8 "idempotent remote apply").
func (c *Change) Apply(root *crdt.Root) error {
	for _, op := range c.Operations {
		if err := op.Apply(root); err != nil {
			return err
		}
	}
	return nil
}

// ApplyTolerant runs every operation in order, skipping (rather than
// failing on) operations whose target no longer resolves — a concurrent
// remove may have tombstoned or collected it since the operation was
// authored, which turns the operation into a no-op, not an error (spec
// §4.3 step 4). Returns the number of operations that applied.
func (c *Change) ApplyTolerant(root *crdt.Root) int {
	applied := 0
	for _, op := range c.Operations {
		if err := op.Apply(root); err != nil {
			continue
		}
		applied++
	}
	return applied
}

// ActorID returns the change's author.
func (c *Change) ActorID() logicaltime.ActorID { return c.ID.Actor }

// ServerSeq is attached once the server assigns a position to this
// change in the document's log; zero until then.
type ServerSeq int64
