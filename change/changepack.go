package change

import "docengine/logicaltime"

// ChangePack is the wire envelope exchanged between a client and the
// sync transport: either a batch of local changes being pushed, or a
// batch of remote changes (and optionally a full snapshot) being pulled
// (spec §6.2).
type ChangePack struct {
	DocKey    string                  `bson:"docKey" json:"docKey"`
	Checkpoint logicaltime.Checkpoint `bson:"checkpoint" json:"checkpoint"`
	IsRemoved bool                    `bson:"isRemoved" json:"isRemoved"`
	Changes   []*Change               `bson:"changes,omitempty" json:"changes,omitempty"`

	// Snapshot, when present, replaces the document's root wholesale
	// instead of the client replaying Changes from scratch (spec §4.6
	// snapshot install).
	Snapshot []byte `bson:"snapshot,omitempty" json:"snapshot,omitempty"`

	// MinSyncedVersionVector is the lowest version vector acknowledged by
	// every attached client, the GC watermark (spec §4.6, §9 pruning).
	MinSyncedVersionVector *logicaltime.VersionVector `bson:"minSyncedVersionVector,omitempty" json:"minSyncedVersionVector,omitempty"`
}

// NewChangePack constructs an empty pack addressed to docKey at
// checkpoint.
func NewChangePack(docKey string, checkpoint logicaltime.Checkpoint) *ChangePack {
	return &ChangePack{DocKey: docKey, Checkpoint: checkpoint}
}

// HasChanges reports whether the pack carries any changes to apply.
func (p *ChangePack) HasChanges() bool { return len(p.Changes) > 0 }

// HasSnapshot reports whether the pack carries a full snapshot.
func (p *ChangePack) HasSnapshot() bool { return len(p.Snapshot) > 0 }
