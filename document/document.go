// Package document implements the client-side replica: a CRDT root plus
// the state machine (Detached/Attached/Removed), the local update
// closure, and the logic for folding a remote ChangePack into the root
// (spec §4.3).
package document

import (
	"sync"

	"docengine/change"
	"docengine/crdt"
	"docengine/logicaltime"
	"docengine/proxy"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Status is the document's attachment state.
type Status int

const (
	StatusDetached Status = iota
	StatusAttached
	StatusRemoved
)

// String implements fmt.Stringer.
func (s Status) String() string {
	switch s {
	case StatusDetached:
		return "detached"
	case StatusAttached:
		return "attached"
	case StatusRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// UpdateFunc is the callback passed to Update; it mutates the document
// through tx and returns an error to abort the whole update.
type UpdateFunc func(tx *proxy.Transaction) error

// SnapshotDecoder decodes a wire-format document snapshot into a fresh
// root and the version vector that accompanied it. Document depends on
// this as an injected function rather than importing the wire codec
// directly, so the core stays agnostic of the wire format (spec §4.3
// step 2 snapshot install; the codec itself lives in transport/codec and
// is wired in by the client, see client.Client.Attach).
type SnapshotDecoder func([]byte) (*crdt.Root, *logicaltime.VersionVector, error)

// Document is one client-side replica of a collaborative document.
type Document struct {
	mu sync.Mutex

	key    string
	status Status
	actor  logicaltime.ActorID

	root *crdt.Root

	lamport    uint64
	checkpoint logicaltime.Checkpoint

	// localChanges are changes this replica has produced but the server
	// has not yet acknowledged in a checkpoint (spec §4.3 step "keep
	// until acked").
	localChanges []*change.Change

	minSyncedVV *logicaltime.VersionVector
	disableGC   bool

	events chan Event
	subs   *subscriberSet
	logger *zap.Logger

	decodeSnapshot SnapshotDecoder
	validateSchema SchemaValidator
}

// SchemaValidator checks an update closure's resulting root value
// against the document's schema rules. A non-nil error aborts the update
// as a SchemaValidationError (spec §7): the closure's clone is discarded
// and the live root stays unchanged.
type SchemaValidator func(rootValue interface{}) error

// Option configures a new Document.
type Option func(*Document)

// WithDisableGC turns off garbage collection for this replica, e.g. for
// tests that want to inspect tombstones directly.
func WithDisableGC() Option {
	return func(d *Document) { d.disableGC = true }
}

// WithLogger overrides the document's structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *Document) { d.logger = l }
}

// WithSchemaValidator wires the rule set an update closure's result is
// checked against before it commits (spec §4.3 "schema hook"). The
// validator sees the clone root's plain value; returning an error turns
// the whole update into a SchemaValidationError with no state change.
func WithSchemaValidator(v SchemaValidator) Option {
	return func(d *Document) { d.validateSchema = v }
}

// WithSnapshotDecoder wires the function used to install a pack's
// snapshot bytes, when one is present (spec §4.6, §6.2). Without it, a
// ChangePack carrying a snapshot is rejected rather than silently
// ignored, since installing a partial view would violate convergence.
func WithSnapshotDecoder(dec SnapshotDecoder) Option {
	return func(d *Document) { d.decodeSnapshot = dec }
}

// New creates a Detached document identified by key, authored by actor.
func New(key string, actor logicaltime.ActorID, opts ...Option) *Document {
	d := &Document{
		key:         key,
		status:      StatusDetached,
		actor:       actor,
		root:        crdt.NewRoot(logicaltime.InitialTimeTicket),
		checkpoint:  logicaltime.InitialCheckpoint,
		minSyncedVV: logicaltime.NewVersionVector(),
		events:      make(chan Event, 64),
		subs:        newSubscriberSet(),
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Key returns the document's key.
func (d *Document) Key() string { return d.key }

// Status returns the document's current attachment state.
func (d *Document) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

// Checkpoint returns the document's current checkpoint.
func (d *Document) Checkpoint() logicaltime.Checkpoint {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.checkpoint
}

// Events returns the channel event subscribers should drain (spec §6.3).
func (d *Document) Events() <-chan Event { return d.events }

// Emit publishes evt to the document's event channel. The sync engine
// uses this to report sync-status and stream-connection transitions,
// which originate outside the document package (spec §6.3, §7).
func (d *Document) Emit(evt Event) {
	d.emit(evt)
}

func (d *Document) emit(evt Event) {
	select {
	case d.events <- evt:
	default:
		d.logger.Warn("event channel full, dropping event", zap.String("type", string(evt.Type)))
	}
	d.subs.publish(evt)
}

// opPaths resolves the document paths the given operations touch, for
// labeling the change event they ride on. Must be called with d.mu held
// (it reads the live root).
func (d *Document) opPaths(ops []change.Operation) []string {
	var out []string
	seen := make(map[string]bool)
	for _, op := range ops {
		p, ok := d.root.PathOf(change.TargetOf(op))
		if !ok || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

// SetStatus transitions the document's attachment state, emitting
// EventDocumentStatusChanged. Valid transitions: Detached->Attached,
// Attached->Detached, Attached->Removed (spec §4.3 state machine).
func (d *Document) SetStatus(status Status) {
	d.mu.Lock()
	d.status = status
	d.mu.Unlock()
	d.emit(Event{Type: EventDocumentStatusChanged, Value: status})
}

// RootValue returns a plain Go value snapshot of the current document
// content, suitable for JSON encoding or display.
func (d *Document) RootValue() interface{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.root.Object().Value()
}

// nextTicket mints a fresh local TimeTicket, advancing the Lamport
// clock. Must be called with d.mu held.
func (d *Document) nextTicket() logicaltime.TimeTicket {
	d.lamport++
	return logicaltime.NewTimeTicket(d.lamport, 0, d.actor)
}

// Update runs fn against a cloned root and, if fn succeeds and produced
// at least one operation, commits the clone as the new live root and
// records a local Change (spec §4.3). fn's operations are applied to
// the clone immediately as they're recorded, so fn can read back its own
// writes through the same proxy handles.
func (d *Document) Update(message string, fn UpdateFunc) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.status == StatusRemoved {
		return errors.Wrapf(ErrDocumentRemoved, "document: update %q", d.key)
	}

	clone := d.root.DeepCopy()
	tx := proxy.NewTransaction(clone, d.nextTicket)

	if err := fn(tx); err != nil {
		return errors.Wrap(err, "document: update closure failed")
	}

	ops := tx.Operations()
	if len(ops) == 0 {
		return nil
	}

	if d.validateSchema != nil {
		if err := d.validateSchema(clone.Object().Value()); err != nil {
			return &SchemaValidationError{Message: err.Error()}
		}
	}

	id := logicaltime.NewChangeID(d.checkpoint.NextClientSeq(), d.lamport, d.actor, d.versionVectorLocked())
	id.VersionVector.Bump(d.actor, d.lamport)
	ch := change.NewChange(id, ops)
	ch.Message = message

	d.root = clone
	d.checkpoint.ClientSeq = id.ClientSeq
	d.localChanges = append(d.localChanges, ch)

	d.emit(Event{Type: EventLocalChange, Value: ch, Paths: d.opPaths(ops)})
	return nil
}

// versionVectorLocked derives the version vector to stamp a new local
// change with: the high-water mark this replica has observed, folding in
// every locally-produced change not yet acknowledged.
func (d *Document) versionVectorLocked() *logicaltime.VersionVector {
	vv := d.minSyncedVV.Clone()
	for _, ch := range d.localChanges {
		vv.Bump(ch.ActorID(), ch.ID.Lamport)
	}
	return vv
}

// PendingChanges returns every local change the server has not yet
// acknowledged, for the sync engine to push.
func (d *Document) PendingChanges() []*change.Change {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*change.Change, len(d.localChanges))
	copy(out, d.localChanges)
	return out
}

// ApplyChangePack folds a remote ChangePack into the live root. If the
// pack carries a snapshot, it is installed first via decodeSnapshot
// (wired in by the caller, see WithSnapshotDecoder) and the version
// vector's "highest absorbed" sentinel entry folds into the local clock;
// then each remaining change in the pack is applied in order, the
// checkpoint advances, any now-acknowledged local changes are dropped,
// and (unless GC is disabled) tombstones proven unreachable by
// minSyncedVersionVector are collected (spec §4.3 steps 1-5, §4.6).
func (d *Document) ApplyChangePack(pack *change.ChangePack) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if pack.HasSnapshot() {
		if d.decodeSnapshot == nil {
			return errors.Errorf("document: %q received a snapshot but has no snapshot decoder configured", d.key)
		}
		root, vv, err := d.decodeSnapshot(pack.Snapshot)
		if err != nil {
			return errors.Wrapf(err, "document: install snapshot for %q", d.key)
		}
		d.root = root
		if vv != nil {
			d.minSyncedVV = d.minSyncedVV.Max(vv)
			if absorbed := vv.Get(logicaltime.InitialActorID); absorbed > d.lamport {
				d.lamport = absorbed
			}
		}
		d.logger.Info("installed snapshot", zap.String("docKey", d.key))
	}

	applied := 0
	var touched []change.Operation
	for _, ch := range pack.Changes {
		touched = append(touched, ch.Operations...)
		if n := ch.ApplyTolerant(d.root); n < len(ch.Operations) {
			d.logger.Debug("remote change had no-op operations",
				zap.String("docKey", d.key), zap.Int("applied", n), zap.Int("total", len(ch.Operations)))
		}
		if ch.ID.Lamport > d.lamport {
			d.lamport = ch.ID.Lamport
		}
		d.minSyncedVV.Bump(ch.ActorID(), ch.ID.Lamport)
		applied++
	}

	d.checkpoint = d.checkpoint.Forward(pack.Checkpoint)
	d.pruneAckedLocked(pack.Checkpoint.ClientSeq)

	if pack.MinSyncedVersionVector != nil {
		d.minSyncedVV = d.minSyncedVV.Max(pack.MinSyncedVersionVector)
	}
	if !d.disableGC {
		d.garbageCollect(d.minSyncedVV)
	}

	if applied > 0 {
		d.emit(Event{Type: EventRemoteChange, Value: pack, Paths: d.opPaths(touched)})
	}
	if pack.IsRemoved && d.status != StatusRemoved {
		d.status = StatusRemoved
		d.emit(Event{Type: EventDocumentStatusChanged, Value: StatusRemoved})
	}
	return nil
}

// pruneAckedLocked drops every local change whose ClientSeq the server
// has now folded into checkpoint, i.e. it has been durably accepted and
// need not be pushed again (spec §8 "no duplicate push").
func (d *Document) pruneAckedLocked(ackedClientSeq uint32) {
	kept := d.localChanges[:0]
	for _, ch := range d.localChanges {
		if ch.ID.ClientSeq > ackedClientSeq {
			kept = append(kept, ch)
		}
	}
	d.localChanges = kept
}

// ReplaceRoot installs root as the document's live state and vv as the
// floor every subsequent GC pass measures against — the effect of
// pulling a snapshot ChangePack once transport/codec has decoded its
// bytes (spec §4.6 snapshot install).
func (d *Document) ReplaceRoot(root *crdt.Root, vv *logicaltime.VersionVector) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.root = root
	if vv != nil {
		d.minSyncedVV = vv.Clone()
	}
}
