package document

import (
	"docengine/crdt"
	"docengine/logicaltime"
)

// GarbageCollect runs one collection pass against minSyncedVV and
// returns the number of tombstones reclaimed. With GC disabled it
// reclaims nothing and returns 0; tombstones then accumulate until
// detach (spec §4.6).
func (d *Document) GarbageCollect(minSyncedVV *logicaltime.VersionVector) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.disableGC {
		return 0
	}
	return d.garbageCollect(minSyncedVV)
}

// MinSyncedVersionVector returns the GC watermark this replica last
// learned from the server, merged with its own observed changes.
func (d *Document) MinSyncedVersionVector() *logicaltime.VersionVector {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.minSyncedVV.Clone()
}

// garbageCollect walks the live object graph and detaches every
// tombstone whose removal ticket is already covered by minSyncedVV — the
// point past which no attached replica can still send an operation
// addressed to that element (spec §4.6). Returns the number of elements
// collected.
func (d *Document) garbageCollect(minSyncedVV *logicaltime.VersionVector) int {
	collected := 0
	var walk func(e crdt.Element)
	walk = func(e crdt.Element) {
		switch v := e.(type) {
		case *crdt.Object:
			for _, ts := range v.Tombstones() {
				if ts.RemovedAt() != nil && minSyncedVV.AfterOrEqual(*ts.RemovedAt()) {
					if v.CollectTombstone(ts.CreatedAt()) {
						collected++
					}
				}
			}
			for _, child := range v.Elements() {
				walk(child)
			}
		case *crdt.Array:
			for _, ts := range v.Tombstones() {
				if ts.RemovedAt() != nil && minSyncedVV.AfterOrEqual(*ts.RemovedAt()) {
					if v.CollectTombstone(ts.CreatedAt()) {
						collected++
					}
				}
			}
			for _, child := range v.Elements() {
				walk(child)
			}
		case *crdt.Text:
			for _, n := range v.Tombstones() {
				if n.RemovedAt() != nil && minSyncedVV.AfterOrEqual(*n.RemovedAt()) {
					v.CollectTombstone(n.ID())
					collected++
				}
			}
		case *crdt.Tree:
			for _, n := range v.Tombstones() {
				if n.RemovedAt() != nil && minSyncedVV.AfterOrEqual(*n.RemovedAt()) {
					if v.CollectTombstone(n.ID()) {
						collected++
					}
				}
			}
		}
	}
	walk(d.root.Object())
	return collected
}
