package crdt

import (
	"fmt"

	"docengine/logicaltime"

	"github.com/pkg/errors"
)

// Root is the document's object graph: a single top-level Object plus a
// flat index from every live or tombstoned element's identity to the
// element itself, so operations addressed by createdAt (rather than by
// walking from the document root) resolve in constant time (spec §3.2,
// §4.3).
type Root struct {
	object  *Object
	index   map[logicaltime.TimeTicket]Element
	removed map[logicaltime.TimeTicket]Element // tombstoned, not yet GC'd
}

// NewRoot creates a Root whose top-level Object is empty.
func NewRoot(createdAt logicaltime.TimeTicket) *Root {
	obj := NewObject(createdAt)
	r := &Root{object: obj, index: make(map[logicaltime.TimeTicket]Element), removed: make(map[logicaltime.TimeTicket]Element)}
	r.index[createdAt] = obj
	return r
}

// Object returns the top-level Object every document path resolves
// against.
func (r *Root) Object() *Object { return r.object }

// NewRootFromObject wraps an already-built Object (typically decoded
// from a snapshot) in a Root, reindexing every live descendant so
// createdAt lookups resolve immediately.
func NewRootFromObject(obj *Object) *Root {
	r := &Root{object: obj, index: make(map[logicaltime.TimeTicket]Element), removed: make(map[logicaltime.TimeTicket]Element)}
	reindex(obj, r.index)
	return r
}

// RegisterElement adds a freshly-created element to the lookup index so
// later operations can address it by createdAt alone.
func (r *Root) RegisterElement(e Element) {
	r.index[e.CreatedAt()] = e
}

// FindByCreatedAt resolves an element by its identity ticket, searching
// both live and tombstoned elements (operations against a concurrently
// removed element must still find it to apply causally, spec §4.2).
func (r *Root) FindByCreatedAt(id logicaltime.TimeTicket) (Element, error) {
	if e, ok := r.index[id]; ok {
		return e, nil
	}
	if e, ok := r.removed[id]; ok {
		return e, nil
	}
	return nil, errors.Errorf("root: unknown element %s", id)
}

// DeregisterAndTombstone moves e from the live index into the removed
// set, keeping it reachable for causal operations until GC proves no
// replica still references it.
func (r *Root) DeregisterAndTombstone(e Element) {
	delete(r.index, e.CreatedAt())
	r.removed[e.CreatedAt()] = e
}

// Forget drops e from the removed set once the document's GC pass has
// proven every replica has already absorbed its removal (spec §4.6).
func (r *Root) Forget(id logicaltime.TimeTicket) {
	delete(r.removed, id)
}

// Tombstones returns every element awaiting garbage collection.
func (r *Root) Tombstones() map[logicaltime.TimeTicket]Element {
	return r.removed
}

// DeepCopy returns an independent copy of the entire object graph, the
// substrate of the document's update-closure semantics: a local change
// is built and applied against a clone, and only committed to the live
// root once the closure returns without error (spec §4.3). Every CRDT
// primitive implements its own Clone because the graph's identity,
// tombstone, and ordering metadata live in unexported fields that a
// reflection-based copy cannot reach safely.
func (r *Root) DeepCopy() *Root {
	out := &Root{
		object:  r.object.Clone(),
		index:   make(map[logicaltime.TimeTicket]Element, len(r.index)),
		removed: make(map[logicaltime.TimeTicket]Element, len(r.removed)),
	}
	reindex(out.object, out.index)
	for id, e := range r.removed {
		out.removed[id] = CloneElement(e)
	}
	return out
}

// PathOf renders the document path of the element identified by id
// ("$", "$.todos", "$.todos[0].title", ...), or ("", false) when the
// element is not reachable from the live root. Used to label change
// events for path-filtered subscriptions (spec §4.3).
func (r *Root) PathOf(id logicaltime.TimeTicket) (string, bool) {
	if id.Equal(r.object.CreatedAt()) {
		return "$", true
	}
	return pathOf(r.object, "$", id)
}

func pathOf(e Element, prefix string, id logicaltime.TimeTicket) (string, bool) {
	switch v := e.(type) {
	case *Object:
		for _, k := range v.Keys() {
			child := v.Get(k)
			childPath := prefix + "." + k
			if child.CreatedAt().Equal(id) {
				return childPath, true
			}
			if p, ok := pathOf(child, childPath, id); ok {
				return p, true
			}
		}
	case *Array:
		for i, child := range v.Elements() {
			childPath := fmt.Sprintf("%s[%d]", prefix, i)
			if child.CreatedAt().Equal(id) {
				return childPath, true
			}
			if p, ok := pathOf(child, childPath, id); ok {
				return p, true
			}
		}
	}
	return "", false
}

// reindex walks a cloned subtree and rebuilds the flat createdAt index,
// mirroring whatever walk the document performs when it first builds a
// Root from a snapshot.
func reindex(e Element, index map[logicaltime.TimeTicket]Element) {
	index[e.CreatedAt()] = e
	switch v := e.(type) {
	case *Object:
		for _, child := range v.fields {
			if child.value != nil {
				reindex(child.value, index)
			}
		}
	case *Array:
		for c := v.head.next; c != nil; c = c.next {
			reindex(c.elem, index)
		}
	}
}
