package crdt

import (
	"docengine/logicaltime"
	"docengine/rgatree"

	"github.com/pkg/errors"
)

// TreeNode is a single node of the Tree CRDT: either an element node
// (identified by a tag and carrying attributes and children) or a text
// leaf (a rune run, reusing rgatree's split identity so concurrent edits
// inside the same run can be re-addressed after a split, same as Text)
// (spec §3.3 Tree, §4.1 IndexTree).
type TreeNode struct {
	id        rgatree.ID
	tag       string // element tag; empty for text nodes
	text      rgatree.RuneValue
	attrs     *rgatree.AttrSet
	removedAt *logicaltime.TimeTicket
	parent    *TreeNode
	children  []*TreeNode
}

// IsText reports whether n is a text leaf rather than an element node.
func (n *TreeNode) IsText() bool { return n.tag == "" }

// ID returns the node's split identity.
func (n *TreeNode) ID() rgatree.ID { return n.id }

// IsRemoved reports whether the node is tombstoned.
func (n *TreeNode) IsRemoved() bool { return n.removedAt != nil }

// RemovedAt returns the tombstone timestamp, or nil if the node is live.
func (n *TreeNode) RemovedAt() *logicaltime.TimeTicket { return n.removedAt }

// Remove tombstones n at executedAt, honoring LWW against a prior removal.
func (n *TreeNode) Remove(executedAt logicaltime.TimeTicket) bool {
	if n.removedAt != nil && !executedAt.After(*n.removedAt) {
		return false
	}
	n.removedAt = &executedAt
	return true
}

// Len is the IndexTree "size" of n: a text leaf contributes its rune
// count; an element node contributes 2 (its open and close tag) plus the
// size of every live child (spec §4.1 IndexTree size invariant).
func (n *TreeNode) Len() int {
	if n.IsText() {
		if n.IsRemoved() {
			return 0
		}
		return len(n.text)
	}
	total := 2
	for _, c := range n.children {
		if !c.IsRemoved() {
			total += c.Len()
		}
	}
	return total
}

// Path returns the chain of live-child offsets from the root to n.
func (n *TreeNode) Path() []int {
	if n.parent == nil {
		return nil
	}
	var path []int
	cur := n
	for cur.parent != nil {
		idx := 0
		for _, sib := range cur.parent.children {
			if sib == cur {
				break
			}
			if !sib.IsRemoved() {
				idx++
			}
		}
		path = append([]int{idx}, path...)
		cur = cur.parent
	}
	return path
}

// Attrs lazily initializes and returns n's attribute set.
func (n *TreeNode) Attrs() *rgatree.AttrSet {
	if n.attrs == nil {
		n.attrs = rgatree.NewAttrSet()
	}
	return n.attrs
}

// Tree is the structured-document CRDT primitive: an ordered tree whose
// element nodes carry attributes and whose text leaves are addressable
// both by path (chain of child indices) and by flat rune index, the way
// Yorkie's IndexTree unifies the two addressing schemes (spec §3.3,
// §4.1, §4.2).
type Tree struct {
	base
	root  *TreeNode
	index map[rgatree.ID]*TreeNode
}

// NewTree creates a Tree whose root element uses tag.
func NewTree(createdAt logicaltime.TimeTicket, tag string) *Tree {
	root := &TreeNode{id: rgatree.ID{CreatedAt: createdAt}, tag: tag}
	return &Tree{base: newBase(createdAt), root: root, index: map[rgatree.ID]*TreeNode{root.id: root}}
}

// Type implements Element.
func (t *Tree) Type() ElementType { return TypeTree }

// Root returns the tree's root element node.
func (t *Tree) Root() *TreeNode { return t.root }

// Find returns the node registered for id.
func (t *Tree) Find(id rgatree.ID) (*TreeNode, error) {
	n, ok := t.index[id]
	if !ok {
		return nil, errors.Errorf("tree: unknown node %+v", id)
	}
	return n, nil
}

// FindByPath walks path (a chain of live-child offsets) from the root.
func (t *Tree) FindByPath(path []int) (*TreeNode, error) {
	cur := t.root
	for _, offset := range path {
		child, err := liveChildAt(cur, offset)
		if err != nil {
			return nil, err
		}
		cur = child
	}
	return cur, nil
}

func liveChildAt(parent *TreeNode, offset int) (*TreeNode, error) {
	idx := 0
	for _, c := range parent.children {
		if c.IsRemoved() {
			continue
		}
		if idx == offset {
			return c, nil
		}
		idx++
	}
	return nil, errors.Errorf("tree: child offset %d out of bounds", offset)
}

// InsertElement creates a new element node tagged tag as the offset-th
// live child of parentID, identified by createdAt.
func (t *Tree) InsertElement(parentID rgatree.ID, offset int, createdAt logicaltime.TimeTicket, tag string) (*TreeNode, error) {
	parent, err := t.Find(parentID)
	if err != nil {
		return nil, err
	}
	if existing, ok := t.index[rgatree.ID{CreatedAt: createdAt}]; ok {
		return existing, nil
	}
	n := &TreeNode{id: rgatree.ID{CreatedAt: createdAt}, tag: tag, parent: parent}
	t.spliceChild(parent, offset, n)
	t.index[n.id] = n
	return n, nil
}

// InsertText creates a new text leaf holding content as the offset-th
// live child of parentID, identified by createdAt.
func (t *Tree) InsertText(parentID rgatree.ID, offset int, createdAt logicaltime.TimeTicket, content string) (*TreeNode, error) {
	parent, err := t.Find(parentID)
	if err != nil {
		return nil, err
	}
	if existing, ok := t.index[rgatree.ID{CreatedAt: createdAt}]; ok {
		return existing, nil
	}
	n := &TreeNode{id: rgatree.ID{CreatedAt: createdAt}, text: rgatree.RuneValue([]rune(content)), parent: parent}
	t.spliceChild(parent, offset, n)
	t.index[n.id] = n
	return n, nil
}

func (t *Tree) spliceChild(parent *TreeNode, offset int, n *TreeNode) {
	if offset == 0 {
		parent.children = append([]*TreeNode{n}, parent.children...)
		return
	}
	liveSeen := 0
	for i, c := range parent.children {
		if !c.IsRemoved() {
			liveSeen++
		}
		if liveSeen == offset {
			rest := append([]*TreeNode{n}, parent.children[i+1:]...)
			parent.children = append(parent.children[:i+1], rest...)
			return
		}
	}
	parent.children = append(parent.children, n)
}

// RemoveNode tombstones the subtree rooted at id.
func (t *Tree) RemoveNode(id rgatree.ID, executedAt logicaltime.TimeTicket) error {
	n, err := t.Find(id)
	if err != nil {
		return err
	}
	n.Remove(executedAt)
	return nil
}

// Style applies a single attribute to the element node id (spec §4.2
// TreeStyle).
func (t *Tree) Style(id rgatree.ID, key, value string, executedAt logicaltime.TimeTicket) error {
	n, err := t.Find(id)
	if err != nil {
		return err
	}
	if n.IsText() {
		return errors.Errorf("tree: cannot style a text node %+v", id)
	}
	n.Attrs().Set(key, value, executedAt)
	return nil
}

// CollectTombstone detaches a removed node from its parent's child list
// and from the lookup index, once GC has proven it unreachable.
func (t *Tree) CollectTombstone(id rgatree.ID) bool {
	n, ok := t.index[id]
	if !ok || !n.IsRemoved() {
		return false
	}
	if n.parent != nil {
		for i, c := range n.parent.children {
			if c == n {
				n.parent.children = append(n.parent.children[:i], n.parent.children[i+1:]...)
				break
			}
		}
	}
	delete(t.index, id)
	return true
}

// Tombstones returns every removed node still linked into the tree.
func (t *Tree) Tombstones() []*TreeNode {
	var out []*TreeNode
	var walk func(n *TreeNode)
	walk = func(n *TreeNode) {
		if n.IsRemoved() {
			out = append(out, n)
		}
		for _, c := range n.children {
			walk(c)
		}
	}
	walk(t.root)
	return out
}

// Value implements Element, rendering the tree as a nested Go value
// suitable for JSON encoding.
func (t *Tree) Value() interface{} { return nodeValue(t.root) }

// TreeNodeExport is a snapshot-friendly view of one live tree node,
// excluding tombstones for the same reason Text.ExportLiveRuns does
// (spec §4.6 snapshot compaction).
type TreeNodeExport struct {
	CreatedAt logicaltime.TimeTicket
	Tag       string // empty for text nodes
	Text      string
	Attrs     map[string]string
	Children  []TreeNodeExport
}

// ExportLive returns a snapshot of the tree's current live structure.
func (t *Tree) ExportLive() TreeNodeExport { return exportTreeNode(t.root) }

func exportTreeNode(n *TreeNode) TreeNodeExport {
	out := TreeNodeExport{CreatedAt: n.id.CreatedAt, Tag: n.tag}
	if n.IsText() {
		out.Text = string(n.text)
	} else if n.attrs != nil {
		out.Attrs = n.attrs.Map()
	}
	for _, c := range n.children {
		if !c.IsRemoved() {
			out.Children = append(out.Children, exportTreeNode(c))
		}
	}
	return out
}

// NewTreeFromExport rebuilds a Tree from a snapshot export, preserving
// every node's original CreatedAt.
func NewTreeFromExport(export TreeNodeExport) *Tree {
	index := make(map[rgatree.ID]*TreeNode)
	root := buildTreeNode(export, nil, index)
	return &Tree{base: newBase(export.CreatedAt), root: root, index: index}
}

func buildTreeNode(export TreeNodeExport, parent *TreeNode, index map[rgatree.ID]*TreeNode) *TreeNode {
	n := &TreeNode{id: rgatree.ID{CreatedAt: export.CreatedAt}, tag: export.Tag, parent: parent}
	if export.Tag == "" {
		n.text = rgatree.RuneValue([]rune(export.Text))
	} else if len(export.Attrs) > 0 {
		n.attrs = rgatree.NewAttrSet()
		for k, v := range export.Attrs {
			n.attrs.Set(k, v, export.CreatedAt)
		}
	}
	index[n.id] = n
	for _, c := range export.Children {
		n.children = append(n.children, buildTreeNode(c, n, index))
	}
	return n
}

// Clone returns a deep copy of t.
func (t *Tree) Clone() *Tree {
	out := &Tree{base: t.base, index: make(map[rgatree.ID]*TreeNode, len(t.index))}
	out.root = cloneTreeNode(t.root, nil, out.index)
	return out
}

func cloneTreeNode(n *TreeNode, parent *TreeNode, index map[rgatree.ID]*TreeNode) *TreeNode {
	clone := &TreeNode{id: n.id, tag: n.tag, text: append(rgatree.RuneValue(nil), n.text...), removedAt: n.removedAt, parent: parent}
	if n.attrs != nil {
		clone.attrs = n.attrs.Clone()
	}
	for _, c := range n.children {
		clone.children = append(clone.children, cloneTreeNode(c, clone, index))
	}
	index[clone.id] = clone
	return clone
}

func nodeValue(n *TreeNode) interface{} {
	if n.IsText() {
		return string(n.text)
	}
	children := make([]interface{}, 0, len(n.children))
	for _, c := range n.children {
		if !c.IsRemoved() {
			children = append(children, nodeValue(c))
		}
	}
	out := map[string]interface{}{"type": n.tag, "children": children}
	if n.attrs != nil {
		out["attributes"] = n.attrs.Map()
	}
	return out
}
