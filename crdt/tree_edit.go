package crdt

import (
	"sort"
	"strings"

	"docengine/logicaltime"
	"docengine/rgatree"

	"github.com/pkg/errors"
)

// TreeContent describes one node a bulk tree edit inserts: an element
// (Tag set, optionally with Attrs and Children) or a text leaf (Tag
// empty, Text non-empty). The shape mirrors the TreeNode wire field of
// the TreeEdit operation (spec §6.1).
type TreeContent struct {
	Tag      string            `bson:"tag,omitempty" json:"tag,omitempty"`
	Text     string            `bson:"text,omitempty" json:"text,omitempty"`
	Attrs    map[string]string `bson:"attrs,omitempty" json:"attrs,omitempty"`
	Children []TreeContent     `bson:"children,omitempty" json:"children,omitempty"`
}

// IsText reports whether the content describes a text leaf.
func (c TreeContent) IsText() bool { return c.Tag == "" }

// TreePos is the concurrent-edit-stable address of one boundary inside a
// tree: the containing element, the live child immediately to the left
// (zero ID when the boundary is at the front), and, when the boundary
// falls inside a text leaf, the rune offset within it (spec §4.2 "range
// translation").
type TreePos struct {
	ParentID      rgatree.ID `bson:"parent" json:"parent"`
	LeftSiblingID rgatree.ID `bson:"leftSibling,omitempty" json:"leftSibling,omitempty"`
	Offset        int        `bson:"offset,omitempty" json:"offset,omitempty"`
}

// treeBoundary is a resolved insertion point: the parent element, the
// child slot within it, and (for interior-of-text boundaries) the text
// leaf and rune offset the slot falls inside.
type treeBoundary struct {
	parent      *TreeNode
	childOffset int // slot among parent's live children
	textNode    *TreeNode
	textOffset  int
	depth       int
}

// Size returns the number of addressable indices in the tree: the root's
// IndexTree size minus the root's own open/close pair, which index-based
// addressing does not count (spec §4.1).
func (t *Tree) Size() int { return t.root.Len() - 2 }

// findBoundary resolves a flat index to a tree boundary, descending
// through element open/close weights and text rune weights the way the
// IndexTree size invariant defines them.
func (t *Tree) findBoundary(idx int) (treeBoundary, error) {
	if idx < 0 || idx > t.Size() {
		return treeBoundary{}, errors.Wrapf(ErrInvalidArgument, "tree: index %d out of range [0,%d]", idx, t.Size())
	}
	return resolveBoundary(t.root, idx, 1)
}

func resolveBoundary(parent *TreeNode, rem, depth int) (treeBoundary, error) {
	childOffset := 0
	for _, c := range parent.children {
		if c.IsRemoved() {
			continue
		}
		if rem == 0 {
			return treeBoundary{parent: parent, childOffset: childOffset, depth: depth}, nil
		}
		sz := c.Len()
		if rem < sz {
			if c.IsText() {
				return treeBoundary{parent: parent, childOffset: childOffset, textNode: c, textOffset: rem, depth: depth}, nil
			}
			return resolveBoundary(c, rem-1, depth+1)
		}
		rem -= sz
		childOffset++
	}
	if rem == 0 {
		return treeBoundary{parent: parent, childOffset: childOffset, depth: depth}, nil
	}
	return treeBoundary{}, errors.Wrapf(ErrInvalidArgument, "tree: index overruns node %s", parent.id.CreatedAt)
}

// splitTextLeaf ensures the boundary inside n at offset is a node
// boundary, producing a right sibling that shares n's CreatedAt with an
// advanced split offset — the same identity scheme rgatree uses, so a
// later operation can re-address either half (spec §4.1 split table).
func (t *Tree) splitTextLeaf(n *TreeNode, offset int) *TreeNode {
	if offset <= 0 || offset >= len(n.text) {
		return nil
	}
	right := &TreeNode{
		id:        rgatree.ID{CreatedAt: n.id.CreatedAt, Offset: n.id.Offset + offset},
		text:      append(rgatree.RuneValue(nil), n.text[offset:]...),
		removedAt: n.removedAt,
		parent:    n.parent,
	}
	n.text = n.text[:offset]
	for i, c := range n.parent.children {
		if c == n {
			rest := append([]*TreeNode{right}, n.parent.children[i+1:]...)
			n.parent.children = append(n.parent.children[:i+1], rest...)
			break
		}
	}
	t.index[right.id] = right
	return right
}

// nodeSpan is a node's token extent in the flattened tree: elements span
// [open, close], text spans [start, start+len).
type nodeSpan struct {
	node  *TreeNode
	start int
	end   int // exclusive for text; the close-tag index for elements
}

// spans flattens the live tree into per-node token extents, excluding
// the root's own tags.
func (t *Tree) spans() []nodeSpan {
	var out []nodeSpan
	idx := 0
	var walk func(n *TreeNode)
	walk = func(n *TreeNode) {
		for _, c := range n.children {
			if c.IsRemoved() {
				continue
			}
			if c.IsText() {
				out = append(out, nodeSpan{node: c, start: idx, end: idx + len(c.text)})
				idx += len(c.text)
				continue
			}
			open := idx
			idx++
			walk(c)
			out = append(out, nodeSpan{node: c, start: open, end: idx})
			idx++
		}
	}
	walk(t.root)
	return out
}

// Edit replaces the token range [from, to) with contents, optionally
// splitting ancestors first (spec §4.2 Tree edit):
//
//   - deletion tombstones every element whose open and close tags both
//     fall inside the range, and the covered rune spans of text leaves
//     (splitting boundary leaves so inner tombstones keep their own
//     timestamps, §8.2);
//   - a non-nil maxCreatedAtByActor gates removal the same way Text's
//     does: nodes the operation's author never saw survive;
//   - insertion happens at the left boundary, after cloning splitLevel
//     ancestors so the right clone inherits the trailing children;
//   - from and to must sit at the same nesting depth, and contents must
//     be homogeneous (all elements or all text) with no empty text leaf —
//     violations fail with ErrInvalidArgument before any mutation.
//
// The returned map is the per-actor high-water of the edited range as
// observed here, for stamping onto the operation record (spec §6.1).
func (t *Tree) Edit(from, to int, contents []TreeContent, splitLevel int, maxCreatedAtByActor map[logicaltime.ActorID]logicaltime.TimeTicket, executedAt logicaltime.TimeTicket) (map[logicaltime.ActorID]logicaltime.TimeTicket, error) {
	if from > to {
		return nil, errors.Wrapf(ErrInvalidArgument, "tree: edit range [%d,%d) is reversed", from, to)
	}
	if err := validateContents(contents); err != nil {
		return nil, err
	}
	fromB, err := t.findBoundary(from)
	if err != nil {
		return nil, err
	}
	toB, err := t.findBoundary(to)
	if err != nil {
		return nil, err
	}
	if fromB.depth != toB.depth {
		return nil, errors.Wrapf(ErrInvalidArgument, "tree: edit range [%d,%d) crosses nesting depth (%d vs %d)", from, to, fromB.depth, toB.depth)
	}

	// Redelivery of an edit that creates nodes is detected by its first
	// derived identity already being registered (spec §8.1 idempotent
	// remote apply); a redelivered pure deletion is detected by its
	// executedAt already marking a tombstone, since re-resolving its
	// token range would reach other nodes.
	if splitLevel > 0 || len(contents) > 0 {
		replay := rgatree.ID{CreatedAt: executedAt.SetDelimiter(executedAt.Delimiter + 1)}
		if _, ok := t.index[replay]; ok {
			return t.maxCreatedAtIn(from, to), nil
		}
	} else if to > from {
		for _, n := range t.index {
			if n.removedAt != nil && n.removedAt.Equal(executedAt) {
				return t.maxCreatedAtIn(from, to), nil
			}
		}
	}

	maxSeen := t.maxCreatedAtIn(from, to)

	if to > from {
		t.removeRange(from, to, maxCreatedAtByActor, executedAt)
	}

	// The removal may have restructured the boundary; re-resolve before
	// inserting. Tombstoned nodes weigh zero, so `from` still names the
	// same visible position.
	delims := executedAt.Delimiter
	nextTicket := func() logicaltime.TimeTicket {
		delims++
		return executedAt.SetDelimiter(delims)
	}

	insB, err := t.findBoundary(from)
	if err != nil {
		return nil, err
	}
	parent, childOffset := insB.parent, insB.childOffset
	if insB.textNode != nil {
		t.splitTextLeaf(insB.textNode, insB.textOffset)
		childOffset++
	}

	for lvl := 0; lvl < splitLevel; lvl++ {
		parent, childOffset, err = t.splitAncestor(parent, childOffset, nextTicket(), executedAt)
		if err != nil {
			return nil, err
		}
	}

	for _, c := range contents {
		n := t.buildContent(c, parent, nextTicket, executedAt)
		t.spliceChild(parent, childOffset, n)
		childOffset++
	}
	return maxSeen, nil
}

func validateContents(contents []TreeContent) error {
	if len(contents) == 0 {
		return nil
	}
	wantText := contents[0].IsText()
	for _, c := range contents {
		if c.IsText() != wantText {
			return errors.Wrap(ErrInvalidArgument, "tree: bulk insert mixes element and text nodes")
		}
		if c.IsText() && c.Text == "" {
			return errors.Wrap(ErrInvalidArgument, "tree: bulk insert contains an empty text node")
		}
	}
	return nil
}

// MaxCreatedAtIn reports, per actor, the latest node identity visible in
// the token range [from, to), mirroring rgatree.Chain.MaxCreatedAtIn
// (spec §6.1).
func (t *Tree) MaxCreatedAtIn(from, to int) map[logicaltime.ActorID]logicaltime.TimeTicket {
	return t.maxCreatedAtIn(from, to)
}

func (t *Tree) maxCreatedAtIn(from, to int) map[logicaltime.ActorID]logicaltime.TimeTicket {
	out := make(map[logicaltime.ActorID]logicaltime.TimeTicket)
	for _, s := range t.spans() {
		if s.end <= from || s.start >= to {
			continue
		}
		created := s.node.id.CreatedAt
		if cur, ok := out[created.Actor]; !ok || created.After(cur) {
			out[created.Actor] = created
		}
	}
	return out
}

func treeRemovable(n *TreeNode, maxByActor map[logicaltime.ActorID]logicaltime.TimeTicket) bool {
	if maxByActor == nil {
		return true
	}
	max, ok := maxByActor[n.id.CreatedAt.Actor]
	if !ok {
		return false
	}
	return !n.id.CreatedAt.After(max)
}

// removeRange tombstones everything fully contained in [from, to):
// element nodes whose open and close tags are both inside the range, and
// the covered portions of text leaves. Partially covered elements keep
// their shell; their contained children still go, which is what makes a
// whole-subtree delete and a concurrent inner delete converge (spec §8.3
// S3).
func (t *Tree) removeRange(from, to int, maxByActor map[logicaltime.ActorID]logicaltime.TimeTicket, executedAt logicaltime.TimeTicket) {
	type textCut struct {
		node     *TreeNode
		cutFrom  int
		cutTo    int
	}
	var elements []*TreeNode
	var cuts []textCut

	for _, s := range t.spans() {
		if !treeRemovable(s.node, maxByActor) {
			continue
		}
		if s.node.IsText() {
			cutFrom := max(s.start, from)
			cutTo := min(s.end, to)
			if cutFrom < cutTo {
				cuts = append(cuts, textCut{node: s.node, cutFrom: cutFrom - s.start, cutTo: cutTo - s.start})
			}
			continue
		}
		if s.start >= from && s.end < to {
			elements = append(elements, s.node)
		}
	}

	for _, c := range cuts {
		target := c.node
		if right := t.splitTextLeaf(target, c.cutFrom); right != nil {
			target = right
			c.cutTo -= c.cutFrom
		}
		t.splitTextLeaf(target, c.cutTo)
		target.Remove(executedAt)
	}
	for _, e := range elements {
		e.Remove(executedAt)
	}
}

// splitAncestor clones parent at childOffset: a fresh element with the
// same tag takes over the trailing children, placed immediately after
// parent among its siblings. Returns the grandparent and the slot
// between the two halves, where the next level's split (or the
// insertion itself) lands (spec §4.2 split semantics).
func (t *Tree) splitAncestor(parent *TreeNode, childOffset int, ticket logicaltime.TimeTicket, executedAt logicaltime.TimeTicket) (*TreeNode, int, error) {
	if parent.parent == nil {
		return nil, 0, errors.Wrap(ErrInvalidArgument, "tree: split level exceeds the insertion point's depth")
	}
	right := &TreeNode{id: rgatree.ID{CreatedAt: ticket}, tag: parent.tag, parent: parent.parent}
	if parent.attrs != nil {
		right.attrs = rgatree.NewAttrSet()
		for k, v := range parent.attrs.Map() {
			right.attrs.Set(k, v, executedAt)
		}
	}

	// Move the trailing live children (slot childOffset onward) into the
	// clone, preserving any interleaved tombstones on the left half.
	liveSeen := 0
	cut := len(parent.children)
	for i, c := range parent.children {
		if c.IsRemoved() {
			continue
		}
		if liveSeen == childOffset {
			cut = i
			break
		}
		liveSeen++
	}
	trailing := parent.children[cut:]
	parent.children = parent.children[:cut:cut]
	for _, c := range trailing {
		c.parent = right
	}
	right.children = append(right.children, trailing...)

	grand := parent.parent
	slot := 0
	for i, c := range grand.children {
		if c == parent {
			rest := append([]*TreeNode{right}, grand.children[i+1:]...)
			grand.children = append(grand.children[:i+1], rest...)
			break
		}
	}
	live := 0
	for _, c := range grand.children {
		if c == right {
			slot = live
			break
		}
		if !c.IsRemoved() {
			live++
		}
	}
	t.index[right.id] = right
	return grand, slot, nil
}

func (t *Tree) buildContent(c TreeContent, parent *TreeNode, nextTicket func() logicaltime.TimeTicket, executedAt logicaltime.TimeTicket) *TreeNode {
	n := &TreeNode{id: rgatree.ID{CreatedAt: nextTicket()}, tag: c.Tag, parent: parent}
	if c.IsText() {
		n.text = rgatree.RuneValue([]rune(c.Text))
	} else if len(c.Attrs) > 0 {
		n.attrs = rgatree.NewAttrSet()
		for k, v := range c.Attrs {
			n.attrs.Set(k, v, executedAt)
		}
	}
	t.index[n.id] = n
	for _, child := range c.Children {
		n.children = append(n.children, t.buildContent(child, n, nextTicket, executedAt))
	}
	return n
}

// EditByPath is Edit with path-addressed boundaries (spec §4.2
// editByPath).
func (t *Tree) EditByPath(fromPath, toPath []int, contents []TreeContent, splitLevel int, maxCreatedAtByActor map[logicaltime.ActorID]logicaltime.TimeTicket, executedAt logicaltime.TimeTicket) (map[logicaltime.ActorID]logicaltime.TimeTicket, error) {
	from, err := t.PathToIndex(fromPath)
	if err != nil {
		return nil, err
	}
	to, err := t.PathToIndex(toPath)
	if err != nil {
		return nil, err
	}
	return t.Edit(from, to, contents, splitLevel, maxCreatedAtByActor, executedAt)
}

// StyleRange applies attrs to every element node whose open tag lies in
// [from, to); text leaves in the range are silently skipped (spec §4.2
// Tree style).
func (t *Tree) StyleRange(from, to int, attrs map[string]string, executedAt logicaltime.TimeTicket) error {
	return t.eachElementIn(from, to, func(n *TreeNode) {
		for k, v := range attrs {
			n.Attrs().Set(k, v, executedAt)
		}
	})
}

// RemoveStyleRange clears keys across the element nodes whose open tag
// lies in [from, to), with per-attribute LWW so a later StyleRange
// restores them (spec §4.2 removeStyle).
func (t *Tree) RemoveStyleRange(from, to int, keys []string, executedAt logicaltime.TimeTicket) error {
	return t.eachElementIn(from, to, func(n *TreeNode) {
		for _, k := range keys {
			n.Attrs().Remove(k, executedAt)
		}
	})
}

func (t *Tree) eachElementIn(from, to int, fn func(n *TreeNode)) error {
	if from > to {
		return errors.Wrapf(ErrInvalidArgument, "tree: style range [%d,%d) is reversed", from, to)
	}
	if to > t.Size() {
		return errors.Wrapf(ErrInvalidArgument, "tree: style range end %d out of range [0,%d]", to, t.Size())
	}
	for _, s := range t.spans() {
		if s.node.IsText() {
			continue
		}
		if s.start >= from && s.start < to {
			fn(s.node)
		}
	}
	return nil
}

// PathToIndex translates a live-child path to the flat index of the
// boundary immediately before the addressed slot. A final component that
// indexes into a text leaf addresses a rune offset within it.
func (t *Tree) PathToIndex(path []int) (int, error) {
	idx := 0
	cur := t.root
	for i, component := range path {
		if component < 0 {
			return 0, errors.Wrapf(ErrInvalidArgument, "tree: negative path component %d", component)
		}
		live := 0
		var descend *TreeNode
		for _, c := range cur.children {
			if c.IsRemoved() {
				continue
			}
			if live == component {
				descend = c
				break
			}
			idx += c.Len()
			live++
		}
		last := i == len(path)-1
		if descend == nil {
			if live == component && last {
				return idx, nil
			}
			return 0, errors.Wrapf(ErrInvalidArgument, "tree: path component %d out of range", component)
		}
		if last {
			return idx, nil
		}
		if descend.IsText() {
			// The next component is a rune offset inside this leaf.
			off := path[i+1]
			if i+1 != len(path)-1 || off > len(descend.text) {
				return 0, errors.Wrapf(ErrInvalidArgument, "tree: path addresses past text leaf %s", descend.id.CreatedAt)
			}
			return idx + off, nil
		}
		idx++ // step inside descend's open tag
		cur = descend
	}
	return idx, nil
}

// IndexToPath translates a flat index to a path (see PathToIndex for the
// path convention).
func (t *Tree) IndexToPath(idx int) ([]int, error) {
	b, err := t.findBoundary(idx)
	if err != nil {
		return nil, err
	}
	if b.textNode != nil {
		return append(b.textNode.Path(), b.textOffset), nil
	}
	return append(b.parent.Path(), b.childOffset), nil
}

// IndexToPos translates a flat index to a concurrent-edit-stable TreePos.
func (t *Tree) IndexToPos(idx int) (TreePos, error) {
	b, err := t.findBoundary(idx)
	if err != nil {
		return TreePos{}, err
	}
	if b.textNode != nil {
		return TreePos{ParentID: b.parent.id, LeftSiblingID: b.textNode.id, Offset: b.textOffset}, nil
	}
	pos := TreePos{ParentID: b.parent.id}
	live := 0
	for _, c := range b.parent.children {
		if c.IsRemoved() {
			continue
		}
		if live == b.childOffset {
			break
		}
		pos.LeftSiblingID = c.id
		live++
	}
	return pos, nil
}

// PosToIndex resolves a TreePos back to a flat index. Tombstoned parents
// and siblings weigh zero, so a pos whose anchors have since been
// removed rounds to the nearest live boundary on the left (spec §4.2
// "left-bias").
func (t *Tree) PosToIndex(pos TreePos) (int, error) {
	parent, err := t.Find(pos.ParentID)
	if err != nil {
		return 0, err
	}
	idx, err := t.interiorStart(parent)
	if err != nil {
		return 0, err
	}
	if (pos.LeftSiblingID == rgatree.ID{}) {
		return idx, nil
	}
	for _, c := range parent.children {
		if c.id == pos.LeftSiblingID {
			if c.IsText() && !c.IsRemoved() && pos.Offset > 0 {
				off := pos.Offset
				if off > len(c.text) {
					off = len(c.text)
				}
				return idx + off, nil
			}
			return idx + c.Len(), nil
		}
		idx += c.Len()
	}
	// The sibling was split or collected; fall back to the identity's
	// nearest surviving left half.
	nearest := idx
	idx, _ = t.interiorStart(parent)
	for _, c := range parent.children {
		if c.id.CreatedAt.Equal(pos.LeftSiblingID.CreatedAt) && c.id.Offset <= pos.LeftSiblingID.Offset {
			nearest = idx + c.Len()
		}
		idx += c.Len()
	}
	return nearest, nil
}

// interiorStart returns the flat index of the boundary just inside n's
// open tag.
func (t *Tree) interiorStart(n *TreeNode) (int, error) {
	if n == t.root {
		return 0, nil
	}
	for _, s := range t.spans() {
		if s.node == n {
			return s.start + 1, nil
		}
	}
	// Tombstoned: collapse to its parent's boundary at the node's slot.
	if n.parent == nil {
		return 0, nil
	}
	start, err := t.interiorStart(n.parent)
	if err != nil {
		return 0, err
	}
	for _, c := range n.parent.children {
		if c == n {
			break
		}
		start += c.Len()
	}
	return start, nil
}

// IndexRangeToPosRange translates an index range to a pos range (spec
// §4.2 range translation).
func (t *Tree) IndexRangeToPosRange(from, to int) (TreePos, TreePos, error) {
	if from > to {
		return TreePos{}, TreePos{}, errors.Wrapf(ErrInvalidArgument, "tree: range [%d,%d) is reversed", from, to)
	}
	fp, err := t.IndexToPos(from)
	if err != nil {
		return TreePos{}, TreePos{}, err
	}
	tp, err := t.IndexToPos(to)
	if err != nil {
		return TreePos{}, TreePos{}, err
	}
	return fp, tp, nil
}

// PosRangeToIndexRange is the inverse of IndexRangeToPosRange.
func (t *Tree) PosRangeToIndexRange(from, to TreePos) (int, int, error) {
	fi, err := t.PosToIndex(from)
	if err != nil {
		return 0, 0, err
	}
	ti, err := t.PosToIndex(to)
	if err != nil {
		return 0, 0, err
	}
	return fi, ti, nil
}

// PathRangeToPosRange translates a path range to a pos range.
func (t *Tree) PathRangeToPosRange(fromPath, toPath []int) (TreePos, TreePos, error) {
	from, err := t.PathToIndex(fromPath)
	if err != nil {
		return TreePos{}, TreePos{}, err
	}
	to, err := t.PathToIndex(toPath)
	if err != nil {
		return TreePos{}, TreePos{}, err
	}
	return t.IndexRangeToPosRange(from, to)
}

// PosRangeToPathRange is the inverse of PathRangeToPosRange.
func (t *Tree) PosRangeToPathRange(from, to TreePos) ([]int, []int, error) {
	fi, ti, err := t.PosRangeToIndexRange(from, to)
	if err != nil {
		return nil, nil, err
	}
	fp, err := t.IndexToPath(fi)
	if err != nil {
		return nil, nil, err
	}
	tp, err := t.IndexToPath(ti)
	if err != nil {
		return nil, nil, err
	}
	return fp, tp, nil
}

// ToXML renders the live tree in the XML-ish form the editor-facing API
// exposes.
func (t *Tree) ToXML() string {
	var b strings.Builder
	writeXML(&b, t.root)
	return b.String()
}

func writeXML(b *strings.Builder, n *TreeNode) {
	if n.IsText() {
		b.WriteString(string(n.text))
		return
	}
	b.WriteByte('<')
	b.WriteString(n.tag)
	if n.attrs != nil {
		attrs := n.attrs.Map()
		keys := make([]string, 0, len(attrs))
		for k := range attrs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b.WriteByte(' ')
			b.WriteString(k)
			b.WriteString(`="`)
			b.WriteString(attrs[k])
			b.WriteByte('"')
		}
	}
	b.WriteByte('>')
	for _, c := range n.children {
		if !c.IsRemoved() {
			writeXML(b, c)
		}
	}
	b.WriteString("</")
	b.WriteString(n.tag)
	b.WriteByte('>')
}

