package crdt

import (
	"strings"

	"docengine/logicaltime"
	"docengine/rgatree"
)

// Text is the rich-text CRDT primitive: an RGATreeSplit of rune runs,
// each carrying its own attribute set, addressed by visible rune index
// (spec §3.3 Text, §4.1, §4.2).
type Text struct {
	base
	chain *rgatree.Chain
}

// NewText creates an empty Text element.
func NewText(createdAt logicaltime.TimeTicket) *Text {
	return &Text{base: newBase(createdAt), chain: rgatree.NewChain()}
}

// Type implements Element.
func (t *Text) Type() ElementType { return TypeText }

// Len returns the number of live runes.
func (t *Text) Len() int { return t.chain.Len() }

// String returns the current visible content.
func (t *Text) String() string { return string(t.chain.Runes()) }

// Edit replaces the runes in [from, to) with content, returning the IDs
// of the runs it removed followed by the ID assigned to the freshly
// inserted run, so concurrent operations can anchor on it (spec §4.2
// Text edit). Deleting without inserting is content == "", and then
// only the removed IDs are returned.
func (t *Text) Edit(from, to int, content string, executedAt logicaltime.TimeTicket) ([]rgatree.ID, error) {
	ids, _, err := t.EditWithAttrs(from, to, content, nil, nil, executedAt)
	return ids, err
}

// EditWithAttrs is the full edit surface: the inserted run carries attrs,
// and the deletion half is gated by maxCreatedAtByActor when applying a
// remote operation — runs the remote author never saw survive (spec §6.1
// maxCreatedAtMapByActor). Pass a nil map for local edits. The returned
// map records the per-actor high-water of the edited range as it looked
// here, for stamping onto the operation record.
func (t *Text) EditWithAttrs(from, to int, content string, attrs map[string]string, maxCreatedAtByActor map[logicaltime.ActorID]logicaltime.TimeTicket, executedAt logicaltime.TimeTicket) ([]rgatree.ID, map[logicaltime.ActorID]logicaltime.TimeTicket, error) {
	maxSeen, err := t.chain.MaxCreatedAtIn(from, to)
	if err != nil {
		return nil, nil, err
	}
	removed, err := t.chain.RemoveRangeWithMax(from, to, maxCreatedAtByActor, executedAt)
	if err != nil {
		return nil, nil, err
	}
	if content == "" {
		return removed, maxSeen, nil
	}
	afterID, err := t.chain.SplitAt(from)
	if err != nil {
		return nil, nil, err
	}
	n, err := t.chain.InsertAfter(afterID, executedAt, rgatree.RuneValue([]rune(content)))
	if err != nil {
		return nil, nil, err
	}
	for k, v := range attrs {
		n.Attrs().Set(k, v, executedAt)
	}
	return append(removed, n.ID()), maxSeen, nil
}

// MaxCreatedAtIn reports, per actor, the latest run identity visible in
// [from, to) (spec §6.1 maxCreatedAtMapByActor).
func (t *Text) MaxCreatedAtIn(from, to int) (map[logicaltime.ActorID]logicaltime.TimeTicket, error) {
	return t.chain.MaxCreatedAtIn(from, to)
}

// Style applies a single attribute across [from, to), splitting run
// boundaries as needed so the attribute can be recorded per-run (spec
// §4.2 style). Overlapping concurrent styles union per spec's
// concurrent-overlap policy since each run's AttrSet resolves per-key by
// LWW (rgatree.AttrSet.Set).
func (t *Text) Style(from, to int, key, value string, executedAt logicaltime.TimeTicket) error {
	return t.eachRunIn(from, to, func(n *rgatree.Node) {
		n.Attrs().Set(key, value, executedAt)
	})
}

// RemoveStyle clears key across [from, to), leaving the run present but
// without that attribute (spec §4.2 removeStyle).
func (t *Text) RemoveStyle(from, to int, key string, executedAt logicaltime.TimeTicket) error {
	return t.eachRunIn(from, to, func(n *rgatree.Node) {
		n.Attrs().Remove(key, executedAt)
	})
}

func (t *Text) eachRunIn(from, to int, fn func(n *rgatree.Node)) error {
	fromID, err := t.chain.SplitAt(from)
	if err != nil {
		return err
	}
	if _, err := t.chain.SplitAt(to); err != nil {
		return err
	}
	start, err := t.chain.Find(fromID)
	if err != nil {
		return err
	}
	pos := from
	for n := start.Next(); n != nil && pos < to; n = n.Next() {
		if n.IsRemoved() {
			continue
		}
		fn(n)
		pos += n.Len()
	}
	return nil
}

// Runs exposes each live run's text and attributes in visible order, for
// rendering and for change-record construction.
type Run struct {
	Text  string
	Attrs map[string]string
}

// Runs returns the text split into maximal attribute-homogeneous spans.
func (t *Text) Runs() []Run {
	var out []Run
	var b strings.Builder
	var attrs map[string]string
	flush := func() {
		if b.Len() == 0 {
			return
		}
		out = append(out, Run{Text: b.String(), Attrs: attrs})
		b.Reset()
	}
	t.chain.Each(func(n *rgatree.Node) bool {
		if n.IsRemoved() {
			return true
		}
		rv, ok := n.Value().(rgatree.RuneValue)
		if !ok {
			return true
		}
		cur := n.Attrs().Map()
		if !sameAttrs(attrs, cur) {
			flush()
			attrs = cur
		}
		b.WriteString(string(rv))
		return true
	})
	flush()
	return out
}

func sameAttrs(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

// Value implements Element.
func (t *Text) Value() interface{} { return t.String() }

// Clone returns a deep copy of t.
func (t *Text) Clone() *Text {
	return &Text{base: t.base, chain: t.chain.Clone()}
}

// CollectTombstone detaches a removed run once the GC pass has proven it
// unreachable by any replica still sending operations against it.
func (t *Text) CollectTombstone(id rgatree.ID) {
	t.chain.Detach(id)
}

// Tombstones exposes removed runs still linked into the chain, for the
// document GC pass to evaluate.
func (t *Text) Tombstones() []*rgatree.Node { return t.chain.Tombstones() }

// HeadID is the anchor identifying "insert at the very start" of the text.
func (t *Text) HeadID() rgatree.ID { return t.chain.HeadID() }
