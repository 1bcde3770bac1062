package crdt

import (
	"docengine/logicaltime"
	"docengine/rgatree"
)

// TextRunExport is a single live run's content and attributes, the unit
// a snapshot codec persists. Tombstoned runs are intentionally excluded:
// a snapshot compacts history the same way the server's own snapshot
// does, folding everything before it into the version vector rather than
// carrying tombstones forward (spec §4.6).
type TextRunExport struct {
	CreatedAt logicaltime.TimeTicket
	Content   string
	Attrs     map[string]string
}

// ExportLiveRuns returns every live run in visible order.
func (t *Text) ExportLiveRuns() []TextRunExport {
	var out []TextRunExport
	t.chain.Each(func(n *rgatree.Node) bool {
		if n.IsRemoved() {
			return true
		}
		rv, _ := n.Value().(rgatree.RuneValue)
		out = append(out, TextRunExport{CreatedAt: n.ID().CreatedAt, Content: string(rv), Attrs: n.Attrs().Map()})
		return true
	})
	return out
}

// NewTextFromRuns rebuilds a Text from a snapshot's exported runs,
// preserving each run's original CreatedAt so operations still in flight
// that address it by identity keep resolving correctly.
func NewTextFromRuns(createdAt logicaltime.TimeTicket, runs []TextRunExport) (*Text, error) {
	t := NewText(createdAt)
	prev := t.chain.HeadID()
	for _, r := range runs {
		n, err := t.chain.InsertAfter(prev, r.CreatedAt, rgatree.RuneValue([]rune(r.Content)))
		if err != nil {
			return nil, err
		}
		for k, v := range r.Attrs {
			n.Attrs().Set(k, v, r.CreatedAt)
		}
		prev = n.ID()
	}
	return t, nil
}
