// Package proxy implements the builder-style handle passed into a
// document's Update closure: typed editors over Object/Array/Text/
// Tree/Counter that translate natural Go calls into change.Operation
// values, apply them against the clone root immediately, and record them
// so the document can turn the batch into a Change once the closure
// returns (spec §4.3, §9 "proxy-based update closure").
//
// Grounded on crdtedit's per-kind editor split (ObjectEditor/ArrayEditor/
// StringEditor), adapted so a single Transaction owns the operation log
// instead of a fresh PatchBuilder per call.
package proxy

import (
	"docengine/change"
	"docengine/crdt"
	"docengine/logicaltime"

	"github.com/pkg/errors"
)

// Transaction accumulates the operations produced by one Update closure
// call against a single clone root.
type Transaction struct {
	root *crdt.Root
	next func() logicaltime.TimeTicket
	ops  []change.Operation
}

// NewTransaction creates a Transaction over root, minting executedAt
// tickets from next (the document's local Lamport clock).
func NewTransaction(root *crdt.Root, next func() logicaltime.TimeTicket) *Transaction {
	return &Transaction{root: root, next: next}
}

// Operations returns every operation recorded so far, in the order
// applied.
func (tx *Transaction) Operations() []change.Operation { return tx.ops }

// Root returns the proxy for the document's top-level Object.
func (tx *Transaction) Root() *ObjectProxy {
	return &ObjectProxy{tx: tx, obj: tx.root.Object()}
}

func (tx *Transaction) record(op change.Operation) error {
	if err := op.Apply(tx.root); err != nil {
		return err
	}
	tx.ops = append(tx.ops, op)
	return nil
}

// ObjectProxy is a handle onto one Object element.
type ObjectProxy struct {
	tx  *Transaction
	obj *crdt.Object
}

func (p *ObjectProxy) setPrimitive(key string, kind crdt.Primitive, raw interface{}) error {
	return p.tx.record(&change.SetOperation{
		Parent:     p.obj.CreatedAt(),
		Key:        key,
		Value:      change.ValueSpec{Kind: change.ValueKindRegister, Primitive: kind, Raw: raw},
		ExecutedTS: p.tx.next(),
	})
}

// SetString installs a string value at key.
func (p *ObjectProxy) SetString(key, value string) error {
	return p.setPrimitive(key, crdt.PrimitiveString, value)
}

// SetBool installs a bool value at key.
func (p *ObjectProxy) SetBool(key string, value bool) error {
	return p.setPrimitive(key, crdt.PrimitiveBool, value)
}

// SetInt installs an int value at key.
func (p *ObjectProxy) SetInt(key string, value int64) error {
	return p.setPrimitive(key, crdt.PrimitiveLong, value)
}

// SetDouble installs a float64 value at key.
func (p *ObjectProxy) SetDouble(key string, value float64) error {
	return p.setPrimitive(key, crdt.PrimitiveDouble, value)
}

// SetNull installs a null value at key.
func (p *ObjectProxy) SetNull(key string) error {
	return p.setPrimitive(key, crdt.PrimitiveNull, nil)
}

// SetObject installs a fresh empty Object at key and returns a proxy
// onto it.
func (p *ObjectProxy) SetObject(key string) (*ObjectProxy, error) {
	ticket := p.tx.next()
	if err := p.tx.record(&change.SetOperation{Parent: p.obj.CreatedAt(), Key: key, Value: change.ValueSpec{Kind: change.ValueKindObject}, ExecutedTS: ticket}); err != nil {
		return nil, err
	}
	child, err := p.tx.root.FindByCreatedAt(ticket)
	if err != nil {
		return nil, err
	}
	return &ObjectProxy{tx: p.tx, obj: child.(*crdt.Object)}, nil
}

// SetArray installs a fresh empty Array at key and returns a proxy onto it.
func (p *ObjectProxy) SetArray(key string) (*ArrayProxy, error) {
	ticket := p.tx.next()
	if err := p.tx.record(&change.SetOperation{Parent: p.obj.CreatedAt(), Key: key, Value: change.ValueSpec{Kind: change.ValueKindArray}, ExecutedTS: ticket}); err != nil {
		return nil, err
	}
	child, err := p.tx.root.FindByCreatedAt(ticket)
	if err != nil {
		return nil, err
	}
	return &ArrayProxy{tx: p.tx, arr: child.(*crdt.Array)}, nil
}

// SetText installs a fresh empty Text at key and returns a proxy onto it.
func (p *ObjectProxy) SetText(key string) (*TextProxy, error) {
	ticket := p.tx.next()
	if err := p.tx.record(&change.SetOperation{Parent: p.obj.CreatedAt(), Key: key, Value: change.ValueSpec{Kind: change.ValueKindText}, ExecutedTS: ticket}); err != nil {
		return nil, err
	}
	child, err := p.tx.root.FindByCreatedAt(ticket)
	if err != nil {
		return nil, err
	}
	return &TextProxy{tx: p.tx, text: child.(*crdt.Text)}, nil
}

// SetCounter installs a fresh Counter seeded at initial and returns a
// proxy onto it.
func (p *ObjectProxy) SetCounter(key string, kind crdt.Primitive, initial float64) (*CounterProxy, error) {
	ticket := p.tx.next()
	if err := p.tx.record(&change.SetOperation{Parent: p.obj.CreatedAt(), Key: key, Value: change.ValueSpec{Kind: change.ValueKindCounter, Primitive: kind, Raw: initial}, ExecutedTS: ticket}); err != nil {
		return nil, err
	}
	child, err := p.tx.root.FindByCreatedAt(ticket)
	if err != nil {
		return nil, err
	}
	return &CounterProxy{tx: p.tx, counter: child.(*crdt.Counter)}, nil
}

// SetTree installs a fresh Tree rooted at tag and returns a proxy onto it.
func (p *ObjectProxy) SetTree(key, tag string) (*TreeProxy, error) {
	ticket := p.tx.next()
	if err := p.tx.record(&change.SetOperation{Parent: p.obj.CreatedAt(), Key: key, Value: change.ValueSpec{Kind: change.ValueKindTree, Raw: tag}, ExecutedTS: ticket}); err != nil {
		return nil, err
	}
	child, err := p.tx.root.FindByCreatedAt(ticket)
	if err != nil {
		return nil, err
	}
	return &TreeProxy{tx: p.tx, tree: child.(*crdt.Tree)}, nil
}

// Delete removes key.
func (p *ObjectProxy) Delete(key string) error {
	return p.tx.record(&change.RemoveOperation{Parent: p.obj.CreatedAt(), Key: key, ExecutedTS: p.tx.next()})
}

// Object navigates to an existing nested Object at key.
func (p *ObjectProxy) Object(key string) (*ObjectProxy, error) {
	e := p.obj.Get(key)
	obj, ok := e.(*crdt.Object)
	if !ok {
		return nil, errors.Errorf("proxy: %q is not an object", key)
	}
	return &ObjectProxy{tx: p.tx, obj: obj}, nil
}

// Array navigates to an existing nested Array at key.
func (p *ObjectProxy) Array(key string) (*ArrayProxy, error) {
	e := p.obj.Get(key)
	arr, ok := e.(*crdt.Array)
	if !ok {
		return nil, errors.Errorf("proxy: %q is not an array", key)
	}
	return &ArrayProxy{tx: p.tx, arr: arr}, nil
}

// Text navigates to an existing nested Text at key.
func (p *ObjectProxy) Text(key string) (*TextProxy, error) {
	e := p.obj.Get(key)
	t, ok := e.(*crdt.Text)
	if !ok {
		return nil, errors.Errorf("proxy: %q is not a text", key)
	}
	return &TextProxy{tx: p.tx, text: t}, nil
}

// Counter navigates to an existing nested Counter at key.
func (p *ObjectProxy) Counter(key string) (*CounterProxy, error) {
	e := p.obj.Get(key)
	c, ok := e.(*crdt.Counter)
	if !ok {
		return nil, errors.Errorf("proxy: %q is not a counter", key)
	}
	return &CounterProxy{tx: p.tx, counter: c}, nil
}

// Tree navigates to an existing nested Tree at key.
func (p *ObjectProxy) Tree(key string) (*TreeProxy, error) {
	e := p.obj.Get(key)
	t, ok := e.(*crdt.Tree)
	if !ok {
		return nil, errors.Errorf("proxy: %q is not a tree", key)
	}
	return &TreeProxy{tx: p.tx, tree: t}, nil
}

// Keys returns the object's live keys.
func (p *ObjectProxy) Keys() []string { return p.obj.Keys() }

// ArrayProxy is a handle onto one Array element.
type ArrayProxy struct {
	tx  *Transaction
	arr *crdt.Array
}

func (p *ArrayProxy) insertPrimitive(prev logicaltime.TimeTicket, kind crdt.Primitive, raw interface{}) error {
	return p.tx.record(&change.AddOperation{
		Parent:     p.arr.CreatedAt(),
		Prev:       prev,
		Value:      change.ValueSpec{Kind: change.ValueKindRegister, Primitive: kind, Raw: raw},
		ExecutedTS: p.tx.next(),
	})
}

// PushString appends a string to the end of the array.
func (p *ArrayProxy) PushString(value string) error {
	return p.insertPrimitive(p.lastID(), crdt.PrimitiveString, value)
}

// PushInt appends an int to the end of the array.
func (p *ArrayProxy) PushInt(value int64) error {
	return p.insertPrimitive(p.lastID(), crdt.PrimitiveLong, value)
}

// PushDouble appends a float64 to the end of the array.
func (p *ArrayProxy) PushDouble(value float64) error {
	return p.insertPrimitive(p.lastID(), crdt.PrimitiveDouble, value)
}

// PushBool appends a bool to the end of the array.
func (p *ArrayProxy) PushBool(value bool) error {
	return p.insertPrimitive(p.lastID(), crdt.PrimitiveBool, value)
}

func (p *ArrayProxy) lastID() logicaltime.TimeTicket {
	elems := p.arr.Elements()
	if len(elems) == 0 {
		return crdt.HeadID
	}
	return elems[len(elems)-1].CreatedAt()
}

// PushObject appends a fresh empty Object and returns a proxy onto it.
func (p *ArrayProxy) PushObject() (*ObjectProxy, error) {
	ticket := p.tx.next()
	if err := p.tx.record(&change.AddOperation{Parent: p.arr.CreatedAt(), Prev: p.lastID(), Value: change.ValueSpec{Kind: change.ValueKindObject}, ExecutedTS: ticket}); err != nil {
		return nil, err
	}
	child, err := p.tx.root.FindByCreatedAt(ticket)
	if err != nil {
		return nil, err
	}
	return &ObjectProxy{tx: p.tx, obj: child.(*crdt.Object)}, nil
}

// MoveAfter relocates the element identified by target to just after
// prev.
func (p *ArrayProxy) MoveAfter(target, prev logicaltime.TimeTicket) error {
	return p.tx.record(&change.MoveOperation{Parent: p.arr.CreatedAt(), Target: target, Prev: prev, ExecutedTS: p.tx.next()})
}

// Remove tombstones the element identified by target.
func (p *ArrayProxy) Remove(target logicaltime.TimeTicket) error {
	return p.tx.record(&change.RemoveOperation{Parent: p.arr.CreatedAt(), Target: &target, ExecutedTS: p.tx.next()})
}

// Len returns the number of live elements.
func (p *ArrayProxy) Len() int { return p.arr.Len() }

// At returns the live element at visible index i.
func (p *ArrayProxy) At(i int) (crdt.Element, error) { return p.arr.At(i) }

// TextProxy is a handle onto one Text element.
type TextProxy struct {
	tx   *Transaction
	text *crdt.Text
}

// Edit replaces [from, to) with content.
func (p *TextProxy) Edit(from, to int, content string) error {
	return p.tx.record(&change.EditOperation{Parent: p.text.CreatedAt(), From: from, To: to, Content: content, ExecutedTS: p.tx.next()})
}

// EditWithAttrs replaces [from, to) with content whose run carries attrs.
func (p *TextProxy) EditWithAttrs(from, to int, content string, attrs map[string]string) error {
	return p.tx.record(&change.EditOperation{Parent: p.text.CreatedAt(), From: from, To: to, Content: content, Attrs: attrs, ExecutedTS: p.tx.next()})
}

// Style applies key=value across [from, to).
func (p *TextProxy) Style(from, to int, key, value string) error {
	return p.tx.record(&change.StyleOperation{Parent: p.text.CreatedAt(), From: from, To: to, Attrs: map[string]string{key: value}, ExecutedTS: p.tx.next()})
}

// RemoveStyle clears key across [from, to).
func (p *TextProxy) RemoveStyle(from, to int, key string) error {
	return p.tx.record(&change.StyleOperation{Parent: p.text.CreatedAt(), From: from, To: to, Keys: []string{key}, Remove: true, ExecutedTS: p.tx.next()})
}

// String returns the text's current visible content.
func (p *TextProxy) String() string { return p.text.String() }

// CounterProxy is a handle onto one Counter element.
type CounterProxy struct {
	tx      *Transaction
	counter *crdt.Counter
}

// Increase folds delta into the counter.
func (p *CounterProxy) Increase(delta float64) error {
	return p.tx.record(&change.IncreaseOperation{Target: p.counter.CreatedAt(), Delta: delta, ExecutedTS: p.tx.next()})
}

// Value returns the counter's current total.
func (p *CounterProxy) Value() interface{} { return p.counter.Value() }

// TreeProxy is a handle onto one Tree element.
type TreeProxy struct {
	tx   *Transaction
	tree *crdt.Tree
}

// Edit replaces the token range [from, to) with contents, cloning
// splitLevel ancestors at the insertion boundary first.
func (p *TreeProxy) Edit(from, to int, contents []crdt.TreeContent, splitLevel int) error {
	return p.tx.record(&change.TreeEditOperation{
		Tree: p.tree.CreatedAt(), From: from, To: to,
		Contents: contents, SplitLevel: splitLevel, ExecutedTS: p.tx.next(),
	})
}

// EditByPath is Edit with path-addressed boundaries.
func (p *TreeProxy) EditByPath(fromPath, toPath []int, contents []crdt.TreeContent, splitLevel int) error {
	from, err := p.tree.PathToIndex(fromPath)
	if err != nil {
		return errors.Wrapf(err, "proxy: resolve tree path %v", fromPath)
	}
	to, err := p.tree.PathToIndex(toPath)
	if err != nil {
		return errors.Wrapf(err, "proxy: resolve tree path %v", toPath)
	}
	return p.Edit(from, to, contents, splitLevel)
}

// InsertText inserts a text leaf as the offset-th child of the element
// at parentPath.
func (p *TreeProxy) InsertText(parentPath []int, offset int, content string) error {
	idx, err := p.tree.PathToIndex(append(append([]int(nil), parentPath...), offset))
	if err != nil {
		return errors.Wrapf(err, "proxy: resolve tree path %v", parentPath)
	}
	return p.Edit(idx, idx, []crdt.TreeContent{{Text: content}}, 0)
}

// InsertElement inserts an element node tagged tag as the offset-th
// child of the element at parentPath.
func (p *TreeProxy) InsertElement(parentPath []int, offset int, tag string) error {
	idx, err := p.tree.PathToIndex(append(append([]int(nil), parentPath...), offset))
	if err != nil {
		return errors.Wrapf(err, "proxy: resolve tree path %v", parentPath)
	}
	return p.Edit(idx, idx, []crdt.TreeContent{{Tag: tag}}, 0)
}

// RemoveNode tombstones the node at path.
func (p *TreeProxy) RemoveNode(path []int) error {
	target, err := p.tree.FindByPath(path)
	if err != nil {
		return errors.Wrapf(err, "proxy: resolve tree path %v", path)
	}
	idx, err := p.tree.PathToIndex(path)
	if err != nil {
		return errors.Wrapf(err, "proxy: resolve tree path %v", path)
	}
	return p.Edit(idx, idx+target.Len(), nil, 0)
}

// Style applies attrs to every element node whose open tag lies in
// [from, to).
func (p *TreeProxy) Style(from, to int, attrs map[string]string) error {
	return p.tx.record(&change.TreeStyleOperation{
		Tree: p.tree.CreatedAt(), From: from, To: to, Attrs: attrs, ExecutedTS: p.tx.next(),
	})
}

// StyleByPath applies attrs to the element node at path.
func (p *TreeProxy) StyleByPath(path []int, attrs map[string]string) error {
	idx, err := p.tree.PathToIndex(path)
	if err != nil {
		return errors.Wrapf(err, "proxy: resolve tree path %v", path)
	}
	return p.Style(idx, idx+1, attrs)
}

// RemoveStyle clears keys across the element nodes whose open tag lies
// in [from, to).
func (p *TreeProxy) RemoveStyle(from, to int, keys []string) error {
	return p.tx.record(&change.TreeStyleOperation{
		Tree: p.tree.CreatedAt(), From: from, To: to, Keys: keys, Remove: true, ExecutedTS: p.tx.next(),
	})
}

// XML renders the tree's current live structure.
func (p *TreeProxy) XML() string { return p.tree.ToXML() }

