// Package change implements the operation and change-record model a
// document applies to its CRDT root, and the wire envelope (ChangePack)
// that carries a batch of changes between a client and the sync
// transport (spec §3.4, §6.1, §6.2).
package change

import (
	"docengine/crdt"
	"docengine/logicaltime"

	"github.com/pkg/errors"
)

// Code tags which operation kind a Change entry carries.
type Code string

const (
	CodeSet        Code = "set"
	CodeAdd        Code = "add"
	CodeMove       Code = "move"
	CodeRemove     Code = "remove"
	CodeIncrease   Code = "increase"
	CodeEdit       Code = "edit"
	CodeStyle      Code = "style"
	CodeTreeEdit   Code = "tree_edit"
	CodeTreeStyle  Code = "tree_style"
)

// Operation is one mutation against the document root, carrying enough
// identity (parentCreatedAt or target, executedAt) to apply
// deterministically regardless of delivery order (spec §6.1).
type Operation interface {
	// Code reports which operation kind this is.
	Code() Code
	// ExecutedAt is the logical timestamp under which this operation
	// took effect; every LWW comparison inside Apply is keyed on it.
	ExecutedAt() logicaltime.TimeTicket
	// Apply mutates root in place. Apply must be idempotent under
	// redelivery of the exact same operation (spec §8 "idempotent
	// remote apply").
	Apply(root *crdt.Root) error
}

// ValueKind tags the shape of a value an operation installs.
type ValueKind string

const (
	ValueKindObject   ValueKind = "object"
	ValueKindArray    ValueKind = "array"
	ValueKindText     ValueKind = "text"
	ValueKindTree     ValueKind = "tree"
	ValueKindRegister ValueKind = "register"
	ValueKindCounter  ValueKind = "counter"
)

// ValueSpec describes the element a Set/Add operation should create, at
// the point it is applied rather than when it was authored, so every
// replica builds a structurally identical element, addressed by the
// operation's own executedAt (spec §6.1 "operations carry the value to create, not a
// reference").
type ValueSpec struct {
	Kind      ValueKind       `bson:"kind" json:"kind"`
	Primitive crdt.Primitive  `bson:"primitive,omitempty" json:"primitive,omitempty"`
	Raw       interface{}     `bson:"raw,omitempty" json:"raw,omitempty"`
}

// Build constructs the element this spec describes, identified by
// createdAt.
func (v ValueSpec) Build(createdAt logicaltime.TimeTicket) (crdt.Element, error) {
	switch v.Kind {
	case ValueKindObject:
		return crdt.NewObject(createdAt), nil
	case ValueKindArray:
		return crdt.NewArray(createdAt), nil
	case ValueKindText:
		return crdt.NewText(createdAt), nil
	case ValueKindTree:
		tag, _ := v.Raw.(string)
		return crdt.NewTree(createdAt, tag), nil
	case ValueKindRegister:
		return crdt.NewRegister(createdAt, v.Primitive, v.Raw), nil
	case ValueKindCounter:
		f, err := toFloat64(v.Raw)
		if err != nil {
			return nil, err
		}
		return crdt.NewCounter(createdAt, v.Primitive, f), nil
	default:
		return nil, errors.Errorf("change: unknown value kind %q", v.Kind)
	}
}

func toFloat64(raw interface{}) (float64, error) {
	switch n := raw.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, errors.Errorf("change: counter value %v is not numeric", raw)
	}
}

// TargetOf returns the identity of the container an operation mutates,
// used to resolve the document path a change event should be labeled
// with.
func TargetOf(op Operation) logicaltime.TimeTicket {
	switch o := op.(type) {
	case *SetOperation:
		return o.Parent
	case *AddOperation:
		return o.Parent
	case *MoveOperation:
		return o.Parent
	case *RemoveOperation:
		return o.Parent
	case *IncreaseOperation:
		return o.Target
	case *EditOperation:
		return o.Parent
	case *StyleOperation:
		return o.Parent
	case *TreeEditOperation:
		return o.Tree
	case *TreeStyleOperation:
		return o.Tree
	default:
		return logicaltime.TimeTicket{}
	}
}

// findObject resolves parent and asserts it is an Object, producing a
// consistent error message across every operation's Apply method.
func findObject(root *crdt.Root, parent logicaltime.TimeTicket) (*crdt.Object, error) {
	e, err := root.FindByCreatedAt(parent)
	if err != nil {
		return nil, err
	}
	obj, ok := e.(*crdt.Object)
	if !ok {
		return nil, errors.Errorf("change: element %s is not an object", parent)
	}
	return obj, nil
}

func findArray(root *crdt.Root, parent logicaltime.TimeTicket) (*crdt.Array, error) {
	e, err := root.FindByCreatedAt(parent)
	if err != nil {
		return nil, err
	}
	arr, ok := e.(*crdt.Array)
	if !ok {
		return nil, errors.Errorf("change: element %s is not an array", parent)
	}
	return arr, nil
}

func findText(root *crdt.Root, parent logicaltime.TimeTicket) (*crdt.Text, error) {
	e, err := root.FindByCreatedAt(parent)
	if err != nil {
		return nil, err
	}
	t, ok := e.(*crdt.Text)
	if !ok {
		return nil, errors.Errorf("change: element %s is not a text", parent)
	}
	return t, nil
}

func findTree(root *crdt.Root, parent logicaltime.TimeTicket) (*crdt.Tree, error) {
	e, err := root.FindByCreatedAt(parent)
	if err != nil {
		return nil, err
	}
	t, ok := e.(*crdt.Tree)
	if !ok {
		return nil, errors.Errorf("change: element %s is not a tree", parent)
	}
	return t, nil
}

// SetOperation installs Value at Key on the Object identified by Parent
// (spec §4.2 Object.Set).
type SetOperation struct {
	Parent     logicaltime.TimeTicket `bson:"parent" json:"parent"`
	Key        string                 `bson:"key" json:"key"`
	Value      ValueSpec              `bson:"value" json:"value"`
	ExecutedTS logicaltime.TimeTicket `bson:"executedAt" json:"executedAt"`
}

func (o *SetOperation) Code() Code                             { return CodeSet }
func (o *SetOperation) ExecutedAt() logicaltime.TimeTicket      { return o.ExecutedTS }

// Apply implements Operation.
func (o *SetOperation) Apply(root *crdt.Root) error {
	obj, err := findObject(root, o.Parent)
	if err != nil {
		return err
	}
	elem, err := o.Value.Build(o.ExecutedTS)
	if err != nil {
		return err
	}
	obj.Set(o.Key, elem, o.ExecutedTS)
	root.RegisterElement(elem)
	return nil
}

// AddOperation inserts Value immediately after Prev in the Array
// identified by Parent (spec §4.2 Array.InsertAfter). Prev is
// crdt.HeadID to insert at the front.
type AddOperation struct {
	Parent     logicaltime.TimeTicket `bson:"parent" json:"parent"`
	Prev       logicaltime.TimeTicket `bson:"prev" json:"prev"`
	Value      ValueSpec              `bson:"value" json:"value"`
	ExecutedTS logicaltime.TimeTicket `bson:"executedAt" json:"executedAt"`
}

func (o *AddOperation) Code() Code                        { return CodeAdd }
func (o *AddOperation) ExecutedAt() logicaltime.TimeTicket { return o.ExecutedTS }

// Apply implements Operation.
func (o *AddOperation) Apply(root *crdt.Root) error {
	arr, err := findArray(root, o.Parent)
	if err != nil {
		return err
	}
	elem, err := o.Value.Build(o.ExecutedTS)
	if err != nil {
		return err
	}
	if err := arr.InsertAfter(o.Prev, elem, o.ExecutedTS); err != nil {
		return err
	}
	root.RegisterElement(elem)
	return nil
}

// MoveOperation relocates Target to just after Prev within the Array
// identified by Parent (spec §4.2 Array.moveAfter).
type MoveOperation struct {
	Parent     logicaltime.TimeTicket `bson:"parent" json:"parent"`
	Target     logicaltime.TimeTicket `bson:"target" json:"target"`
	Prev       logicaltime.TimeTicket `bson:"prev" json:"prev"`
	ExecutedTS logicaltime.TimeTicket `bson:"executedAt" json:"executedAt"`
}

func (o *MoveOperation) Code() Code                        { return CodeMove }
func (o *MoveOperation) ExecutedAt() logicaltime.TimeTicket { return o.ExecutedTS }

// Apply implements Operation.
func (o *MoveOperation) Apply(root *crdt.Root) error {
	arr, err := findArray(root, o.Parent)
	if err != nil {
		return err
	}
	return arr.MoveAfter(o.Target, o.Prev, o.ExecutedTS)
}

// RemoveOperation tombstones a child of Parent: Key selects the child
// when Parent is an Object, Target selects it when Parent is an Array
// (spec §4.2 Object.Remove / Array.Remove).
type RemoveOperation struct {
	Parent     logicaltime.TimeTicket  `bson:"parent" json:"parent"`
	Key        string                  `bson:"key,omitempty" json:"key,omitempty"`
	Target     *logicaltime.TimeTicket `bson:"target,omitempty" json:"target,omitempty"`
	ExecutedTS logicaltime.TimeTicket  `bson:"executedAt" json:"executedAt"`
}

func (o *RemoveOperation) Code() Code                        { return CodeRemove }
func (o *RemoveOperation) ExecutedAt() logicaltime.TimeTicket { return o.ExecutedTS }

// Apply implements Operation.
func (o *RemoveOperation) Apply(root *crdt.Root) error {
	e, err := root.FindByCreatedAt(o.Parent)
	if err != nil {
		return err
	}
	switch parent := e.(type) {
	case *crdt.Object:
		parent.Remove(o.Key, o.ExecutedTS)
		return nil
	case *crdt.Array:
		if o.Target == nil {
			return errors.Errorf("change: remove on array %s missing target", o.Parent)
		}
		return parent.Remove(*o.Target, o.ExecutedTS)
	default:
		return errors.Errorf("change: element %s cannot have a child removed", o.Parent)
	}
}

// IncreaseOperation folds Delta into the Counter identified by Target
// (spec §4.2 Counter.Increase). Distinct increments commute regardless
// of delivery order; redelivery of this exact operation is a no-op,
// keyed on ExecutedTS inside the counter (spec §8.1 invariant 7).
type IncreaseOperation struct {
	Target     logicaltime.TimeTicket `bson:"target" json:"target"`
	Delta      float64                `bson:"delta" json:"delta"`
	ExecutedTS logicaltime.TimeTicket `bson:"executedAt" json:"executedAt"`
}

func (o *IncreaseOperation) Code() Code                        { return CodeIncrease }
func (o *IncreaseOperation) ExecutedAt() logicaltime.TimeTicket { return o.ExecutedTS }

// Apply implements Operation.
func (o *IncreaseOperation) Apply(root *crdt.Root) error {
	e, err := root.FindByCreatedAt(o.Target)
	if err != nil {
		return err
	}
	c, ok := e.(*crdt.Counter)
	if !ok {
		return errors.Errorf("change: element %s is not a counter", o.Target)
	}
	c.Increase(o.Delta, o.ExecutedTS)
	return nil
}

// EditOperation replaces [From, To) of the Text identified by Parent
// with Content, carrying optional run attributes and the per-actor
// high-water map the author observed across the range at generation
// time (spec §4.2 Text.Edit, §6.1 maxCreatedAtMapByActor).
type EditOperation struct {
	Parent     logicaltime.TimeTicket `bson:"parent" json:"parent"`
	From       int                    `bson:"from" json:"from"`
	To         int                    `bson:"to" json:"to"`
	Content    string                 `bson:"content" json:"content"`
	Attrs      map[string]string      `bson:"attrs,omitempty" json:"attrs,omitempty"`
	// MaxCreatedAtMapByActor records, per actor, the latest run identity
	// the author had seen in [From, To). Receivers use it to keep runs
	// the author never saw (concurrent insertions) out of the deletion.
	// Populated on the operation's first (local) application.
	MaxCreatedAtMapByActor map[logicaltime.ActorID]logicaltime.TimeTicket `bson:"maxCreatedAtMapByActor,omitempty" json:"maxCreatedAtMapByActor,omitempty"`
	ExecutedTS             logicaltime.TimeTicket                         `bson:"executedAt" json:"executedAt"`
}

func (o *EditOperation) Code() Code                         { return CodeEdit }
func (o *EditOperation) ExecutedAt() logicaltime.TimeTicket { return o.ExecutedTS }

// Apply implements Operation. On the first application (the local one,
// where MaxCreatedAtMapByActor is still nil) the observed high-water map
// is captured onto the operation so its serialized form carries it to
// every remote replica.
func (o *EditOperation) Apply(root *crdt.Root) error {
	t, err := findText(root, o.Parent)
	if err != nil {
		return err
	}
	_, maxSeen, err := t.EditWithAttrs(o.From, o.To, o.Content, o.Attrs, o.MaxCreatedAtMapByActor, o.ExecutedTS)
	if err != nil {
		return err
	}
	if o.MaxCreatedAtMapByActor == nil {
		o.MaxCreatedAtMapByActor = maxSeen
	}
	return nil
}

// StyleOperation applies (or, with Remove set, clears) attributes across
// [From, To) of the Text identified by Parent (spec §4.2
// style/removeStyle).
type StyleOperation struct {
	Parent     logicaltime.TimeTicket `bson:"parent" json:"parent"`
	From       int                    `bson:"from" json:"from"`
	To         int                    `bson:"to" json:"to"`
	Attrs      map[string]string      `bson:"attrs,omitempty" json:"attrs,omitempty"`
	Keys       []string               `bson:"keys,omitempty" json:"keys,omitempty"`
	Remove     bool                   `bson:"remove,omitempty" json:"remove,omitempty"`
	ExecutedTS logicaltime.TimeTicket `bson:"executedAt" json:"executedAt"`
}

func (o *StyleOperation) Code() Code                         { return CodeStyle }
func (o *StyleOperation) ExecutedAt() logicaltime.TimeTicket { return o.ExecutedTS }

// Apply implements Operation.
func (o *StyleOperation) Apply(root *crdt.Root) error {
	t, err := findText(root, o.Parent)
	if err != nil {
		return err
	}
	if o.Remove {
		for _, k := range o.Keys {
			if err := t.RemoveStyle(o.From, o.To, k, o.ExecutedTS); err != nil {
				return err
			}
		}
		return nil
	}
	for k, v := range o.Attrs {
		if err := t.Style(o.From, o.To, k, v, o.ExecutedTS); err != nil {
			return err
		}
	}
	return nil
}

// TreeEditOperation replaces the token range [From, To) of the Tree
// identified by Tree with Contents, cloning SplitLevel ancestors at the
// insertion boundary first (spec §4.2 TreeEdit, §6.1).
type TreeEditOperation struct {
	Tree       logicaltime.TimeTicket `bson:"tree" json:"tree"`
	From       int                    `bson:"from" json:"from"`
	To         int                    `bson:"to" json:"to"`
	Contents   []crdt.TreeContent     `bson:"contents,omitempty" json:"contents,omitempty"`
	SplitLevel int                    `bson:"splitLevel,omitempty" json:"splitLevel,omitempty"`
	// MaxCreatedAtMapByActor plays the same role as EditOperation's:
	// captured on first application, honored on every later one.
	MaxCreatedAtMapByActor map[logicaltime.ActorID]logicaltime.TimeTicket `bson:"maxCreatedAtMapByActor,omitempty" json:"maxCreatedAtMapByActor,omitempty"`
	ExecutedTS             logicaltime.TimeTicket                         `bson:"executedAt" json:"executedAt"`
}

func (o *TreeEditOperation) Code() Code                         { return CodeTreeEdit }
func (o *TreeEditOperation) ExecutedAt() logicaltime.TimeTicket { return o.ExecutedTS }

// Apply implements Operation.
func (o *TreeEditOperation) Apply(root *crdt.Root) error {
	t, err := findTree(root, o.Tree)
	if err != nil {
		return err
	}
	maxSeen, err := t.Edit(o.From, o.To, o.Contents, o.SplitLevel, o.MaxCreatedAtMapByActor, o.ExecutedTS)
	if err != nil {
		return err
	}
	if o.MaxCreatedAtMapByActor == nil {
		o.MaxCreatedAtMapByActor = maxSeen
	}
	return nil
}

// TreeStyleOperation applies (or clears) attributes across the element
// nodes whose open tag lies in [From, To) of the Tree identified by
// Tree; text leaves in the range are skipped (spec §4.2 TreeStyle).
type TreeStyleOperation struct {
	Tree       logicaltime.TimeTicket `bson:"tree" json:"tree"`
	From       int                    `bson:"from" json:"from"`
	To         int                    `bson:"to" json:"to"`
	Attrs      map[string]string      `bson:"attrs,omitempty" json:"attrs,omitempty"`
	Keys       []string               `bson:"keys,omitempty" json:"keys,omitempty"`
	Remove     bool                   `bson:"remove,omitempty" json:"remove,omitempty"`
	ExecutedTS logicaltime.TimeTicket `bson:"executedAt" json:"executedAt"`
}

func (o *TreeStyleOperation) Code() Code                         { return CodeTreeStyle }
func (o *TreeStyleOperation) ExecutedAt() logicaltime.TimeTicket { return o.ExecutedTS }

// Apply implements Operation.
func (o *TreeStyleOperation) Apply(root *crdt.Root) error {
	t, err := findTree(root, o.Tree)
	if err != nil {
		return err
	}
	if o.Remove {
		return t.RemoveStyleRange(o.From, o.To, o.Keys, o.ExecutedTS)
	}
	return t.StyleRange(o.From, o.To, o.Attrs, o.ExecutedTS)
}
