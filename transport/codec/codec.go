// Package codec implements the compact wire encoding for ChangePacks and
// document snapshots, using BSON the way the teacher's storage layer
// uses mongo-driver for its own persisted documents — a binary,
// self-describing format well suited to the CRDT root's recursive,
// variant-typed shape (spec §6.2 wire format).
package codec

import (
	"docengine/change"
	"docengine/crdt"
	"docengine/logicaltime"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
)

// EncodeChangePack serializes pack to its wire form.
func EncodeChangePack(pack *change.ChangePack) ([]byte, error) {
	data, err := bson.Marshal(pack)
	return data, errors.Wrap(err, "codec: encode change pack")
}

// DecodeChangePack parses a wire-form ChangePack.
func DecodeChangePack(data []byte) (*change.ChangePack, error) {
	var pack change.ChangePack
	if err := bson.Unmarshal(data, &pack); err != nil {
		return nil, errors.Wrap(err, "codec: decode change pack")
	}
	return &pack, nil
}

// elementDTO is the recursive snapshot representation of one live
// element. Only live state is carried (spec §4.6 snapshot compaction);
// tombstones are folded into the accompanying version vector instead.
type elementDTO struct {
	Kind      crdt.ElementType       `bson:"kind"`
	CreatedAt logicaltime.TimeTicket `bson:"createdAt"`

	// object
	Order  []string               `bson:"order,omitempty"`
	Fields map[string]*elementDTO `bson:"fields,omitempty"`

	// array
	Elements []*elementDTO `bson:"elements,omitempty"`

	// register/counter
	Primitive crdt.Primitive `bson:"primitive,omitempty"`
	Raw       interface{}    `bson:"raw,omitempty"`

	// text
	Runs []crdt.TextRunExport `bson:"runs,omitempty"`

	// tree
	Tree *crdt.TreeNodeExport `bson:"tree,omitempty"`
}

// snapshotDTO is the top-level wire shape for EncodeSnapshot.
type snapshotDTO struct {
	Root    *elementDTO       `bson:"root"`
	Version map[string]uint64 `bson:"version"`
}

func encodeElement(e crdt.Element) (*elementDTO, error) {
	dto := &elementDTO{Kind: e.Type(), CreatedAt: e.CreatedAt()}
	switch v := e.(type) {
	case *crdt.Object:
		dto.Order = v.Keys()
		dto.Fields = make(map[string]*elementDTO, len(dto.Order))
		for _, k := range dto.Order {
			child, err := encodeElement(v.Get(k))
			if err != nil {
				return nil, err
			}
			dto.Fields[k] = child
		}
	case *crdt.Array:
		for _, el := range v.Elements() {
			child, err := encodeElement(el)
			if err != nil {
				return nil, err
			}
			dto.Elements = append(dto.Elements, child)
		}
	case *crdt.Register:
		dto.Primitive = v.Kind()
		dto.Raw = v.Value()
	case *crdt.Counter:
		dto.Primitive = v.Kind()
		dto.Raw = v.Value()
	case *crdt.Text:
		dto.Runs = v.ExportLiveRuns()
	case *crdt.Tree:
		export := v.ExportLive()
		dto.Tree = &export
	default:
		return nil, errors.Errorf("codec: unsupported element type %T", e)
	}
	return dto, nil
}

func decodeElement(dto *elementDTO) (crdt.Element, error) {
	switch dto.Kind {
	case crdt.TypeObject:
		obj := crdt.NewObject(dto.CreatedAt)
		for _, k := range dto.Order {
			child, err := decodeElement(dto.Fields[k])
			if err != nil {
				return nil, err
			}
			obj.Set(k, child, child.CreatedAt())
		}
		return obj, nil
	case crdt.TypeArray:
		arr := crdt.NewArray(dto.CreatedAt)
		prev := crdt.HeadID
		for _, el := range dto.Elements {
			child, err := decodeElement(el)
			if err != nil {
				return nil, err
			}
			if err := arr.InsertAfter(prev, child, child.CreatedAt()); err != nil {
				return nil, err
			}
			prev = child.CreatedAt()
		}
		return arr, nil
	case crdt.TypeRegister:
		return crdt.NewRegister(dto.CreatedAt, dto.Primitive, dto.Raw), nil
	case crdt.TypeCounter:
		f, _ := toFloat64(dto.Raw)
		return crdt.NewCounter(dto.CreatedAt, dto.Primitive, f), nil
	case crdt.TypeText:
		return crdt.NewTextFromRuns(dto.CreatedAt, dto.Runs)
	case crdt.TypeTree:
		if dto.Tree == nil {
			return crdt.NewTree(dto.CreatedAt, ""), nil
		}
		return crdt.NewTreeFromExport(*dto.Tree), nil
	default:
		return nil, errors.Errorf("codec: unknown element kind %q", dto.Kind)
	}
}

func toFloat64(raw interface{}) (float64, error) {
	switch n := raw.(type) {
	case float64:
		return n, nil
	case int64:
		return float64(n), nil
	case int32:
		return float64(n), nil
	default:
		return 0, errors.Errorf("codec: counter value %v is not numeric", raw)
	}
}

// EncodeSnapshot serializes root and the version vector that accompanies
// it (the GC floor at the moment the snapshot was taken) to bytes.
func EncodeSnapshot(root *crdt.Root, vv *logicaltime.VersionVector) ([]byte, error) {
	dto, err := encodeElement(root.Object())
	if err != nil {
		return nil, errors.Wrap(err, "codec: encode snapshot")
	}
	snap := snapshotDTO{Root: dto}
	if vv != nil {
		snap.Version = vv.MarshalEntries()
	}
	data, err := bson.Marshal(snap)
	return data, errors.Wrap(err, "codec: marshal snapshot")
}

// DecodeSnapshot parses a snapshot produced by EncodeSnapshot back into a
// fresh *crdt.Root and its accompanying version vector.
func DecodeSnapshot(data []byte) (*crdt.Root, *logicaltime.VersionVector, error) {
	var snap snapshotDTO
	if err := bson.Unmarshal(data, &snap); err != nil {
		return nil, nil, errors.Wrap(err, "codec: unmarshal snapshot")
	}
	obj, err := decodeElement(snap.Root)
	if err != nil {
		return nil, nil, errors.Wrap(err, "codec: decode snapshot")
	}
	decodedObj, ok := obj.(*crdt.Object)
	if !ok {
		return nil, nil, errors.New("codec: snapshot root is not an object")
	}
	root := crdt.NewRootFromObject(decodedObj)

	vv := logicaltime.NewVersionVector()
	if snap.Version != nil {
		if err := vv.UnmarshalEntries(snap.Version); err != nil {
			return nil, nil, errors.Wrap(err, "codec: decode version vector")
		}
	}
	return root, vv, nil
}
