package change

import (
	"encoding/json"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
)

// Operations travel the wire as a tagged envelope — the operation code
// plus the concrete payload — because neither JSON nor BSON can decode
// into the Operation interface directly. The same split the teacher's
// patch layer uses for its own type-tagged operation documents.

type jsonEnvelope struct {
	Code Code            `json:"code"`
	Op   json.RawMessage `json:"op"`
}

type bsonEnvelope struct {
	Code Code     `bson:"code"`
	Op   bson.Raw `bson:"op"`
}

// newOperation returns the zero value of the concrete operation type
// registered for code.
func newOperation(code Code) (Operation, error) {
	switch code {
	case CodeSet:
		return &SetOperation{}, nil
	case CodeAdd:
		return &AddOperation{}, nil
	case CodeMove:
		return &MoveOperation{}, nil
	case CodeRemove:
		return &RemoveOperation{}, nil
	case CodeIncrease:
		return &IncreaseOperation{}, nil
	case CodeEdit:
		return &EditOperation{}, nil
	case CodeStyle:
		return &StyleOperation{}, nil
	case CodeTreeEdit:
		return &TreeEditOperation{}, nil
	case CodeTreeStyle:
		return &TreeStyleOperation{}, nil
	default:
		return nil, errors.Errorf("change: unknown operation code %q", code)
	}
}

// changeJSON mirrors Change's fields with the Operations slice swapped
// out, so the custom (un)marshalers below can reuse the default codecs
// for everything else.
type changeJSON struct {
	ID             interface{}            `json:"id"`
	Operations     []jsonEnvelope         `json:"operations"`
	Message        string                 `json:"message,omitempty"`
	PresenceChange map[string]interface{} `json:"presenceChange,omitempty"`
}

type changeBSON struct {
	ID             interface{}            `bson:"id"`
	Operations     []bsonEnvelope         `bson:"operations"`
	Message        string                 `bson:"message,omitempty"`
	PresenceChange map[string]interface{} `bson:"presenceChange,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (c *Change) MarshalJSON() ([]byte, error) {
	out := changeJSON{ID: c.ID, Message: c.Message, PresenceChange: c.PresenceChange}
	for _, op := range c.Operations {
		raw, err := json.Marshal(op)
		if err != nil {
			return nil, errors.Wrapf(err, "change: marshal %s operation", op.Code())
		}
		out.Operations = append(out.Operations, jsonEnvelope{Code: op.Code(), Op: raw})
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *Change) UnmarshalJSON(data []byte) error {
	var in struct {
		ID             json.RawMessage        `json:"id"`
		Operations     []jsonEnvelope         `json:"operations"`
		Message        string                 `json:"message,omitempty"`
		PresenceChange map[string]interface{} `json:"presenceChange,omitempty"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return errors.Wrap(err, "change: unmarshal change")
	}
	if in.ID != nil {
		if err := json.Unmarshal(in.ID, &c.ID); err != nil {
			return errors.Wrap(err, "change: unmarshal change id")
		}
	}
	c.Message = in.Message
	c.PresenceChange = in.PresenceChange
	c.Operations = nil
	for _, env := range in.Operations {
		op, err := newOperation(env.Code)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(env.Op, op); err != nil {
			return errors.Wrapf(err, "change: unmarshal %s operation", env.Code)
		}
		c.Operations = append(c.Operations, op)
	}
	return nil
}

// MarshalBSON implements bson.Marshaler.
func (c *Change) MarshalBSON() ([]byte, error) {
	out := changeBSON{ID: c.ID, Message: c.Message, PresenceChange: c.PresenceChange}
	for _, op := range c.Operations {
		raw, err := bson.Marshal(op)
		if err != nil {
			return nil, errors.Wrapf(err, "change: marshal %s operation", op.Code())
		}
		out.Operations = append(out.Operations, bsonEnvelope{Code: op.Code(), Op: bson.Raw(raw)})
	}
	return bson.Marshal(out)
}

// UnmarshalBSON implements bson.Unmarshaler.
func (c *Change) UnmarshalBSON(data []byte) error {
	var in struct {
		ID             bson.Raw               `bson:"id"`
		Operations     []bsonEnvelope         `bson:"operations"`
		Message        string                 `bson:"message,omitempty"`
		PresenceChange map[string]interface{} `bson:"presenceChange,omitempty"`
	}
	if err := bson.Unmarshal(data, &in); err != nil {
		return errors.Wrap(err, "change: unmarshal change")
	}
	if len(in.ID) > 0 {
		if err := bson.Unmarshal(in.ID, &c.ID); err != nil {
			return errors.Wrap(err, "change: unmarshal change id")
		}
	}
	c.Message = in.Message
	c.PresenceChange = in.PresenceChange
	c.Operations = nil
	for _, env := range in.Operations {
		op, err := newOperation(env.Code)
		if err != nil {
			return err
		}
		if err := bson.Unmarshal(env.Op, op); err != nil {
			return errors.Wrapf(err, "change: unmarshal %s operation", env.Code)
		}
		c.Operations = append(c.Operations, op)
	}
	return nil
}
