package change_test

import (
	"encoding/json"
	"testing"

	"docengine/change"
	"docengine/crdt"
	"docengine/logicaltime"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func tick(actor logicaltime.ActorID, lamport uint64) logicaltime.TimeTicket {
	return logicaltime.NewTimeTicket(lamport, 0, actor)
}

func newTestChange(actor logicaltime.ActorID) *change.Change {
	root := tick(actor, 0)
	id := logicaltime.NewChangeID(1, 3, actor, nil)
	id.VersionVector.Bump(actor, 3)
	ch := change.NewChange(id, []change.Operation{
		&change.SetOperation{
			Parent:     root,
			Key:        "title",
			Value:      change.ValueSpec{Kind: change.ValueKindRegister, Primitive: crdt.PrimitiveString, Raw: "hello"},
			ExecutedTS: tick(actor, 1),
		},
		&change.EditOperation{
			Parent:  root,
			From:    0,
			To:      2,
			Content: "hi",
			MaxCreatedAtMapByActor: map[logicaltime.ActorID]logicaltime.TimeTicket{
				actor: tick(actor, 1),
			},
			ExecutedTS: tick(actor, 2),
		},
		&change.TreeEditOperation{
			Tree:       root,
			From:       0,
			To:         0,
			Contents:   []crdt.TreeContent{{Tag: "p", Children: []crdt.TreeContent{{Text: "ab"}}}},
			SplitLevel: 1,
			ExecutedTS: tick(actor, 3),
		},
	})
	ch.Message = "test change"
	return ch
}

func requireSameOps(t *testing.T, want, got *change.Change) {
	t.Helper()
	require.Len(t, got.Operations, len(want.Operations))
	for i, op := range want.Operations {
		assert.Equal(t, op.Code(), got.Operations[i].Code())
		assert.Equal(t, op.ExecutedAt(), got.Operations[i].ExecutedAt())
	}
	edit := got.Operations[1].(*change.EditOperation)
	assert.Equal(t, "hi", edit.Content)
	require.Len(t, edit.MaxCreatedAtMapByActor, 1, "the per-actor high-water map must survive the wire")
	treeEdit := got.Operations[2].(*change.TreeEditOperation)
	assert.Equal(t, 1, treeEdit.SplitLevel)
	require.Len(t, treeEdit.Contents, 1)
	assert.Equal(t, "p", treeEdit.Contents[0].Tag)
}

func TestChangeJSONRoundTrip(t *testing.T) {
	actor := logicaltime.NewActorID()
	ch := newTestChange(actor)

	data, err := json.Marshal(ch)
	require.NoError(t, err)

	var got change.Change
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, ch.ID.ClientSeq, got.ID.ClientSeq)
	assert.Equal(t, ch.ID.Lamport, got.ID.Lamport)
	assert.Equal(t, ch.Message, got.Message)
	requireSameOps(t, ch, &got)
}

func TestChangeBSONRoundTrip(t *testing.T) {
	actor := logicaltime.NewActorID()
	ch := newTestChange(actor)

	data, err := bson.Marshal(ch)
	require.NoError(t, err)

	var got change.Change
	require.NoError(t, bson.Unmarshal(data, &got))
	assert.Equal(t, ch.ID.ClientSeq, got.ID.ClientSeq)
	assert.Equal(t, ch.Message, got.Message)
	requireSameOps(t, ch, &got)
}

func TestChangeApplyRunsOperationsInOrder(t *testing.T) {
	actor := logicaltime.NewActorID()
	root := crdt.NewRoot(tick(actor, 0))

	id := logicaltime.NewChangeID(1, 2, actor, nil)
	ch := change.NewChange(id, []change.Operation{
		&change.SetOperation{
			Parent:     tick(actor, 0),
			Key:        "k",
			Value:      change.ValueSpec{Kind: change.ValueKindRegister, Primitive: crdt.PrimitiveString, Raw: "v1"},
			ExecutedTS: tick(actor, 1),
		},
		&change.SetOperation{
			Parent:     tick(actor, 0),
			Key:        "k",
			Value:      change.ValueSpec{Kind: change.ValueKindRegister, Primitive: crdt.PrimitiveString, Raw: "v2"},
			ExecutedTS: tick(actor, 2),
		},
	})

	require.NoError(t, ch.Apply(root))
	val := root.Object().Value().(map[string]interface{})
	assert.Equal(t, "v2", val["k"], "later operation in the same change wins")
}

func TestTargetOfResolvesEveryOperationKind(t *testing.T) {
	actor := logicaltime.NewActorID()
	parent := tick(actor, 7)

	ops := []change.Operation{
		&change.SetOperation{Parent: parent},
		&change.AddOperation{Parent: parent},
		&change.MoveOperation{Parent: parent},
		&change.RemoveOperation{Parent: parent},
		&change.IncreaseOperation{Target: parent},
		&change.EditOperation{Parent: parent},
		&change.StyleOperation{Parent: parent},
		&change.TreeEditOperation{Tree: parent},
		&change.TreeStyleOperation{Tree: parent},
	}
	for _, op := range ops {
		assert.Equal(t, parent, change.TargetOf(op), "op %s", op.Code())
	}
}

func TestValueSpecBuildRejectsUnknownKind(t *testing.T) {
	_, err := change.ValueSpec{Kind: "bogus"}.Build(tick(logicaltime.NewActorID(), 1))
	require.Error(t, err)
}
