package crdt_test

import (
	"testing"

	"docengine/crdt"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArrayInsertAfterAppendsAtEnd(t *testing.T) {
	actor := newActor()
	arr := crdt.NewArray(tick(actor, 0))

	a := crdt.NewRegister(tick(actor, 1), crdt.PrimitiveString, "a")
	require.NoError(t, arr.InsertAfter(crdt.HeadID, a, tick(actor, 1)))
	b := crdt.NewRegister(tick(actor, 2), crdt.PrimitiveString, "b")
	require.NoError(t, arr.InsertAfter(a.CreatedAt(), b, tick(actor, 2)))

	assert.Equal(t, 2, arr.Len())
	v0, err := arr.At(0)
	require.NoError(t, err)
	assert.Equal(t, "a", v0.Value())
	v1, err := arr.At(1)
	require.NoError(t, err)
	assert.Equal(t, "b", v1.Value())
}

func TestArrayConcurrentInsertAtHeadTieBreaksByDescendingCreatedAt(t *testing.T) {
	actor1, actor2 := newActor(), newActor()

	build := func(first, second *crdt.Register) *crdt.Array {
		arr := crdt.NewArray(tick(actor1, 0))
		require.NoError(t, arr.InsertAfter(crdt.HeadID, first, first.CreatedAt()))
		require.NoError(t, arr.InsertAfter(crdt.HeadID, second, second.CreatedAt()))
		return arr
	}

	a := crdt.NewRegister(tick(actor1, 1), crdt.PrimitiveString, "A")
	b := crdt.NewRegister(tick(actor2, 2), crdt.PrimitiveString, "B")

	arr1 := build(a, b)
	assert.Equal(t, []interface{}{"B", "A"}, arr1.Value())

	arr2 := build(b, a)
	assert.Equal(t, []interface{}{"B", "A"}, arr2.Value(), "insertion order must not affect the converged result")
}

func TestArrayRemove(t *testing.T) {
	actor := newActor()
	arr := crdt.NewArray(tick(actor, 0))
	a := crdt.NewRegister(tick(actor, 1), crdt.PrimitiveString, "a")
	require.NoError(t, arr.InsertAfter(crdt.HeadID, a, tick(actor, 1)))

	require.NoError(t, arr.Remove(a.CreatedAt(), tick(actor, 2)))
	assert.Equal(t, 0, arr.Len())
	assert.Len(t, arr.Tombstones(), 1)
}

func TestArrayMoveAfter(t *testing.T) {
	actor := newActor()
	arr := crdt.NewArray(tick(actor, 0))
	a := crdt.NewRegister(tick(actor, 1), crdt.PrimitiveString, "a")
	b := crdt.NewRegister(tick(actor, 2), crdt.PrimitiveString, "b")
	c := crdt.NewRegister(tick(actor, 3), crdt.PrimitiveString, "c")
	require.NoError(t, arr.InsertAfter(crdt.HeadID, a, tick(actor, 1)))
	require.NoError(t, arr.InsertAfter(a.CreatedAt(), b, tick(actor, 2)))
	require.NoError(t, arr.InsertAfter(b.CreatedAt(), c, tick(actor, 3)))

	// a, b, c -> move a after c -> b, c, a
	require.NoError(t, arr.MoveAfter(a.CreatedAt(), c.CreatedAt(), tick(actor, 4)))
	assert.Equal(t, []interface{}{"b", "c", "a"}, arr.Value())
}

func TestArrayMoveAfterIsLWW(t *testing.T) {
	actor := newActor()
	arr := crdt.NewArray(tick(actor, 0))
	a := crdt.NewRegister(tick(actor, 1), crdt.PrimitiveString, "a")
	b := crdt.NewRegister(tick(actor, 2), crdt.PrimitiveString, "b")
	require.NoError(t, arr.InsertAfter(crdt.HeadID, a, tick(actor, 1)))
	require.NoError(t, arr.InsertAfter(a.CreatedAt(), b, tick(actor, 2)))

	require.NoError(t, arr.MoveAfter(a.CreatedAt(), b.CreatedAt(), tick(actor, 10)))
	assert.Equal(t, []interface{}{"b", "a"}, arr.Value())

	// an earlier move must lose the race and leave the array unchanged.
	require.NoError(t, arr.MoveAfter(a.CreatedAt(), crdt.HeadID, tick(actor, 5)))
	assert.Equal(t, []interface{}{"b", "a"}, arr.Value())
}

func TestArrayCollectTombstoneDetachesFromBothChains(t *testing.T) {
	actor := newActor()
	arr := crdt.NewArray(tick(actor, 0))
	a := crdt.NewRegister(tick(actor, 1), crdt.PrimitiveString, "a")
	b := crdt.NewRegister(tick(actor, 2), crdt.PrimitiveString, "b")
	require.NoError(t, arr.InsertAfter(crdt.HeadID, a, tick(actor, 1)))
	require.NoError(t, arr.InsertAfter(a.CreatedAt(), b, tick(actor, 2)))

	require.NoError(t, arr.Remove(a.CreatedAt(), tick(actor, 3)))
	assert.True(t, arr.CollectTombstone(a.CreatedAt()))
	assert.Empty(t, arr.Tombstones())
	assert.Equal(t, []interface{}{"b"}, arr.Value())
}

func TestArrayCloneIsIndependent(t *testing.T) {
	actor := newActor()
	arr := crdt.NewArray(tick(actor, 0))
	a := crdt.NewRegister(tick(actor, 1), crdt.PrimitiveString, "a")
	require.NoError(t, arr.InsertAfter(crdt.HeadID, a, tick(actor, 1)))

	clone := arr.Clone()
	b := crdt.NewRegister(tick(actor, 2), crdt.PrimitiveString, "b")
	require.NoError(t, clone.InsertAfter(a.CreatedAt(), b, tick(actor, 2)))

	assert.Equal(t, 1, arr.Len())
	assert.Equal(t, 2, clone.Len())
}
