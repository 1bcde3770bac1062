package rgatree_test

import (
	"testing"

	"docengine/logicaltime"
	"docengine/rgatree"

	"github.com/stretchr/testify/assert"
)

func TestRuneValueLenAndSlice(t *testing.T) {
	v := rgatree.RuneValue([]rune("hello"))
	assert.Equal(t, 5, v.Len())
	assert.Equal(t, rgatree.RuneValue([]rune("ell")), v.Slice(1, 4))
}

func TestNodeRemoveRejectsEarlierOrEqualTimestamp(t *testing.T) {
	actor := logicaltime.NewActorID()
	n := rgatree.NewNode(rgatree.ID{CreatedAt: tick(actor, 1)}, rgatree.RuneValue([]rune("x")))

	assert.True(t, n.Remove(tick(actor, 5)))
	assert.False(t, n.Remove(tick(actor, 5)), "same timestamp must not re-apply")
	assert.False(t, n.Remove(tick(actor, 3)), "an earlier timestamp must lose to the existing tombstone")
	assert.True(t, n.Remove(tick(actor, 9)), "a later timestamp must still win")
}

func TestNodeLenIsZeroOnceRemoved(t *testing.T) {
	actor := logicaltime.NewActorID()
	n := rgatree.NewNode(rgatree.ID{CreatedAt: tick(actor, 1)}, rgatree.RuneValue([]rune("hello")))
	assert.Equal(t, 5, n.Len())
	n.Remove(tick(actor, 2))
	assert.Equal(t, 0, n.Len())
}

func TestIDLessOrdersByCreatedAtThenOffset(t *testing.T) {
	actor := logicaltime.NewActorID()
	low := rgatree.ID{CreatedAt: tick(actor, 1), Offset: 0}
	high := rgatree.ID{CreatedAt: tick(actor, 2), Offset: 0}
	assert.True(t, low.Less(high))

	a := rgatree.ID{CreatedAt: tick(actor, 1), Offset: 0}
	b := rgatree.ID{CreatedAt: tick(actor, 1), Offset: 1}
	assert.True(t, a.Less(b))
}
