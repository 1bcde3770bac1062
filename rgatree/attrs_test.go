package rgatree_test

import (
	"testing"

	"docengine/logicaltime"
	"docengine/rgatree"

	"github.com/stretchr/testify/assert"
)

func TestAttrSetGetUnsetReturnsFalse(t *testing.T) {
	a := rgatree.NewAttrSet()
	_, ok := a.Get("bold")
	assert.False(t, ok)
}

func TestAttrSetSetThenGet(t *testing.T) {
	a := rgatree.NewAttrSet()
	a.Set("bold", "true", tick(logicaltime.NewActorID(), 1))
	v, ok := a.Get("bold")
	assert.True(t, ok)
	assert.Equal(t, "true", v)
}

func TestAttrSetLaterWriteWins(t *testing.T) {
	actor := logicaltime.NewActorID()
	a := rgatree.NewAttrSet()
	a.Set("color", "red", tick(actor, 5))
	a.Set("color", "blue", tick(actor, 3)) // earlier timestamp, must lose

	v, _ := a.Get("color")
	assert.Equal(t, "red", v)

	a.Set("color", "green", tick(actor, 9)) // later, must win
	v, _ = a.Get("color")
	assert.Equal(t, "green", v)
}

func TestAttrSetRemoveThenSetRestores(t *testing.T) {
	actor := logicaltime.NewActorID()
	a := rgatree.NewAttrSet()
	a.Set("bold", "true", tick(actor, 1))
	a.Remove("bold", tick(actor, 2))

	_, ok := a.Get("bold")
	assert.False(t, ok)

	a.Set("bold", "true", tick(actor, 3))
	v, ok := a.Get("bold")
	assert.True(t, ok)
	assert.Equal(t, "true", v)
}

func TestAttrSetCloneIsIndependent(t *testing.T) {
	actor := logicaltime.NewActorID()
	a := rgatree.NewAttrSet()
	a.Set("bold", "true", tick(actor, 1))

	clone := a.Clone()
	clone.Set("bold", "false", tick(actor, 2))

	v, _ := a.Get("bold")
	assert.Equal(t, "true", v)
	v, _ = clone.Get("bold")
	assert.Equal(t, "false", v)
}

func TestAttrSetMergeUnionTakesDominatingEntries(t *testing.T) {
	actor := logicaltime.NewActorID()
	a := rgatree.NewAttrSet()
	a.Set("bold", "true", tick(actor, 1))
	a.Set("color", "red", tick(actor, 5))

	b := rgatree.NewAttrSet()
	b.Set("color", "blue", tick(actor, 9)) // dominates a's color entry
	b.Set("italic", "true", tick(actor, 1))

	a.MergeUnion(b)

	v, _ := a.Get("bold")
	assert.Equal(t, "true", v, "bold only existed on a, must survive")
	v, _ = a.Get("color")
	assert.Equal(t, "blue", v, "b's later write must win the union")
	v, _ = a.Get("italic")
	assert.Equal(t, "true", v, "italic only existed on b, must be folded in")
}
