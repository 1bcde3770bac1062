package rgatree_test

import (
	"testing"

	"docengine/logicaltime"
	"docengine/rgatree"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tick(actor logicaltime.ActorID, lamport uint64) logicaltime.TimeTicket {
	return logicaltime.NewTimeTicket(lamport, 0, actor)
}

func TestChainInsertAfterAppendsInOrder(t *testing.T) {
	actor := logicaltime.NewActorID()
	c := rgatree.NewChain()

	n1, err := c.InsertAfter(c.HeadID(), tick(actor, 1), rgatree.RuneValue([]rune("ab")))
	require.NoError(t, err)
	_, err = c.InsertAfter(n1.ID(), tick(actor, 2), rgatree.RuneValue([]rune("cd")))
	require.NoError(t, err)

	assert.Equal(t, []rune("abcd"), c.Runes())
	assert.Equal(t, 4, c.Len())
}

func TestChainInsertAfterSameAnchorTieBreaksByDescendingCreatedAt(t *testing.T) {
	actor1, actor2 := logicaltime.NewActorID(), logicaltime.NewActorID()
	c := rgatree.NewChain()

	// Two concurrent inserts at the same anchor (HEAD), authored at
	// different lamports. RGA orders them by descending createdAt, so the
	// higher ticket ends up first regardless of apply order.
	_, err := c.InsertAfter(c.HeadID(), tick(actor1, 1), rgatree.RuneValue([]rune("A")))
	require.NoError(t, err)
	_, err = c.InsertAfter(c.HeadID(), tick(actor2, 2), rgatree.RuneValue([]rune("B")))
	require.NoError(t, err)

	assert.Equal(t, []rune("BA"), c.Runes())
}

func TestChainSplitAtInteriorOfRun(t *testing.T) {
	actor := logicaltime.NewActorID()
	c := rgatree.NewChain()

	_, err := c.InsertAfter(c.HeadID(), tick(actor, 1), rgatree.RuneValue([]rune("hello")))
	require.NoError(t, err)

	id, err := c.SplitAt(2)
	require.NoError(t, err)

	left, err := c.Find(id)
	require.NoError(t, err)
	assert.Equal(t, 2, left.Len())
	assert.Equal(t, []rune("hello"), c.Runes(), "splitting must not change the visible content")
}

func TestChainSplitAtZeroReturnsHead(t *testing.T) {
	c := rgatree.NewChain()
	id, err := c.SplitAt(0)
	require.NoError(t, err)
	assert.Equal(t, c.HeadID(), id)
}

func TestChainRemoveRangeTombstonesAndShrinksLen(t *testing.T) {
	actor := logicaltime.NewActorID()
	c := rgatree.NewChain()

	_, err := c.InsertAfter(c.HeadID(), tick(actor, 1), rgatree.RuneValue([]rune("hello world")))
	require.NoError(t, err)

	removed, err := c.RemoveRange(5, 11, tick(actor, 2))
	require.NoError(t, err)
	assert.NotEmpty(t, removed)
	assert.Equal(t, []rune("hello"), c.Runes())
	assert.Equal(t, 5, c.Len())
}

func TestChainRemoveRangeEmptyRangeIsNoop(t *testing.T) {
	actor := logicaltime.NewActorID()
	c := rgatree.NewChain()
	_, err := c.InsertAfter(c.HeadID(), tick(actor, 1), rgatree.RuneValue([]rune("abc")))
	require.NoError(t, err)

	removed, err := c.RemoveRange(1, 1, tick(actor, 2))
	require.NoError(t, err)
	assert.Nil(t, removed)
	assert.Equal(t, 3, c.Len())
}

func TestChainRemoveRangeRedeliveryIsIdempotent(t *testing.T) {
	// Re-applying the exact same remove operation (same range, same
	// timestamp) must leave the chain in the same visible state, since a
	// remote change can be redelivered (spec §8 "idempotent remote
	// apply").
	actor := logicaltime.NewActorID()
	c := rgatree.NewChain()
	_, err := c.InsertAfter(c.HeadID(), tick(actor, 1), rgatree.RuneValue([]rune("abcdef")))
	require.NoError(t, err)

	_, err = c.RemoveRange(1, 4, tick(actor, 5))
	require.NoError(t, err)
	first := append([]rune(nil), c.Runes()...)
	firstLen := c.Len()

	_, err = c.RemoveRange(1, 4, tick(actor, 5))
	require.NoError(t, err)

	assert.Equal(t, first, c.Runes())
	assert.Equal(t, firstLen, c.Len())
}

func TestChainInsertAfterTieBreakIsOrderIndependent(t *testing.T) {
	// Two replicas apply the same two concurrent inserts at the same
	// anchor in opposite arrival order; the RGA tie-break must still
	// produce the same visible content either way (spec §4.2 tie-break,
	// §8.2 convergence law).
	actor1, actor2 := logicaltime.NewActorID(), logicaltime.NewActorID()

	c1 := rgatree.NewChain()
	_, err := c1.InsertAfter(c1.HeadID(), tick(actor1, 1), rgatree.RuneValue([]rune("A")))
	require.NoError(t, err)
	_, err = c1.InsertAfter(c1.HeadID(), tick(actor2, 2), rgatree.RuneValue([]rune("B")))
	require.NoError(t, err)

	c2 := rgatree.NewChain()
	_, err = c2.InsertAfter(c2.HeadID(), tick(actor2, 2), rgatree.RuneValue([]rune("B")))
	require.NoError(t, err)
	_, err = c2.InsertAfter(c2.HeadID(), tick(actor1, 1), rgatree.RuneValue([]rune("A")))
	require.NoError(t, err)

	assert.Equal(t, c1.Runes(), c2.Runes())
	assert.Equal(t, []rune("BA"), c1.Runes())
}

func TestChainCloneIsIndependent(t *testing.T) {
	actor := logicaltime.NewActorID()
	c := rgatree.NewChain()
	_, err := c.InsertAfter(c.HeadID(), tick(actor, 1), rgatree.RuneValue([]rune("abc")))
	require.NoError(t, err)

	clone := c.Clone()
	_, err = clone.InsertAfter(clone.HeadID(), tick(actor, 2), rgatree.RuneValue([]rune("z")))
	require.NoError(t, err)

	assert.Equal(t, []rune("abc"), c.Runes(), "mutating the clone must not affect the original")
	assert.Equal(t, []rune("zabc"), clone.Runes())
}

func TestChainDetachRewiresNeighbors(t *testing.T) {
	actor := logicaltime.NewActorID()
	c := rgatree.NewChain()

	n1, err := c.InsertAfter(c.HeadID(), tick(actor, 1), rgatree.RuneValue([]rune("a")))
	require.NoError(t, err)
	n2, err := c.InsertAfter(n1.ID(), tick(actor, 2), rgatree.RuneValue([]rune("b")))
	require.NoError(t, err)
	n3, err := c.InsertAfter(n2.ID(), tick(actor, 3), rgatree.RuneValue([]rune("c")))
	require.NoError(t, err)

	_, err = c.RemoveRange(1, 2, tick(actor, 4))
	require.NoError(t, err)

	c.Detach(n2.ID())

	_, err = c.Find(n2.ID())
	assert.Error(t, err, "detached node must no longer be findable")

	// n1 and n3 must still be reachable and well ordered after detach.
	_, err = c.Find(n1.ID())
	assert.NoError(t, err)
	_, err = c.Find(n3.ID())
	assert.NoError(t, err)
	assert.Equal(t, []rune("ac"), c.Runes())
}

func TestChainMaxCreatedAtInReportsPerActorHighWater(t *testing.T) {
	actor1, actor2 := logicaltime.NewActorID(), logicaltime.NewActorID()
	c := rgatree.NewChain()

	n1, err := c.InsertAfter(c.HeadID(), tick(actor1, 1), rgatree.RuneValue([]rune("ab")))
	require.NoError(t, err)
	_, err = c.InsertAfter(n1.ID(), tick(actor2, 2), rgatree.RuneValue([]rune("cd")))
	require.NoError(t, err)

	maxSeen, err := c.MaxCreatedAtIn(1, 3)
	require.NoError(t, err)
	assert.Equal(t, tick(actor1, 1), maxSeen[actor1])
	assert.Equal(t, tick(actor2, 2), maxSeen[actor2])

	// A range confined to actor1's run must not mention actor2.
	maxSeen, err = c.MaxCreatedAtIn(0, 2)
	require.NoError(t, err)
	_, ok := maxSeen[actor2]
	assert.False(t, ok)
}

func TestChainRemoveRangeWithMaxSparesUnseenRuns(t *testing.T) {
	actor1, actor2 := logicaltime.NewActorID(), logicaltime.NewActorID()
	c := rgatree.NewChain()

	n1, err := c.InsertAfter(c.HeadID(), tick(actor1, 1), rgatree.RuneValue([]rune("ab")))
	require.NoError(t, err)

	// The deleter authored its range against "ab" alone.
	maxSeen, err := c.MaxCreatedAtIn(0, 2)
	require.NoError(t, err)

	// A concurrent insertion the deleter never observed.
	_, err = c.InsertAfter(n1.ID(), tick(actor2, 5), rgatree.RuneValue([]rune("X")))
	require.NoError(t, err)
	require.Equal(t, []rune("abX"), c.Runes())

	_, err = c.RemoveRangeWithMax(0, 3, maxSeen, tick(actor1, 6))
	require.NoError(t, err)
	assert.Equal(t, []rune("X"), c.Runes(), "the unseen run must survive the deletion")
}

func TestChainInsertAfterRedeliveryIsNoOp(t *testing.T) {
	actor := logicaltime.NewActorID()
	c := rgatree.NewChain()

	op := tick(actor, 1)
	_, err := c.InsertAfter(c.HeadID(), op, rgatree.RuneValue([]rune("abc")))
	require.NoError(t, err)
	_, err = c.InsertAfter(c.HeadID(), op, rgatree.RuneValue([]rune("abc")))
	require.NoError(t, err)

	assert.Equal(t, []rune("abc"), c.Runes())
	assert.Equal(t, 3, c.Len())
}
