package rgatree_test

import (
	"testing"

	"docengine/logicaltime"
	"docengine/rgatree"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChainTombstonesListsOnlyRemovedNodes(t *testing.T) {
	actor := logicaltime.NewActorID()
	c := rgatree.NewChain()

	_, err := c.InsertAfter(c.HeadID(), tick(actor, 1), rgatree.RuneValue([]rune("abc")))
	require.NoError(t, err)

	assert.Empty(t, c.Tombstones())

	_, err = c.RemoveRange(0, 1, tick(actor, 2))
	require.NoError(t, err)

	tombstones := c.Tombstones()
	require.Len(t, tombstones, 1)
	assert.True(t, tombstones[0].IsRemoved())
}

func TestChainDetachOfUnknownIDIsNoop(t *testing.T) {
	actor := logicaltime.NewActorID()
	c := rgatree.NewChain()
	_, err := c.InsertAfter(c.HeadID(), tick(actor, 1), rgatree.RuneValue([]rune("abc")))
	require.NoError(t, err)

	unknown := rgatree.ID{CreatedAt: tick(actor, 99)}
	c.Detach(unknown) // never inserted; must not panic or corrupt state
	assert.Equal(t, 3, c.Len())
}
