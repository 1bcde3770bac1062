package document_test

import (
	"testing"

	"docengine/change"
	"docengine/document"
	"docengine/logicaltime"
	"docengine/proxy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyChangePackCollectsTombstonesCoveredByMinSyncedVV(t *testing.T) {
	doc := newDoc(t)

	require.NoError(t, doc.Update("first", func(tx *proxy.Transaction) error {
		return tx.Root().SetString("k", "first")
	}))
	firstChange := doc.PendingChanges()[0]

	require.NoError(t, doc.Update("second", func(tx *proxy.Transaction) error {
		return tx.Root().SetString("k", "second")
	}))

	// before any sync, the overwritten first value is a live tombstone.
	val := doc.RootValue().(map[string]interface{})
	assert.Equal(t, "second", val["k"])

	vv := logicaltime.NewVersionVector()
	vv.Bump(firstChange.ActorID(), firstChange.ID.Lamport+10)

	pack := &change.ChangePack{
		Checkpoint:             logicaltime.Checkpoint{ServerSeq: 1, ClientSeq: 0},
		MinSyncedVersionVector: vv,
	}
	require.NoError(t, doc.ApplyChangePack(pack))

	val = doc.RootValue().(map[string]interface{})
	assert.Equal(t, "second", val["k"], "GC must not disturb the live value")
	assert.Zero(t, doc.GarbageCollect(vv), "the pack's own GC pass already reclaimed the overwritten value")
}

func TestWithDisableGCSkipsCollection(t *testing.T) {
	doc := newDoc(t, document.WithDisableGC())

	require.NoError(t, doc.Update("first", func(tx *proxy.Transaction) error {
		return tx.Root().SetString("k", "first")
	}))
	firstChange := doc.PendingChanges()[0]
	require.NoError(t, doc.Update("second", func(tx *proxy.Transaction) error {
		return tx.Root().SetString("k", "second")
	}))

	vv := logicaltime.NewVersionVector()
	vv.Bump(firstChange.ActorID(), firstChange.ID.Lamport+10)
	pack := &change.ChangePack{MinSyncedVersionVector: vv}
	require.NoError(t, doc.ApplyChangePack(pack))

	val := doc.RootValue().(map[string]interface{})
	assert.Equal(t, "second", val["k"])
}

func TestGarbageCollectReturnsReclaimedCount(t *testing.T) {
	doc := newDoc(t)

	require.NoError(t, doc.Update("build", func(tx *proxy.Transaction) error {
		for _, key := range []string{"a", "b", "c"} {
			if _, err := tx.Root().SetObject(key); err != nil {
				return err
			}
		}
		return nil
	}))
	require.NoError(t, doc.Update("remove", func(tx *proxy.Transaction) error {
		if err := tx.Root().Delete("a"); err != nil {
			return err
		}
		return tx.Root().Delete("b")
	}))

	actor := doc.PendingChanges()[0].ActorID()
	low := logicaltime.NewVersionVector()
	assert.Zero(t, doc.GarbageCollect(low), "a watermark below the removals reclaims nothing")

	high := logicaltime.NewVersionVector()
	high.Bump(actor, doc.PendingChanges()[1].ID.Lamport+10)
	assert.Equal(t, 2, doc.GarbageCollect(high))
	assert.Zero(t, doc.GarbageCollect(high), "GC is monotone: a re-run reclaims nothing new")
}

func TestGarbageCollectWithDisableGCReturnsZero(t *testing.T) {
	doc := newDoc(t, document.WithDisableGC())
	require.NoError(t, doc.Update("build", func(tx *proxy.Transaction) error {
		if _, err := tx.Root().SetObject("a"); err != nil {
			return err
		}
		return tx.Root().Delete("a")
	}))

	vv := logicaltime.NewVersionVector()
	vv.Bump(doc.PendingChanges()[0].ActorID(), 100)
	assert.Zero(t, doc.GarbageCollect(vv))
}
