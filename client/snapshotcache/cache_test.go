package snapshotcache_test

import (
	"testing"

	"docengine/client/snapshotcache"
	"docengine/logicaltime"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openCache(t *testing.T) *snapshotcache.Cache {
	t.Helper()
	cache, err := snapshotcache.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })
	return cache
}

func TestCachePutGetRoundTrip(t *testing.T) {
	cache := openCache(t)

	entry := snapshotcache.Entry{
		Checkpoint: logicaltime.Checkpoint{ServerSeq: 42, ClientSeq: 7},
		Snapshot:   []byte("snapshot-bytes"),
	}
	require.NoError(t, cache.Put("doc-1", entry))

	got, found, err := cache.Get("doc-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, entry.Checkpoint, got.Checkpoint)
	assert.Equal(t, entry.Snapshot, got.Snapshot)
}

func TestCacheGetMissingReturnsNotFound(t *testing.T) {
	cache := openCache(t)

	_, found, err := cache.Get("never-stored")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCacheDeleteRemovesEntry(t *testing.T) {
	cache := openCache(t)

	require.NoError(t, cache.Put("doc-1", snapshotcache.Entry{Snapshot: []byte("x")}))
	require.NoError(t, cache.Delete("doc-1"))

	_, found, err := cache.Get("doc-1")
	require.NoError(t, err)
	assert.False(t, found)
}
