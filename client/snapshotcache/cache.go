// Package snapshotcache persists the last-known snapshot and checkpoint
// for each attached document locally, so a client can resume offline
// work or skip re-fetching a snapshot it already has (spec §6.4 "local
// cache"). Grounded in the teacher's storage-provider abstraction, but
// backed directly by Badger rather than a pluggable persistence
// interface, since this cache has exactly one real implementation.
package snapshotcache

import (
	"encoding/json"

	"docengine/logicaltime"

	"github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"
)

// Entry is what's persisted per document key.
type Entry struct {
	Checkpoint logicaltime.Checkpoint `json:"checkpoint"`
	Snapshot   []byte                 `json:"snapshot"`
}

// Cache is a Badger-backed local store of document snapshots.
type Cache struct {
	db *badger.DB
}

// Open opens (creating if absent) a Badger database at dir.
func Open(dir string) (*Cache, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "snapshotcache: open")
	}
	return &Cache{db: db}, nil
}

// Close releases the underlying database.
func (c *Cache) Close() error { return c.db.Close() }

// Put stores entry under docKey.
func (c *Cache) Put(docKey string, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrap(err, "snapshotcache: marshal")
	}
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(docKey), data)
	})
}

// Get retrieves the entry stored for docKey, or (Entry{}, false, nil) if
// there isn't one.
func (c *Cache) Get(docKey string) (Entry, bool, error) {
	var entry Entry
	found := false
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(docKey))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		})
	})
	if err != nil {
		return Entry{}, false, errors.Wrap(err, "snapshotcache: get")
	}
	return entry, found, nil
}

// Delete removes docKey's cached entry, e.g. once the document is
// permanently removed server-side.
func (c *Cache) Delete(docKey string) error {
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(docKey))
	})
}
