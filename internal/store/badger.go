// Package store persists MessagingState to an embedded ordered
// key-value store and implements the merge/migration rules that keep a
// reloaded cache consistent with spec §4.7 (C7 of the DM engine).
//
// badger was picked over hand-rolling a flat-file store because it's the
// embedded KV store the example pack itself reaches for in a
// nostr-adjacent Go service (see DESIGN.md) — not a stdlib fallback.
package store

import (
	"encoding/json"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
)

// KV wraps a badger.DB with the narrow get/put/delete/clear surface
// spec §6's KeyValueStore interface names.
type KV struct {
	db *badger.DB
}

// OpenOrCreate opens (creating if absent) a badger database rooted at
// dir. A single badger.DB backs both the "dm-cache" and "media-blobs"
// logical stores named in spec §6 — badger has no notion of named
// sub-stores, so keys are namespaced with a "<store>:" prefix instead,
// mirroring how the teacher namespaces its flat files by concern rather
// than opening one file per concern.
func OpenOrCreate(dir string) (*KV, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger db at %q: %w", dir, err)
	}
	return &KV{db: db}, nil
}

func (kv *KV) Close() error {
	return kv.db.Close()
}

// NewKVForTest wraps an already-open badger.DB (typically an in-memory
// one) so other packages' tests can exercise a real KV without going
// through OpenOrCreate's on-disk path.
func NewKVForTest(db *badger.DB) *KV {
	return &KV{db: db}
}

func namespacedKey(storeName, key string) []byte {
	return []byte(storeName + ":" + key)
}

// Get reads a raw value. Returns (nil, false, nil) if the key is absent.
func (kv *KV) Get(storeName, key string) ([]byte, bool, error) {
	var value []byte
	err := kv.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(namespacedKey(storeName, key))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			value = append([]byte(nil), v...)
			return nil
		})
	})
	if err != nil {
		return nil, false, fmt.Errorf("get %s/%s: %w", storeName, key, err)
	}
	return value, value != nil, nil
}

func (kv *KV) Put(storeName, key string, value []byte) error {
	err := kv.db.Update(func(txn *badger.Txn) error {
		return txn.Set(namespacedKey(storeName, key), value)
	})
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", storeName, key, err)
	}
	return nil
}

func (kv *KV) Delete(storeName, key string) error {
	err := kv.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(namespacedKey(storeName, key))
	})
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", storeName, key, err)
	}
	return nil
}

// Clear drops every key under storeName's namespace.
func (kv *KV) Clear(storeName string) error {
	prefix := []byte(storeName + ":")
	err := kv.db.Update(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		var keys [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, append([]byte(nil), it.Item().Key()...))
		}
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("clear %s: %w", storeName, err)
	}
	return nil
}

// PutJSON/GetJSON are the typed helpers the rest of C7 and C10's blob
// cache use; the raw Get/Put above back them.
func (kv *KV) PutJSON(storeName, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s/%s: %w", storeName, key, err)
	}
	return kv.Put(storeName, key, data)
}

func (kv *KV) GetJSON(storeName, key string, dest any) (bool, error) {
	data, ok, err := kv.Get(storeName, key)
	if err != nil || !ok {
		return ok, err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return true, fmt.Errorf("unmarshal %s/%s: %w", storeName, key, err)
	}
	return true, nil
}
