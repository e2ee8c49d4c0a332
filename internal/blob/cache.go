// Package blob implements the content-addressed, LRU-bounded media blob
// cache (C10) and the default Blossom-backed BlobHost (C9/C10's upload
// side).
package blob

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/pinpox/dmengine/internal/store"
)

const mediaBlobsStore = "media-blobs"

// Key computes the content-address for a decrypted blob: hash(url ||
// nonce) — the nonce disambiguates re-encrypted copies of the same URL.
func Key(url, nonceBase64 string) string {
	sum := sha256.Sum256([]byte(url + "|" + nonceBase64))
	return hex.EncodeToString(sum[:])
}

// Entry is the cached value: decrypted bytes plus display metadata.
type Entry struct {
	Bytes      []byte
	MimeType   string
	AccessedAt int64 // epoch-ms
}

// Cache is an in-memory LRU over Entry, persisted alongside message
// state via the same KV store C7 uses. No LRU library appears anywhere
// in the example pack (grep hits were false positives on substrings
// like "mailru"), so the eviction list is hand-rolled over the stdlib
// container/list, same structure as a textbook LRU — see DESIGN.md.
type Cache struct {
	mu        sync.Mutex
	maxBytes  int64
	curBytes  int64
	ll        *list.List
	items     map[string]*list.Element
	kv        *store.KV
}

type cacheItem struct {
	key   string
	entry Entry
}

func NewCache(kv *store.KV, maxBytes int64) *Cache {
	return &Cache{
		maxBytes: maxBytes,
		ll:       list.New(),
		items:    make(map[string]*list.Element),
		kv:       kv,
	}
}

// Get returns a cached entry, touching it as most-recently-used. On a
// cold miss it falls through to the persisted store before reporting a
// true miss.
func (c *Cache) Get(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.ll.MoveToFront(el)
		return el.Value.(*cacheItem).entry, true
	}

	if c.kv != nil {
		var persisted persistedEntry
		found, err := c.kv.GetJSON(mediaBlobsStore, key, &persisted)
		if err == nil && found {
			entry := persisted.toEntry()
			c.insertLocked(key, entry)
			return entry, true
		}
	}

	return Entry{}, false
}

// Put inserts or updates an entry, evicting least-recently-used entries
// until the byte budget is satisfied, and persists it to the KV store.
func (c *Cache) Put(key string, entry Entry) error {
	c.mu.Lock()
	c.insertLocked(key, entry)
	c.mu.Unlock()

	if c.kv == nil {
		return nil
	}
	return c.kv.PutJSON(mediaBlobsStore, key, persistedEntry{
		Bytes: entry.Bytes, MimeType: entry.MimeType, AccessedAt: entry.AccessedAt,
	})
}

func (c *Cache) insertLocked(key string, entry Entry) {
	if el, ok := c.items[key]; ok {
		old := el.Value.(*cacheItem)
		c.curBytes -= int64(len(old.entry.Bytes))
		old.entry = entry
		c.curBytes += int64(len(entry.Bytes))
		c.ll.MoveToFront(el)
		return
	}

	el := c.ll.PushFront(&cacheItem{key: key, entry: entry})
	c.items[key] = el
	c.curBytes += int64(len(entry.Bytes))

	for c.maxBytes > 0 && c.curBytes > c.maxBytes && c.ll.Len() > 1 {
		c.evictOldestLocked()
	}
}

func (c *Cache) evictOldestLocked() {
	el := c.ll.Back()
	if el == nil {
		return
	}
	c.ll.Remove(el)
	item := el.Value.(*cacheItem)
	delete(c.items, item.key)
	c.curBytes -= int64(len(item.entry.Bytes))
	if c.kv != nil {
		_ = c.kv.Delete(mediaBlobsStore, item.key)
	}
}

// Touch updates an entry's AccessedAt without changing its bytes.
func (c *Cache) Touch(key string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		item := el.Value.(*cacheItem)
		item.entry.AccessedAt = now.UnixMilli()
		c.ll.MoveToFront(el)
	}
}

type persistedEntry struct {
	Bytes      []byte `json:"bytes"`
	MimeType   string `json:"mime"`
	AccessedAt int64  `json:"accessed"`
}

func (p persistedEntry) toEntry() Entry {
	return Entry{Bytes: p.Bytes, MimeType: p.MimeType, AccessedAt: p.AccessedAt}
}
