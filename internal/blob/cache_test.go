package blob

import (
	"testing"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/pinpox/dmengine/internal/store"
)

func openTestKV(t *testing.T) *store.KV {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		t.Fatalf("open in-memory badger: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return store.NewKVForTest(db)
}

func TestKeyIsStableAndContentAddressed(t *testing.T) {
	a := Key("https://example.com/x.jpg", "nonceA")
	b := Key("https://example.com/x.jpg", "nonceA")
	c := Key("https://example.com/x.jpg", "nonceB")
	if a != b {
		t.Errorf("Key not stable across calls")
	}
	if a == c {
		t.Errorf("Key collided across distinct nonces")
	}
}

func TestCacheGetPutRoundTrip(t *testing.T) {
	kv := openTestKV(t)
	c := NewCache(kv, 0)

	key := Key("https://example.com/a.png", "n1")
	if _, ok := c.Get(key); ok {
		t.Fatalf("expected miss before Put")
	}

	entry := Entry{Bytes: []byte("hello"), MimeType: "image/png", AccessedAt: 1000}
	if err := c.Put(key, entry); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok := c.Get(key)
	if !ok || string(got.Bytes) != "hello" {
		t.Fatalf("Get after Put: got=%+v ok=%v", got, ok)
	}
}

func TestCacheEvictsLeastRecentlyUsedUnderByteBudget(t *testing.T) {
	kv := openTestKV(t)
	c := NewCache(kv, 10) // tiny budget: only one 5-byte entry plus a new one fit

	k1, k2, k3 := "k1", "k2", "k3"
	_ = c.Put(k1, Entry{Bytes: []byte("aaaaa")})
	_ = c.Put(k2, Entry{Bytes: []byte("bbbbb")})

	// touch k1 so k2 becomes least-recently-used
	c.Get(k1)

	_ = c.Put(k3, Entry{Bytes: []byte("ccccc")})

	if _, ok := c.Get(k2); ok {
		t.Errorf("expected k2 to be evicted as least-recently-used")
	}
	if _, ok := c.Get(k1); !ok {
		t.Errorf("expected k1 to survive eviction (recently touched)")
	}
	if _, ok := c.Get(k3); !ok {
		t.Errorf("expected k3 (just inserted) to be present")
	}
}

func TestCacheFallsThroughToPersistedStoreOnColdMiss(t *testing.T) {
	kv := openTestKV(t)
	key := Key("https://example.com/b.png", "n2")

	warm := NewCache(kv, 0)
	_ = warm.Put(key, Entry{Bytes: []byte("persisted"), MimeType: "image/png"})

	cold := NewCache(kv, 0)
	got, ok := cold.Get(key)
	if !ok || string(got.Bytes) != "persisted" {
		t.Fatalf("expected cold cache to hydrate from kv store, got=%+v ok=%v", got, ok)
	}
}
