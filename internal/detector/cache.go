// Package detector — cache.go
//
// Cache is the cross-session detection cache interface. It stores
// text-hash → encoded span list mappings so recurring inputs skip the
// expensive LLM round trip even after a process restart.
//
// Two implementations are provided:
//   - memoryCache — in-memory only, used in tests and when no path is
//     configured.
//   - bboltCache  — embedded key-value store (bbolt), used in production.
//
// The interface is intentionally minimal: one detection result is written at
// a time from the LLM goroutine, reads are per-text lookups. Batch
// operations and iteration are not needed.
package detector

import (
	"fmt"
	"sync"
	"sync/atomic"

	bolt "go.etcd.io/bbolt"

	"pii-firewall/internal/logger"
)

// Cache is the cross-session detection cache interface.
// All implementations must be safe for concurrent use.
type Cache interface {
	// Get returns the encoded detection result for key, if present.
	Get(key string) (value []byte, ok bool)

	// Set stores key → value. Overwrites any existing entry silently.
	Set(key string, value []byte)

	// Delete removes key. A no-op when the key is absent.
	Delete(key string)

	// Close releases any resources held by the cache (e.g. file handles).
	Close() error
}

// --- memoryCache ---------------------------------------------------------

// memoryCache is a thread-safe in-memory Cache.
type memoryCache struct {
	mu    sync.RWMutex
	store map[string][]byte
}

// NewMemoryCache returns an unbounded in-memory Cache, for tests and for
// deployments that configure no cache path.
func NewMemoryCache() Cache {
	return &memoryCache{store: make(map[string][]byte)}
}

func (c *memoryCache) Get(key string) ([]byte, bool) {
	c.mu.RLock()
	v, ok := c.store[key]
	c.mu.RUnlock()
	return v, ok
}

func (c *memoryCache) Set(key string, value []byte) {
	c.mu.Lock()
	c.store[key] = value
	c.mu.Unlock()
}

func (c *memoryCache) Delete(key string) {
	c.mu.Lock()
	delete(c.store, key)
	c.mu.Unlock()
}

func (c *memoryCache) Close() error { return nil }

// --- countingCache -------------------------------------------------------

// countingCache decorates a Cache with hit/miss counters, so cache
// effectiveness shows up in the metrics snapshot without the cache layers
// knowing about metrics.
type countingCache struct {
	inner        Cache
	hits, misses *atomic.Int64
}

// NewCountingCache wraps inner, incrementing hits or misses on every Get.
func NewCountingCache(inner Cache, hits, misses *atomic.Int64) Cache {
	return &countingCache{inner: inner, hits: hits, misses: misses}
}

func (c *countingCache) Get(key string) ([]byte, bool) {
	v, ok := c.inner.Get(key)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return v, ok
}

func (c *countingCache) Set(key string, value []byte) { c.inner.Set(key, value) }
func (c *countingCache) Delete(key string)            { c.inner.Delete(key) }
func (c *countingCache) Close() error                 { return c.inner.Close() }

// --- bboltCache ----------------------------------------------------------

const bboltBucket = "detection_cache"

// bboltCache is a Cache backed by an embedded bbolt database. Entries
// survive process restarts. The database file is created at the given path
// if it does not exist.
type bboltCache struct {
	db  *bolt.DB
	log *logger.Logger
}

// NewBboltCache opens (or creates) the bbolt database at path and ensures
// the bucket exists. Returns an error if the file cannot be opened.
func NewBboltCache(path string, log *logger.Logger) (Cache, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open bbolt cache %q: %w", path, err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bboltBucket))
		return err
	}); err != nil {
		db.Close() //nolint:errcheck // best-effort close on init failure
		return nil, fmt.Errorf("create bbolt bucket: %w", err)
	}

	log.Infof("cache_open", "persistent detection cache opened at %s", path)
	return &bboltCache{db: db, log: log}, nil
}

func (c *bboltCache) Get(key string) ([]byte, bool) {
	var value []byte
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bboltBucket))
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(key)); v != nil {
			value = append([]byte(nil), v...) // copy: v is only valid inside the tx
		}
		return nil
	})
	if err != nil {
		c.log.Errorf("cache_get", "bbolt: %v", err)
		return nil, false
	}
	return value, value != nil
}

func (c *bboltCache) Set(key string, value []byte) {
	if err := c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bboltBucket))
		if b == nil {
			return fmt.Errorf("bucket %q not found", bboltBucket)
		}
		return b.Put([]byte(key), value)
	}); err != nil {
		c.log.Errorf("cache_set", "bbolt: %v", err)
	}
}

func (c *bboltCache) Delete(key string) {
	if err := c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bboltBucket))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(key))
	}); err != nil {
		c.log.Errorf("cache_delete", "bbolt: %v", err)
	}
}

func (c *bboltCache) Close() error {
	return c.db.Close()
}
