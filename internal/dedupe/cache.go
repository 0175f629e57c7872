// Package dedupe implements the Manager's duplicate-suppression cache:
// "have I seen this CertFingerprint before?" with at-most-one-insert
// semantics under concurrent upload (SPEC_FULL.md §4.2).
//
// The cache is sharded into K independently-locked LRU caches, each
// backed by hashicorp/golang-lru/v2. A fingerprint is routed to its
// shard by hashing its canonical key with blake2b, so the critical
// section for any one check_and_add call only ever holds one shard's
// lock — never a global one.
package dedupe

import (
	"hash"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/crypto/blake2b"

	"github.com/ctfleet/ctfleet/internal/model"
)

const defaultShards = 64

// DefaultMaxSize is the cache capacity used when none is configured.
const DefaultMaxSize = 50000

// Result is the outcome of a CheckAndAdd call.
type Result int

const (
	Miss Result = iota
	Hit
)

type shard struct {
	mu    sync.Mutex
	cache *lru.Cache[string, struct{}]
}

// Cache is the duplicate-suppression cache described by SPEC_FULL.md
// §4.2. The zero value is not usable; construct with New.
type Cache struct {
	shards  []shard
	maxSize int

	hits    atomic.Int64
	misses  atomic.Int64
	hasherP sync.Pool
}

// New creates a Cache with the given total capacity (split evenly
// across shards) and shard count. maxSize <= 0 defaults to
// DefaultMaxSize; shards <= 0 defaults to defaultShards.
func New(maxSize, shards int) *Cache {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if shards <= 0 {
		shards = defaultShards
	}
	perShard := maxSize / shards
	if perShard < 1 {
		perShard = 1
	}
	c := &Cache{
		shards:  make([]shard, shards),
		maxSize: perShard * shards,
	}
	for i := range c.shards {
		lc, err := lru.New[string, struct{}](perShard)
		if err != nil {
			// Only returns an error for size <= 0, which perShard excludes.
			panic(err)
		}
		c.shards[i].cache = lc
	}
	c.hasherP.New = func() any {
		h, err := blake2b.New256(nil)
		if err != nil {
			panic(err)
		}
		return h
	}
	return c
}

func (c *Cache) shardFor(key string) *shard {
	h := c.hasherP.Get().(hash.Hash)
	h.Reset()
	h.Write([]byte(key))
	sum := h.Sum(nil)
	c.hasherP.Put(h)

	idx := uint64(sum[0])<<24 | uint64(sum[1])<<16 | uint64(sum[2])<<8 | uint64(sum[3])
	return &c.shards[idx%uint64(len(c.shards))]
}

// CheckAndAdd reports Miss exactly once for any given fingerprint among
// concurrent callers (absent an intervening Clear or eviction), and Hit
// for every other caller. The database write following a Miss is the
// caller's responsibility, and happens outside this call so no shard
// lock is held across it.
func (c *Cache) CheckAndAdd(fp model.CertFingerprint) Result {
	key := fp.Key()
	sh := c.shardFor(key)

	sh.mu.Lock()
	_, seen := sh.cache.Get(key)
	if !seen {
		sh.cache.Add(key, struct{}{})
	}
	sh.mu.Unlock()

	if seen {
		c.hits.Add(1)
		return Hit
	}
	c.misses.Add(1)
	return Miss
}

// Rollback removes fp from the cache so a later retry is not falsely
// suppressed, per SPEC_FULL.md §4.3's step-wise fallback failure path.
func (c *Cache) Rollback(fp model.CertFingerprint) {
	key := fp.Key()
	sh := c.shardFor(key)
	sh.mu.Lock()
	sh.cache.Remove(key)
	sh.mu.Unlock()
}

// Size returns the total number of fingerprints currently cached.
func (c *Cache) Size() int {
	n := 0
	for i := range c.shards {
		c.shards[i].mu.Lock()
		n += c.shards[i].cache.Len()
		c.shards[i].mu.Unlock()
	}
	return n
}

// Stats returns the cache's current counters.
func (c *Cache) Stats() model.CacheStats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	total := hits + misses
	var rate float64
	if total > 0 {
		rate = float64(hits) / float64(total)
	}
	return model.CacheStats{
		CacheSize:     c.Size(),
		MaxSize:       c.maxSize,
		HitCount:      hits,
		MissCount:     misses,
		TotalRequests: total,
		HitRate:       rate,
	}
}

// Clear empties the cache and resets its counters.
func (c *Cache) Clear() {
	for i := range c.shards {
		c.shards[i].mu.Lock()
		c.shards[i].cache.Purge()
		c.shards[i].mu.Unlock()
	}
	c.hits.Store(0)
	c.misses.Store(0)
}
