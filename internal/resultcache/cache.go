package resultcache

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/artobs/taxongrid/internal/observability"
)

// RedisClient is the subset of a Redis client the cache tier needs.
// internal/cache/redisstore-style clients, and test doubles, both
// satisfy it.
type RedisClient interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

type entry struct {
	val      []byte
	deadline time.Time
}

// Cache is a two-tier read-through cache: a bounded in-process LRU first,
// an optional shared Redis tier second. Get/Set operate on raw bytes so
// callers decide their own encoding; the typed CachedQuery wrapper is
// layered on top in codec.go.
type Cache struct {
	ttl   time.Duration
	local *lru.Cache[string, entry]
	redis RedisClient

	mu   sync.Mutex
	tags map[string]map[string]struct{} // tag -> set of local keys sharing it
}

// New builds a cache with an in-process LRU of the given size and TTL. A
// nil redis disables the shared tier; lookups and writes simply skip it.
func New(lruSize int, ttl time.Duration, redis RedisClient) (*Cache, error) {
	if lruSize <= 0 {
		lruSize = 1
	}
	l, err := lru.New[string, entry](lruSize)
	if err != nil {
		return nil, err
	}
	return &Cache{
		ttl:   ttl,
		local: l,
		redis: redis,
		tags:  make(map[string]map[string]struct{}),
	}, nil
}

// Get returns the cached bytes for key, checking the local tier first and
// falling back to Redis (promoting the value to local on a Redis hit). A
// miss or any cache error is reported as (nil, false) — never an error the
// caller must handle, since the cache is never authoritative.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	if v, ok := c.local.Get(key); ok {
		if time.Now().Before(v.deadline) {
			observability.IncResultCacheHit("lru")
			return v.val, true
		}
		c.local.Remove(key)
	}
	observability.IncResultCacheMiss("lru")

	if c.redis == nil {
		return nil, false
	}
	b, ok, err := c.redis.Get(ctx, key)
	if err != nil || !ok {
		observability.IncResultCacheMiss("redis")
		return nil, false
	}
	observability.IncResultCacheHit("redis")
	c.local.Add(key, entry{val: b, deadline: time.Now().Add(c.ttl)})
	return b, true
}

// Set writes key to both tiers and, if tags are supplied, records the key
// against each tag so InvalidateTag can drop it later without waiting for
// TTL expiry (used by rebuild_hotmap to make a build's results visible
// immediately).
func (c *Cache) Set(ctx context.Context, key string, val []byte, tags ...string) {
	c.local.Add(key, entry{val: val, deadline: time.Now().Add(c.ttl)})
	if c.redis != nil {
		_ = c.redis.Set(ctx, key, val, c.ttl)
	}
	if len(tags) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, tag := range tags {
		set, ok := c.tags[tag]
		if !ok {
			set = make(map[string]struct{})
			c.tags[tag] = set
		}
		set[key] = struct{}{}
	}
}

// InvalidateTag drops every locally-cached key previously Set under tag.
// Redis entries are left to expire on TTL: the Redis tier is shared across
// replicas and a precise cross-replica invalidation protocol is out of
// scope — TTL bounds the staleness window instead.
func (c *Cache) InvalidateTag(tag string) {
	c.mu.Lock()
	keys := c.tags[tag]
	delete(c.tags, tag)
	c.mu.Unlock()

	for k := range keys {
		c.local.Remove(k)
	}
}

// Len reports the number of entries currently held in the local tier.
func (c *Cache) Len() int {
	return c.local.Len()
}
