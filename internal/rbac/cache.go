package rbac

import (
	"context"
	"hash/fnv"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

const cacheShards = 16

type cacheEntry struct {
	decision   Decision
	createdAt  time.Time
	expiresAt  time.Time
	generation uint64
}

type cacheShard struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
}

// CacheStats is a point-in-time snapshot for the admin surface.
type CacheStats struct {
	Entries   int    `json:"entries"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
}

// DecisionCache memoizes evaluator results per (principal, resource,
// action, scope, ownership) key. Entries carry the catalog generation they were
// computed under and are discarded on read when that generation is stale,
// so invalidation races resolve as if the invalidation ran last. A
// singleflight group guarantees at most one concurrent computation per key.
//
// Construct once at process start and inject everywhere; per-test instances
// keep tests isolated.
type DecisionCache struct {
	shards          [cacheShards]*cacheShard
	group           singleflight.Group
	ttl             time.Duration
	cleanupInterval time.Duration
	maxEntries      int
	mirror          *Mirror
	metrics         *Metrics
	logger          *slog.Logger
	clock           func() time.Time

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// CacheOptions configures a DecisionCache.
type CacheOptions struct {
	TTL             time.Duration // default 5m
	CleanupInterval time.Duration // default 1h
	MaxEntries      int           // 0 means unlimited
	Mirror          *Mirror       // optional distributed backing
	Metrics         *Metrics
	Logger          *slog.Logger
}

// NewDecisionCache constructs an empty cache.
func NewDecisionCache(opts CacheOptions) *DecisionCache {
	if opts.TTL <= 0 {
		opts.TTL = 5 * time.Minute
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = time.Hour
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	c := &DecisionCache{
		ttl:             opts.TTL,
		cleanupInterval: opts.CleanupInterval,
		maxEntries:      opts.MaxEntries,
		mirror:          opts.Mirror,
		metrics:         opts.Metrics,
		logger:          opts.Logger,
		clock:           func() time.Time { return time.Now().UTC() },
	}
	for i := range c.shards {
		c.shards[i] = &cacheShard{entries: make(map[string]cacheEntry)}
	}
	return c
}

// TTL reports the configured entry lifetime.
func (c *DecisionCache) TTL() time.Duration { return c.ttl }

// GetOrCompute returns the cached decision for the key, or invokes compute
// exactly once per key across concurrent callers and caches the result.
// generation stamps new entries and invalidates reads of older ones. The
// second return value reports whether the decision was served from cache.
// When ctx expires while waiting on an in-flight computation the waiter
// gets ErrTimeout; the computation itself continues and still populates the
// cache for later callers.
func (c *DecisionCache) GetOrCompute(ctx context.Context, principalID, resource, action string, scope Scope, ownership bool, generation uint64, compute func() (Decision, error)) (Decision, bool, error) {
	key := cacheKey(principalID, resource, action, scope, ownership)
	now := c.clock()

	if dec, ok := c.lookup(key, now, generation); ok {
		c.hits.Add(1)
		c.metrics.CacheHit()
		return dec, true, nil
	}

	if c.mirror != nil {
		if dec, ok := c.mirror.Get(ctx, principalID, mirrorField(resource, action, scope, ownership), generation, now); ok {
			c.store(key, dec, now, generation)
			c.hits.Add(1)
			c.metrics.CacheHit()
			return dec, true, nil
		}
	}

	c.misses.Add(1)
	c.metrics.CacheMiss()

	// The flight key includes the generation so callers operating under a
	// newer catalog never join a computation started under an older one.
	flightKey := key + keySeparator + strconv.FormatUint(generation, 10)
	resultCh := c.group.DoChan(flightKey, func() (any, error) {
		dec, err := compute()
		if err != nil {
			return Decision{}, err
		}
		storedAt := c.clock()
		c.store(key, dec, storedAt, generation)
		if c.mirror != nil {
			c.mirror.PutAsync(principalID, mirrorField(resource, action, scope, ownership), dec, generation, storedAt.Add(c.ttl))
		}
		return dec, nil
	})

	select {
	case <-ctx.Done():
		return Decision{}, false, ErrTimeout
	case res := <-resultCh:
		if res.Err != nil {
			return Decision{}, false, res.Err
		}
		return res.Val.(Decision), false, nil
	}
}

// Invalidate removes every cached decision for the principal, locally and
// in the mirror. Mirror failures are logged, never returned.
func (c *DecisionCache) Invalidate(principalID string) {
	c.invalidateLocal(principalID)
	if c.mirror != nil {
		c.mirror.InvalidateAsync(principalID)
	}
}

// InvalidateAll flushes every entry, used on catalog reload. Mirror entries
// are left to die of generation staleness and TTL.
func (c *DecisionCache) InvalidateAll() {
	c.flushLocal()
	if c.mirror != nil {
		c.mirror.PublishInvalidation(invalidateAllToken)
	}
}

// invalidateLocal drops the principal's entries from the local shards only.
// Used directly when applying invalidations received from peers.
func (c *DecisionCache) invalidateLocal(principalID string) {
	prefix := principalID + keySeparator
	for _, shard := range c.shards {
		shard.mu.Lock()
		for key := range shard.entries {
			if strings.HasPrefix(key, prefix) {
				delete(shard.entries, key)
			}
		}
		shard.mu.Unlock()
	}
}

func (c *DecisionCache) flushLocal() {
	for _, shard := range c.shards {
		shard.mu.Lock()
		shard.entries = make(map[string]cacheEntry)
		shard.mu.Unlock()
	}
}

// StartJanitor removes expired entries on a fixed interval, independent of
// access patterns, until ctx is cancelled. Bounds memory for cold keys that
// are never read again.
func (c *DecisionCache) StartJanitor(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(c.cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed := c.removeExpired(c.clock())
				if removed > 0 {
					c.logger.Debug("decision cache cleanup", slog.Int("removed", removed))
				}
			}
		}
	}()
}

// Stats returns cache counters and the current entry count.
func (c *DecisionCache) Stats() CacheStats {
	return CacheStats{
		Entries:   c.len(),
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
}

func (c *DecisionCache) lookup(key string, now time.Time, generation uint64) (Decision, bool) {
	shard := c.shardFor(key)
	shard.mu.RLock()
	entry, ok := shard.entries[key]
	shard.mu.RUnlock()
	if !ok {
		return Decision{}, false
	}
	if !now.Before(entry.expiresAt) || entry.generation != generation {
		shard.mu.Lock()
		if current, still := shard.entries[key]; still && current == entry {
			delete(shard.entries, key)
		}
		shard.mu.Unlock()
		return Decision{}, false
	}
	return entry.decision, true
}

func (c *DecisionCache) store(key string, dec Decision, now time.Time, generation uint64) {
	shard := c.shardFor(key)
	shard.mu.Lock()
	shard.entries[key] = cacheEntry{
		decision:   dec,
		createdAt:  now,
		expiresAt:  now.Add(c.ttl),
		generation: generation,
	}
	shard.mu.Unlock()
	if c.maxEntries > 0 {
		c.evictOldest()
	}
}

// evictOldest trims the cache back to maxEntries, removing the oldest
// entries first.
func (c *DecisionCache) evictOldest() {
	for c.len() > c.maxEntries {
		var (
			oldestShard *cacheShard
			oldestKey   string
			oldestAt    time.Time
		)
		for _, shard := range c.shards {
			shard.mu.RLock()
			for key, entry := range shard.entries {
				if oldestKey == "" || entry.createdAt.Before(oldestAt) {
					oldestShard, oldestKey, oldestAt = shard, key, entry.createdAt
				}
			}
			shard.mu.RUnlock()
		}
		if oldestKey == "" {
			return
		}
		oldestShard.mu.Lock()
		if entry, ok := oldestShard.entries[oldestKey]; ok && entry.createdAt.Equal(oldestAt) {
			delete(oldestShard.entries, oldestKey)
			c.evictions.Add(1)
			c.metrics.Evicted(1)
		}
		oldestShard.mu.Unlock()
	}
}

func (c *DecisionCache) removeExpired(now time.Time) int {
	removed := 0
	for _, shard := range c.shards {
		shard.mu.Lock()
		for key, entry := range shard.entries {
			if !now.Before(entry.expiresAt) {
				delete(shard.entries, key)
				removed++
			}
		}
		shard.mu.Unlock()
	}
	if removed > 0 {
		c.evictions.Add(uint64(removed))
		c.metrics.Evicted(removed)
	}
	return removed
}

func (c *DecisionCache) len() int {
	total := 0
	for _, shard := range c.shards {
		shard.mu.RLock()
		total += len(shard.entries)
		shard.mu.RUnlock()
	}
	return total
}

func (c *DecisionCache) shardFor(key string) *cacheShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return c.shards[h.Sum32()%cacheShards]
}

const keySeparator = "\x1f"

// cacheKey includes the ownership bit: two checks differing only in the
// caller's ownership predicate can produce different decisions, so they
// must never share an entry.
func cacheKey(principalID, resource, action string, scope Scope, ownership bool) string {
	return strings.Join([]string{principalID, resource, action, string(scope), ownershipToken(ownership)}, keySeparator)
}

func mirrorField(resource, action string, scope Scope, ownership bool) string {
	return strings.Join([]string{resource, action, string(scope), ownershipToken(ownership)}, ":")
}

func ownershipToken(ownership bool) string {
	if ownership {
		return "own"
	}
	return "any"
}
