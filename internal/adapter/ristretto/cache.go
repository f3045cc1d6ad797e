// Package ristretto implements the cache port using dgraph-io/ristretto as L1 in-process cache.
package ristretto

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/Strob0t/TicketForge/internal/port/cache"
)

// entry keeps the expiry next to the value so evictions of live entries can
// be told apart from expirations.
type entry struct {
	data      []byte
	expiresAt time.Time
}

// Cache wraps a ristretto cache as an in-process L1 cache.
//
// Ristretto may refuse a write at admission and may evict an entry before
// its TTL. Set reports a refused write as cache.ErrNotStored. Add does the
// same, and after a live entry has been evicted it refuses every insert
// until that entry would have expired, because a missing key can no longer
// be trusted to mean "never seen".
type Cache struct {
	c   *ristretto.Cache[string, entry]
	now func() time.Time

	// addMu serializes Add so the check and the write are atomic.
	addMu sync.Mutex

	// lostUntil is the latest expiry, in unix nanoseconds, of an entry
	// evicted while still live.
	lostUntil atomic.Int64
	closed    atomic.Bool
}

// New creates a ristretto-backed cache. maxCostBytes is the maximum total
// size of cached keys and values in bytes.
func New(maxCostBytes int64) (*Cache, error) {
	c := &Cache{now: time.Now}
	rc, err := ristretto.NewCache(&ristretto.Config[string, entry]{
		NumCounters: max(maxCostBytes/100*10, 100), // ~10x expected items
		MaxCost:     maxCostBytes,
		BufferItems: 64,
		OnEvict:     c.onEvict,
	})
	if err != nil {
		return nil, err
	}
	c.c = rc
	return c, nil
}

func (c *Cache) onEvict(item *ristretto.Item[entry]) {
	if c.closed.Load() {
		return
	}
	exp := item.Value.expiresAt
	if exp.IsZero() || !exp.After(c.now()) {
		return
	}
	for {
		cur := c.lostUntil.Load()
		if exp.UnixNano() <= cur {
			return
		}
		if c.lostUntil.CompareAndSwap(cur, exp.UnixNano()) {
			slog.Warn("cache evicted a live entry, inserts refused until it expires",
				"until", exp.UTC(), "max_cost", c.c.MaxCost())
			return
		}
	}
}

// Get retrieves a value from the cache.
func (c *Cache) Get(_ context.Context, key string) (data []byte, ok bool, err error) {
	e, found := c.c.Get(key)
	if !found {
		return nil, false, nil
	}
	return e.data, true, nil
}

// Set stores a value in the cache with the given TTL. The write is visible
// to Get once Set returns nil.
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if !c.set(key, value, ttl) {
		return cache.ErrNotStored
	}
	return nil
}

// Add stores value only when key is absent. It returns cache.ErrNotStored
// when the write was refused or when earlier evictions make absence
// unreliable.
func (c *Cache) Add(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	c.addMu.Lock()
	defer c.addMu.Unlock()

	if _, found := c.c.Get(key); found {
		return false, nil
	}
	if c.now().UnixNano() < c.lostUntil.Load() {
		return false, cache.ErrNotStored
	}
	if !c.set(key, value, ttl) {
		return false, cache.ErrNotStored
	}
	return true, nil
}

// set writes and waits for the write to be applied. It reports whether the
// entry is readable afterwards; ristretto drops writes under contention and
// its admission policy may reject new keys.
func (c *Cache) set(key string, value []byte, ttl time.Duration) bool {
	e := entry{data: value}
	if ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	}
	if !c.c.SetWithTTL(key, e, int64(len(key)+len(value))+1, ttl) {
		return false
	}
	c.c.Wait()
	_, found := c.c.Get(key)
	return found
}

// Delete removes a value from the cache.
func (c *Cache) Delete(_ context.Context, key string) error {
	c.c.Del(key)
	return nil
}

// Close shuts down the cache and releases resources.
func (c *Cache) Close() {
	c.closed.Store(true)
	c.c.Close()
}
