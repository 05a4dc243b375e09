// Package ristretto implements the cache port using dgraph-io/ristretto
// as the in-process form-document cache.
package ristretto

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// Cache holds decoded form documents in process memory. The working set
// is small (one entry per form version), so the cache is sized by total
// bytes and entries carry their own TTL.
type Cache struct {
	c *ristretto.Cache[string, []byte]
}

// New creates a cache capped at maxCostBytes of stored values.
func New(maxCostBytes int64) (*Cache, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		// Form documents run a few KB each, so expect on the order of
		// one entry per 4KB of budget and keep 10x counters for TinyLFU.
		NumCounters: maxCostBytes / 4096 * 10,
		MaxCost:     maxCostBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{c: c}, nil
}

// Get returns the cached bytes for key, with ok false on a miss.
func (c *Cache) Get(_ context.Context, key string) (data []byte, ok bool, err error) {
	val, found := c.c.Get(key)
	if !found {
		return nil, false, nil
	}
	return val, true, nil
}

// Set stores value with the given TTL, costed by its size. Admission is
// flushed before returning so the next Load sees the entry; with this
// workload's handful of writes the synchronous wait is negligible.
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.c.SetWithTTL(key, value, int64(len(value)), ttl)
	c.c.Wait()
	return nil
}

// Delete removes key from the cache.
func (c *Cache) Delete(_ context.Context, key string) error {
	c.c.Del(key)
	return nil
}

// Close releases the cache's internal goroutines.
func (c *Cache) Close() {
	c.c.Close()
}
