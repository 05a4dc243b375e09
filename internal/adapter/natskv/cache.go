package natskv

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// Cache exposes a JetStream KeyValue bucket through the cache port so
// multiple instances share one copy of each form document. Expiry is
// governed by the bucket TTL, set when the bucket is created; the
// per-entry TTL argument is ignored.
type Cache struct {
	kv jetstream.KeyValue
}

// NewCache wraps an existing KV bucket as a shared cache.
func NewCache(kv jetstream.KeyValue) *Cache {
	return &Cache{kv: kv}
}

// Get returns the cached bytes for key, with ok false on a miss.
func (c *Cache) Get(ctx context.Context, key string) (data []byte, ok bool, err error) {
	entry, err := c.kv.Get(ctx, kvKey(key))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return entry.Value(), true, nil
}

// Set stores value under key. The bucket TTL applies, not ttl.
func (c *Cache) Set(ctx context.Context, key string, value []byte, _ time.Duration) error {
	_, err := c.kv.Put(ctx, kvKey(key), value)
	return err
}

// Delete removes key. Deleting an absent key is not an error.
func (c *Cache) Delete(ctx context.Context, key string) error {
	err := c.kv.Delete(ctx, kvKey(key))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil
	}
	return err
}

// kvKey maps a cache key onto the KV key character set. Cache keys use
// ':' as a separator, which JetStream subjects do not allow, so each
// separator becomes a subject token boundary instead.
func kvKey(key string) string {
	return strings.ReplaceAll(key, ":", ".")
}
