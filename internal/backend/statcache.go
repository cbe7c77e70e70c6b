// StatCache is the DOMAIN STACK addition (SPEC_FULL.md §4.3): an optional
// shared cache of last-known remote_crypt_hash values, keyed by vault and
// store_hash, so multiple client processes sharing a vault mount don't
// each pay a round-trip STAT for objects another process already checked
// recently. A cache miss or an unreachable Redis always falls through to
// a real STAT — this is a latency optimization, never a correctness
// dependency.
package backend

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// StatCache wraps a Redis client with the key scheme
// syncrypt:stat:<vault_id>:<store_hash>.
type StatCache struct {
	client  *redis.Client
	vaultID string
	ttl     time.Duration
}

// NewStatCache connects to url (a redis:// URL) for vaultID's stat cache.
func NewStatCache(url, vaultID string) (*StatCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return &StatCache{
		client:  redis.NewClient(opts),
		vaultID: vaultID,
		ttl:     5 * time.Minute,
	}, nil
}

func (c *StatCache) key(storeHash string) string {
	return "syncrypt:stat:" + c.vaultID + ":" + storeHash
}

// Get returns the cached content hash for storeHash, if present.
func (c *StatCache) Get(ctx context.Context, storeHash string) (string, bool) {
	val, err := c.client.Get(ctx, c.key(storeHash)).Result()
	if err != nil {
		return "", false
	}
	return val, true
}

// Set populates the cache entry for storeHash.
func (c *StatCache) Set(ctx context.Context, storeHash, contentHash string) {
	c.client.Set(ctx, c.key(storeHash), contentHash, c.ttl)
}

// Invalidate drops the cache entry for storeHash — called after Upload so a
// stale hash never outlives the object it described.
func (c *StatCache) Invalidate(ctx context.Context, storeHash string) {
	c.client.Del(ctx, c.key(storeHash))
}

// Close releases the underlying Redis client.
func (c *StatCache) Close() error { return c.client.Close() }
