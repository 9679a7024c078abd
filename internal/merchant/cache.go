package merchant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const keyPrefix = "merchant:name:"

// Cache stores merchant names. Get reports a miss with ok == false.
type Cache interface {
	Get(ctx context.Context, merchantID string) (name string, ok bool, err error)
	Set(ctx context.Context, merchantID, name string) error
}

// RedisCache keeps names in Redis with a TTL.
type RedisCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisCache creates a Redis-backed name cache.
func NewRedisCache(client redis.Cmdable, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, merchantID string) (string, bool, error) {
	name, err := c.client.Get(ctx, keyPrefix+merchantID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("redis get merchant name: %w", err)
	}
	return name, true, nil
}

func (c *RedisCache) Set(ctx context.Context, merchantID, name string) error {
	if err := c.client.Set(ctx, keyPrefix+merchantID, name, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set merchant name: %w", err)
	}
	return nil
}

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

type memoryEntry struct {
	name    string
	expires time.Time
}

// NewMemoryCache creates an in-memory name cache.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry), ttl: ttl, now: time.Now}
}

func (c *MemoryCache) Get(_ context.Context, merchantID string) (string, bool, error) {
	c.mu.RLock()
	e, ok := c.entries[merchantID]
	c.mu.RUnlock()
	if !ok || c.now().After(e.expires) {
		return "", false, nil
	}
	return e.name, true, nil
}

func (c *MemoryCache) Set(_ context.Context, merchantID, name string) error {
	c.mu.Lock()
	c.entries[merchantID] = memoryEntry{name: name, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return nil
}

// CachedDirectory serves names from a cache and collapses concurrent misses
// for the same merchant into one upstream call.
type CachedDirectory struct {
	inner  Directory
	cache  Cache
	group  singleflight.Group
	logger *slog.Logger
}

// NewCachedDirectory wraps inner with cache.
func NewCachedDirectory(inner Directory, cache Cache, logger *slog.Logger) *CachedDirectory {
	return &CachedDirectory{inner: inner, cache: cache, logger: logger}
}

// MerchantName returns the cached name or fetches it. Cache failures degrade
// to a direct lookup.
func (d *CachedDirectory) MerchantName(ctx context.Context, merchantID string) (string, error) {
	name, ok, err := d.cache.Get(ctx, merchantID)
	if err != nil {
		d.logger.WarnContext(ctx, "merchant cache read failed",
			slog.String("merchant_id", merchantID),
			slog.String("error", err.Error()),
		)
	} else if ok {
		return name, nil
	}

	v, err, _ := d.group.Do(merchantID, func() (any, error) {
		name, err := d.inner.MerchantName(ctx, merchantID)
		if err != nil {
			return "", err
		}
		if err := d.cache.Set(ctx, merchantID, name); err != nil {
			d.logger.WarnContext(ctx, "merchant cache write failed",
				slog.String("merchant_id", merchantID),
				slog.String("error", err.Error()),
			)
		}
		return name, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}
