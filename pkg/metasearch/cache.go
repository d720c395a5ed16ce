package metasearch

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"

	"github.com/netzbegruenung/Gruenerator-sub005/pkg/apperr"
)

// Cache is the KV contract the client needs. Get returns (nil, nil)
// on a miss.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetEx(ctx context.Context, key string, ttl time.Duration, value []byte) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	Del(ctx context.Context, keys ...string) error
}

// RedisCache backs the Cache contract with a shared Redis instance.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache wraps an existing client. The caller owns its lifecycle.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	const op = "metasearch.RedisCache.Get"
	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(op, apperr.Transient, err)
	}
	return data, nil
}

func (c *RedisCache) SetEx(ctx context.Context, key string, ttl time.Duration, value []byte) error {
	const op = "metasearch.RedisCache.SetEx"
	if err := c.client.SetEx(ctx, key, value, ttl).Err(); err != nil {
		return apperr.Wrap(op, apperr.Transient, err)
	}
	return nil
}

func (c *RedisCache) Keys(ctx context.Context, prefix string) ([]string, error) {
	const op = "metasearch.RedisCache.Keys"
	keys, err := c.client.Keys(ctx, prefix+"*").Result()
	if err != nil {
		return nil, apperr.Wrap(op, apperr.Transient, err)
	}
	return keys, nil
}

func (c *RedisCache) Del(ctx context.Context, keys ...string) error {
	const op = "metasearch.RedisCache.Del"
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return apperr.Wrap(op, apperr.Transient, err)
	}
	return nil
}

// Ping reports whether the backend is reachable.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// DefaultMemoryCacheSize bounds the in-process fallback cache.
const DefaultMemoryCacheSize = 1000

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

// MemoryCache is a bounded in-process cache with per-entry expiry.
// Least recently used entries are evicted when the bound is reached.
type MemoryCache struct {
	mu      sync.Mutex
	entries *lru.Cache[string, memoryEntry]
}

// NewMemoryCache builds an in-process cache holding up to size entries.
func NewMemoryCache(size int) *MemoryCache {
	if size <= 0 {
		size = DefaultMemoryCacheSize
	}
	// lru.New only errors on a non-positive size.
	entries, _ := lru.New[string, memoryEntry](size)
	return &MemoryCache{entries: entries}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries.Get(key)
	if !ok {
		return nil, nil
	}
	if time.Now().After(entry.expiresAt) {
		c.entries.Remove(key)
		return nil, nil
	}
	return entry.data, nil
}

func (c *MemoryCache) SetEx(_ context.Context, key string, ttl time.Duration, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Add(key, memoryEntry{data: value, expiresAt: time.Now().Add(ttl)})
	return nil
}

func (c *MemoryCache) Keys(_ context.Context, prefix string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var keys []string
	for _, key := range c.entries.Keys() {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (c *MemoryCache) Del(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		c.entries.Remove(key)
	}
	return nil
}

const (
	// defaultProbeInterval is how long a failed Redis stays demoted
	// before the next ping attempt.
	defaultProbeInterval = 30 * time.Second
	probeTimeout         = 2 * time.Second
)

// FallbackCache serves from Redis while it is healthy and demotes to
// an in-process LRU while it is not. Demotion is sticky between probe
// intervals so a dead backend is pinged at most once per interval
// instead of once per request.
type FallbackCache struct {
	primary *RedisCache
	memory  *MemoryCache
	probe   time.Duration
	logger  hclog.Logger

	mu       sync.Mutex
	degraded bool
	retryAt  time.Time
}

// FallbackConfig configures a FallbackCache.
type FallbackConfig struct {
	Redis *redis.Client
	// MemorySize bounds the fallback LRU. Defaults to DefaultMemoryCacheSize.
	MemorySize int
	// ProbeInterval is the re-check cadence while demoted.
	ProbeInterval time.Duration
	Logger        hclog.Logger
}

// NewFallbackCache builds the two-tier cache.
func NewFallbackCache(cfg FallbackConfig) *FallbackCache {
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = defaultProbeInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}
	var primary *RedisCache
	if cfg.Redis != nil {
		primary = NewRedisCache(cfg.Redis)
	}
	return &FallbackCache{
		primary: primary,
		memory:  NewMemoryCache(cfg.MemorySize),
		probe:   cfg.ProbeInterval,
		logger:  cfg.Logger.Named("metasearch-cache"),
	}
}

// backend picks the live tier. While degraded it pings Redis at most
// once per probe interval and promotes back on success. The second
// return reports whether the primary was picked.
func (c *FallbackCache) backend(ctx context.Context) (Cache, bool) {
	if c.primary == nil {
		return c.memory, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.degraded {
		return c.primary, true
	}
	if time.Now().Before(c.retryAt) {
		return c.memory, false
	}

	pctx, cancel := context.WithTimeout(ctx, probeTimeout)
	err := c.primary.Ping(pctx)
	cancel()
	if err != nil {
		c.retryAt = time.Now().Add(c.probe)
		return c.memory, false
	}

	c.logger.Info("cache backend recovered, promoting from in-memory fallback")
	c.degraded = false
	return c.primary, true
}

func (c *FallbackCache) demote(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.degraded {
		return
	}
	c.logger.Warn("cache backend unavailable, demoting to in-memory fallback", "error", err)
	c.degraded = true
	c.retryAt = time.Now().Add(c.probe)
}

func (c *FallbackCache) Get(ctx context.Context, key string) ([]byte, error) {
	backend, primary := c.backend(ctx)
	data, err := backend.Get(ctx, key)
	if err != nil && primary {
		c.demote(err)
		return c.memory.Get(ctx, key)
	}
	return data, err
}

func (c *FallbackCache) SetEx(ctx context.Context, key string, ttl time.Duration, value []byte) error {
	backend, primary := c.backend(ctx)
	err := backend.SetEx(ctx, key, ttl, value)
	if err != nil && primary {
		c.demote(err)
		return c.memory.SetEx(ctx, key, ttl, value)
	}
	return err
}

func (c *FallbackCache) Keys(ctx context.Context, prefix string) ([]string, error) {
	backend, primary := c.backend(ctx)
	keys, err := backend.Keys(ctx, prefix)
	if err != nil && primary {
		c.demote(err)
		return c.memory.Keys(ctx, prefix)
	}
	return keys, err
}

func (c *FallbackCache) Del(ctx context.Context, keys ...string) error {
	backend, primary := c.backend(ctx)
	err := backend.Del(ctx, keys...)
	if err != nil && primary {
		c.demote(err)
		return c.memory.Del(ctx, keys...)
	}
	return err
}
