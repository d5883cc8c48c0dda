package polygon

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"snoopflow/internal/metrics"
)

// Cache stores raw provider responses for a short time.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, body []byte, ttl time.Duration)
}

type memoryEntry struct {
	body      []byte
	expiresAt time.Time
}

// MemoryCache is an in-process TTL cache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryCache creates an empty in-process cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Get returns the cached body if it has not expired.
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	hit := ok && c.now().Before(e.expiresAt)
	metrics.RecordCacheLookup("memory", hit)
	if !hit {
		return nil, false
	}
	return e.body, true
}

// Set stores body for ttl and evicts expired entries.
func (c *MemoryCache) Set(_ context.Context, key string, body []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
		}
	}
	c.entries[key] = memoryEntry{body: body, expiresAt: now.Add(ttl)}
}

// Len returns the number of live and not yet evicted entries.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// redisEntry is the msgpack envelope stored under each key.
type redisEntry struct {
	Body      []byte `msgpack:"b"`
	FetchedAt int64  `msgpack:"f"`
}

// RedisCache shares cached responses between processes.
type RedisCache struct {
	rdb    *redis.Client
	prefix string
	logger zerolog.Logger
}

// RedisOptions configures a RedisCache.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(ctx context.Context, opts RedisOptions, logger zerolog.Logger) (*RedisCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}

	return &RedisCache{rdb: rdb, prefix: "snoopflow:polygon:", logger: logger}, nil
}

// Get returns the cached body. Redis errors are treated as misses.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	data, err := c.rdb.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn().Err(err).Str("key", key).Msg("Redis cache read failed")
		}
		metrics.RecordCacheLookup("redis", false)
		return nil, false
	}

	var e redisEntry
	if err := msgpack.Unmarshal(data, &e); err != nil {
		metrics.RecordCacheLookup("redis", false)
		return nil, false
	}
	metrics.RecordCacheLookup("redis", true)
	return e.Body, true
}

// Set stores body with ttl. Failures are logged and otherwise ignored.
func (c *RedisCache) Set(ctx context.Context, key string, body []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	data, err := msgpack.Marshal(redisEntry{Body: body, FetchedAt: time.Now().UnixMilli()})
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, c.prefix+key, data, ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("Redis cache write failed")
	}
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.rdb.Close()
}

type noCache struct{}

func (noCache) Get(context.Context, string) ([]byte, bool)            { return nil, false }
func (noCache) Set(context.Context, string, []byte, time.Duration) {}
