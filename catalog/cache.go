package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrCacheMiss is returned by Cache.Get when the key is absent.
var ErrCacheMiss = errors.New("catalog cache miss")

type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

type RedisCache struct {
	client *redis.Client
	prefix string
}

func NewRedisCache(client *redis.Client, prefix string) *RedisCache {
	return &RedisCache{client: client, prefix: prefix}
}

func (r *RedisCache) key(k string) string {
	return fmt.Sprintf("%s:%s", r.prefix, k)
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err == redis.Nil {
		return nil, ErrCacheMiss
	}
	return b, err
}

func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, r.key(key), value, ttl).Err()
}

// CachedClient is a read-through cache in front of another Client.
// Cache failures degrade to a direct fetch and are only logged.
type CachedClient struct {
	next  Client
	cache Cache
	ttl   time.Duration
	log   zerolog.Logger
}

func NewCachedClient(next Client, cache Cache, ttl time.Duration, log zerolog.Logger) *CachedClient {
	return &CachedClient{next: next, cache: cache, ttl: ttl, log: log}
}

func (c *CachedClient) FetchMenuItems(ctx context.Context, restaurantID string) ([]MenuItem, error) {
	key := "menu:" + restaurantID
	var items []MenuItem
	if c.load(ctx, key, &items) {
		return items, nil
	}
	items, err := c.next.FetchMenuItems(ctx, restaurantID)
	if err != nil {
		return nil, err
	}
	// an empty menu is not cached so a restaurant that just published its menu shows up
	if len(items) > 0 {
		c.store(ctx, key, items)
	}
	return items, nil
}

func (c *CachedClient) FetchRestaurant(ctx context.Context, restaurantID string) (*Restaurant, error) {
	key := "restaurant:" + restaurantID
	var r Restaurant
	if c.load(ctx, key, &r) {
		return &r, nil
	}
	got, err := c.next.FetchRestaurant(ctx, restaurantID)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, got)
	return got, nil
}

func (c *CachedClient) load(ctx context.Context, key string, out any) bool {
	b, err := c.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			c.log.Warn().Err(err).Str("key", key).Msg("catalog cache read failed")
		}
		return false
	}
	if err := json.Unmarshal(b, out); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("catalog cache entry corrupt")
		return false
	}
	return true
}

func (c *CachedClient) store(ctx context.Context, key string, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("catalog cache encode failed")
		return
	}
	if err := c.cache.Set(ctx, key, b, c.ttl); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("catalog cache write failed")
	}
}

var (
	_ Client = (*CachedClient)(nil)
	_ Cache  = (*RedisCache)(nil)
)
