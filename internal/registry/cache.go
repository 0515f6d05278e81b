package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"go.ngs.io/dsg-ingest/internal/domain"
)

// Cache holds resolved parameters across loads.
type Cache interface {
	// Get returns the cached parameter for key and whether it was present.
	Get(ctx context.Context, key string) (domain.Parameter, bool, error)
	Set(ctx context.Context, key string, p domain.Parameter) error
}

func standardNameKey(standardName string) string { return "standard_name:" + standardName }
func nameKey(name string) string                 { return "name:" + name }

// MemoryCache is an in-process Cache.
type MemoryCache struct {
	mu    sync.RWMutex
	items map[string]domain.Parameter
}

// NewMemoryCache creates an empty in-process cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{items: make(map[string]domain.Parameter)}
}

func (c *MemoryCache) Get(_ context.Context, key string) (domain.Parameter, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.items[key]
	return p, ok, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, p domain.Parameter) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = p
	return nil
}

// Len returns the number of cached keys.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// RedisCache shares resolved parameters between processes loading into the
// same datastore.
type RedisCache struct {
	redis  *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache creates a cache storing JSON values under prefix with the given TTL.
func NewRedisCache(client *redis.Client, prefix string, ttl time.Duration) *RedisCache {
	return &RedisCache{redis: client, prefix: prefix, ttl: ttl}
}

type cachedParameter struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	Type         string `json:"type,omitempty"`
	Description  string `json:"description,omitempty"`
	StandardName string `json:"standard_name,omitempty"`
	LongName     string `json:"long_name,omitempty"`
	Units        string `json:"units,omitempty"`
	Origin       string `json:"origin,omitempty"`
}

func (c *RedisCache) key(k string) string {
	return fmt.Sprintf("%sparameter:%s", c.prefix, k)
}

func (c *RedisCache) Get(ctx context.Context, key string) (domain.Parameter, bool, error) {
	data, err := c.redis.Get(ctx, c.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return domain.Parameter{}, false, nil
	}
	if err != nil {
		return domain.Parameter{}, false, fmt.Errorf("failed to get parameter from Redis: %w", err)
	}

	var cp cachedParameter
	if err := json.Unmarshal([]byte(data), &cp); err != nil {
		return domain.Parameter{}, false, fmt.Errorf("failed to unmarshal parameter: %w", err)
	}
	return domain.Parameter(cp), true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, p domain.Parameter) error {
	data, err := json.Marshal(cachedParameter(p))
	if err != nil {
		return fmt.Errorf("failed to marshal parameter: %w", err)
	}
	if err := c.redis.Set(ctx, c.key(key), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set parameter in Redis: %w", err)
	}
	return nil
}
