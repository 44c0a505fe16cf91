package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

const predictionKeyPrefix = "prediction:"

// Cache stores serialized predictions keyed by object path.
// Implementations report a miss as redis.Nil.
type Cache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// RedisCache keeps predictions in Redis under an optional namespace.
type RedisCache struct {
	client    redis.Cmdable
	namespace string
}

// NewRedisCache wraps client. A non-empty namespace is prepended to every key
// so several deployments can share one Redis.
func NewRedisCache(client redis.Cmdable, namespace string) *RedisCache {
	return &RedisCache{client: client, namespace: namespace}
}

func (c *RedisCache) key(k string) string {
	if c.namespace == "" {
		return k
	}
	return c.namespace + ":" + k
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, c.key(key), value, ttl).Err()
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	return c.client.Get(ctx, c.key(key)).Bytes()
}

// IsCacheMiss reports whether err means the key was absent.
func IsCacheMiss(err error) bool {
	return errors.Is(err, redis.Nil)
}

func predictionCacheKey(gcsPath string) string {
	return predictionKeyPrefix + gcsPath
}
