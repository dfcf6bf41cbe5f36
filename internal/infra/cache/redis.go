package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

// DefaultTTL se aplica cuando ni la llamada ni el constructor fijan un TTL.
const DefaultTTL = 5 * time.Minute

// RedisClient es el subconjunto de *redis.Client que usa la caché.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisCache guarda los read-models como JSON bajo un prefijo propio, para
// poder compartir la instancia de Redis con otros servicios.
type RedisCache struct {
	client RedisClient
	ttl    time.Duration
	prefix string
}

type RedisOption func(*RedisCache)

// WithKeyPrefix antepone prefix a todas las claves, ej. "eventrelay:".
func WithKeyPrefix(prefix string) RedisOption {
	return func(c *RedisCache) { c.prefix = prefix }
}

func NewRedisCache(client RedisClient, ttl time.Duration, opts ...RedisOption) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &RedisCache{client: client, ttl: ttl}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *RedisCache) key(k string) string { return c.prefix + k }

// expiry resuelve el TTL de una escritura: el de la llamada si es positivo, si no el por defecto.
func (c *RedisCache) expiry(ttlSecs int) time.Duration {
	if ttlSecs > 0 {
		return time.Duration(ttlSecs) * time.Second
	}
	return c.ttl
}

func (c *RedisCache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil // cache miss
		}
		return false, err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, val interface{}, ttlSecs int) error {
	data, err := json.Marshal(val)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(key), data, c.expiry(ttlSecs)).Err()
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.key(key)).Err()
}

var (
	_ Cache       = (*RedisCache)(nil)
	_ RedisClient = (*redis.Client)(nil)
)
