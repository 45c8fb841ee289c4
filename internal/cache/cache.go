package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"tiny-errors/internal/config"
)

// ErrUnavailable is returned by reads when no Redis client is configured.
var ErrUnavailable = errors.New("cache: redis not available")

const authPrefix = "tiny-errors:"

// Redis is a JSON value cache on top of go-redis. A nil client turns every
// write into a no-op and every read into a miss.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewClient connects to Redis and pings it.
func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		PoolSize: 10,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return client, nil
}

// New wraps client; keys are namespaced with prefix.
func New(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

// Get decodes the value stored at key into dest.
func (c *Redis) Get(ctx context.Context, key string, dest any) error {
	if c.client == nil {
		return ErrUnavailable
	}
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

// Set stores value at key for ttl.
func (c *Redis) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if c.client == nil {
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.prefix+key, data, ttl).Err()
}

// Delete removes keys.
func (c *Redis) Delete(ctx context.Context, keys ...string) error {
	if c.client == nil || len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.prefix + k
	}
	return c.client.Del(ctx, full...).Err()
}

// ForAuth returns the API-key cache for cfg. Without Redis, or when Redis
// cannot be reached, the returned cache has no client and passes every call
// through.
func ForAuth(ctx context.Context, cfg config.Config, log zerolog.Logger) *Redis {
	if cfg.RedisAddr == "" {
		return New(nil, authPrefix)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	client, err := NewClient(pingCtx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unavailable, api keys will not be cached")
		return New(nil, authPrefix)
	}
	return New(client, authPrefix)
}

// Close releases the Redis connection, if any.
func (c *Redis) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}
