package cachesvc

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/educhain/educhain/core"
)

// RedisCache stores values in Redis.
type RedisCache struct {
	client *redis.Client
}

// NewRedisClient connects to Redis. It returns nil when no address is configured: caching is disabled.
func NewRedisClient(ctx context.Context, conf *core.Config, logger core.Logger) *redis.Client {
	if conf.Redis.Addr == "" {
		logger.Info("redis address not set, caching disabled")
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     conf.Redis.Addr,
		Password: conf.Redis.Password,
		DB:       conf.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Error("connecting to redis, caching disabled", err, "addr", conf.Redis.Addr)
		_ = client.Close()
		return nil
	}
	return client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "redis GET %s", key)
	}
	return val, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	return errors.Wrapf(c.client.Set(ctx, key, val, ttl).Err(), "redis SET %s", key)
}

func (c *RedisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return errors.Wrap(c.client.Del(ctx, keys...).Err(), "redis DEL")
}
