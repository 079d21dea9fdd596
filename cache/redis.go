package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultPrefix scopes the keys this service writes.
const DefaultPrefix = "qlprint"

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// Redis stores prepared streams in Redis so that several servers share them.
type Redis struct {
	client *redis.Client
	prefix string
}

func NewRedis(cfg RedisConfig) *Redis {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewRedisFromClient(rdb, cfg.Prefix)
}

func NewRedisFromClient(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) Close() error {
	return r.client.Close()
}

// Ping tests the Redis connection
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) buildKey(key string) string {
	return r.prefix + "/" + key
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	cacheKey := r.buildKey(key)

	result, err := r.client.Get(ctx, cacheKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get key %s from Redis: %w", cacheKey, err)
	}
	return result, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	cacheKey := r.buildKey(key)

	if err := r.client.Set(ctx, cacheKey, value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set key %s in Redis: %w", cacheKey, err)
	}
	return nil
}

// Flush removes every entry under the prefix.
func (r *Redis) Flush(ctx context.Context) error {
	pattern := r.prefix + "/*"

	iter := r.client.Scan(ctx, 0, pattern, 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan for keys with pattern %s: %w", pattern, err)
	}

	if len(keys) > 0 {
		if err := r.client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("failed to delete keys: %w", err)
		}
	}
	return nil
}
