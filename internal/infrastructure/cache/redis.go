package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/homeprojects/lead-auction-exchange/internal/infrastructure/config"
)

// ErrKeyNotFound reports a cache miss.
var ErrKeyNotFound = errors.New("cache key not found")

// Cache is a key-value store with TTLs. Every read path backed by the cache
// must also be servable from the database; the cache is an accelerator only.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeletePattern(ctx context.Context, pattern string) error
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)
	Increment(ctx context.Context, key string) (int64, error)
	IncrementBy(ctx context.Context, key string, delta int64) (int64, error)
	GetJSON(ctx context.Context, key string, dest interface{}) error
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Close() error
}

// redisCache implements Cache using Redis
type redisCache struct {
	client *redis.Client
	logger *zap.Logger
}

// NewClient dials Redis and verifies connectivity. The cache and the lead
// queue share one client.
func NewClient(cfg *config.RedisConfig) (*redis.Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.URL,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return client, nil
}

// NewRedisCache creates a new Redis cache instance with the given configuration
func NewRedisCache(cfg *config.RedisConfig, logger *zap.Logger) (Cache, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}

	logger.Info("redis cache initialized",
		zap.String("addr", cfg.URL),
		zap.Int("db", cfg.DB),
		zap.Int("pool_size", cfg.PoolSize))

	return &redisCache{client: client, logger: logger}, nil
}

// NewRedisCacheFromClient wraps an existing client; used by tests with
// miniredis.
func NewRedisCacheFromClient(client *redis.Client, logger *zap.Logger) Cache {
	return &redisCache{client: client, logger: logger}
}

// Get retrieves a value by key
func (r *redisCache) Get(ctx context.Context, key string) (string, error) {
	result, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrKeyNotFound
		}
		r.logger.Error("redis get failed", zap.String("key", key), zap.Error(err))
		return "", fmt.Errorf("redis get failed: %w", err)
	}
	return result, nil
}

// Set stores a value with a TTL
func (r *redisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		r.logger.Error("redis set failed",
			zap.String("key", key),
			zap.Duration("ttl", ttl),
			zap.Error(err))
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Delete removes a key
func (r *redisCache) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		r.logger.Error("redis delete failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

// DeletePattern removes every key matching the glob pattern, scanning in
// batches so large namespaces don't block Redis.
func (r *redisCache) DeletePattern(ctx context.Context, pattern string) error {
	iter := r.client.Scan(ctx, 0, pattern, 100).Iterator()

	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) >= 100 {
			if err := r.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("redis delete pattern failed: %w", err)
			}
			keys = keys[:0]
		}
	}
	if err := iter.Err(); err != nil {
		r.logger.Error("redis scan failed", zap.String("pattern", pattern), zap.Error(err))
		return fmt.Errorf("redis scan failed: %w", err)
	}
	if len(keys) > 0 {
		if err := r.client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("redis delete pattern failed: %w", err)
		}
	}
	return nil
}

// SetNX sets a value only if the key doesn't exist (atomic)
func (r *redisCache) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	result, err := r.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		r.logger.Error("redis setnx failed",
			zap.String("key", key),
			zap.Duration("ttl", ttl),
			zap.Error(err))
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}
	return result, nil
}

// Increment atomically increments a numeric value
func (r *redisCache) Increment(ctx context.Context, key string) (int64, error) {
	result, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		r.logger.Error("redis increment failed", zap.String("key", key), zap.Error(err))
		return 0, fmt.Errorf("redis increment failed: %w", err)
	}
	return result, nil
}

// IncrementBy atomically adds delta to a numeric value
func (r *redisCache) IncrementBy(ctx context.Context, key string, delta int64) (int64, error) {
	result, err := r.client.IncrBy(ctx, key, delta).Result()
	if err != nil {
		r.logger.Error("redis incrby failed", zap.String("key", key), zap.Error(err))
		return 0, fmt.Errorf("redis incrby failed: %w", err)
	}
	return result, nil
}

// GetJSON retrieves and unmarshals JSON data
func (r *redisCache) GetJSON(ctx context.Context, key string, dest interface{}) error {
	data, err := r.Get(ctx, key)
	if err != nil {
		return err
	}

	if err := json.Unmarshal([]byte(data), dest); err != nil {
		r.logger.Error("json unmarshal failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("json unmarshal failed: %w", err)
	}
	return nil
}

// SetJSON marshals and stores JSON data
func (r *redisCache) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		r.logger.Error("json marshal failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("json marshal failed: %w", err)
	}
	return r.Set(ctx, key, data, ttl)
}

// Close closes the cache connection
func (r *redisCache) Close() error {
	if err := r.client.Close(); err != nil {
		r.logger.Error("redis close failed", zap.Error(err))
		return fmt.Errorf("redis close failed: %w", err)
	}
	r.logger.Info("redis cache connection closed")
	return nil
}
