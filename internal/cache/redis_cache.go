// Package cache stores search and language model responses in Redis so that
// repeated research over the same questions skips the network.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/example/research-orchestrator/internal/config"
	"github.com/example/research-orchestrator/internal/logger"
	"github.com/example/research-orchestrator/internal/metrics"
)

const keyPrefix = "research"

// Cache is a JSON value store addressed by a namespace and a hashed key.
type Cache interface {
	Get(ctx context.Context, namespace string, key any, value any) (bool, error)
	Set(ctx context.Context, namespace string, key any, value any) error
}

// RedisCache implements Cache on a go-redis client.
type RedisCache struct {
	client redis.UniversalClient
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisCache(client redis.UniversalClient, ttl time.Duration, logger *zap.Logger) *RedisCache {
	return &RedisCache{client: client, ttl: ttl, logger: logger}
}

// Connect opens a client for cfg and verifies it with PING.
func Connect(ctx context.Context, cfg config.Redis) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// Get loads the value stored under (namespace, key) into value. A miss, or an
// entry that no longer decodes, reports false with a nil error.
func (c *RedisCache) Get(ctx context.Context, namespace string, key any, value any) (bool, error) {
	cacheKey, err := generateCacheKey(namespace, key)
	if err != nil {
		return false, nil
	}
	cached, err := c.client.Get(ctx, cacheKey).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.CacheLookups.WithLabelValues(namespace, "miss").Inc()
		return false, nil
	}
	if err != nil {
		metrics.CacheLookups.WithLabelValues(namespace, "error").Inc()
		logger.OrNop(c.logger).Warn("cache get failed", zap.String("key", cacheKey), zap.Error(err))
		return false, err
	}
	if err := json.Unmarshal(cached, value); err != nil {
		metrics.CacheLookups.WithLabelValues(namespace, "miss").Inc()
		logger.OrNop(c.logger).Warn("cached value does not decode", zap.String("key", cacheKey), zap.Error(err))
		return false, nil
	}
	metrics.CacheLookups.WithLabelValues(namespace, "hit").Inc()
	logger.OrNop(c.logger).Debug("cache hit", zap.String("key", cacheKey))
	return true, nil
}

// Set stores value as JSON with the cache's TTL (no expiry when ttl <= 0).
func (c *RedisCache) Set(ctx context.Context, namespace string, key any, value any) error {
	cacheKey, err := generateCacheKey(namespace, key)
	if err != nil {
		return fmt.Errorf("failed to generate cache key: %w", err)
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to serialize value: %w", err)
	}
	ttl := c.ttl
	if ttl < 0 {
		ttl = 0
	}
	if err := c.client.Set(ctx, cacheKey, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store value in redis: %w", err)
	}
	return nil
}

// Clear deletes every entry in namespace.
func (c *RedisCache) Clear(ctx context.Context, namespace string) (int, error) {
	var deleted int
	iter := c.client.Scan(ctx, 0, fmt.Sprintf("%s:%s:*", keyPrefix, namespace), 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return deleted, fmt.Errorf("clear %s: %w", namespace, err)
		}
		deleted++
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("clear %s: %w", namespace, err)
	}
	return deleted, nil
}

// generateCacheKey hashes the JSON encoding of key under the namespace.
func generateCacheKey(namespace string, key any) (string, error) {
	data, err := json.Marshal(key)
	if err != nil {
		return "", fmt.Errorf("failed to marshal cache key: %w", err)
	}
	hash := sha256.Sum256(data)
	return fmt.Sprintf("%s:%s:%s", keyPrefix, namespace, hex.EncodeToString(hash[:])[:32]), nil
}
