// SPDX-FileCopyrightText: Copyright 2025 The vmcpd Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Default timeouts for Redis operations.
const (
	defaultRedisDialTimeout  = 5 * time.Second
	defaultRedisReadTimeout  = 3 * time.Second
	defaultRedisWriteTimeout = 3 * time.Second
)

// refreshableTokenTTL bounds how long a token with a refresh token is kept.
// Refresh tokens have no advertised lifetime, so this is a housekeeping cap
// rather than a correctness bound.
const refreshableTokenTTL = 30 * 24 * time.Hour

// RedisTokenCacheConfig configures the Redis-backed token cache.
type RedisTokenCacheConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string

	// Username and Password authenticate to Redis. Optional.
	Username string
	Password string

	// DB selects the Redis logical database.
	DB int

	// KeyPrefix namespaces cache keys, e.g. "vmcpd:token:".
	KeyPrefix string

	// Timeouts (defaults: Dial=5s, Read=3s, Write=3s).
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// RedisTokenCache is a TokenCache backed by Redis, for deployments where
// tokens must survive process restarts or be shared across replicas.
type RedisTokenCache struct {
	client    redis.UniversalClient
	keyPrefix string
}

var _ TokenCache = (*RedisTokenCache)(nil)

// NewRedisTokenCache connects to Redis and verifies connectivity with a ping.
func NewRedisTokenCache(ctx context.Context, cfg RedisTokenCacheConfig) (*RedisTokenCache, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaultRedisDialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaultRedisReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaultRedisWriteTimeout
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "vmcpd:token:"
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisTokenCache{
		client:    client,
		keyPrefix: cfg.KeyPrefix,
	}, nil
}

// NewRedisTokenCacheWithClient wraps a pre-configured client. Useful for
// testing with miniredis.
func NewRedisTokenCacheWithClient(client redis.UniversalClient, keyPrefix string) *RedisTokenCache {
	if keyPrefix == "" {
		keyPrefix = "vmcpd:token:"
	}
	return &RedisTokenCache{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

// Get implements TokenCache.
func (c *RedisTokenCache) Get(ctx context.Context, key string) (*CachedToken, error) {
	data, err := c.client.Get(ctx, c.keyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get token: %w", err)
	}

	var tok CachedToken
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token: %w", err)
	}
	return &tok, nil
}

// Set implements TokenCache. Entries carrying a refresh token get a long
// housekeeping TTL; entries without one expire shortly after the access token
// does, since nothing can renew them.
func (c *RedisTokenCache) Set(ctx context.Context, key string, token *CachedToken) error {
	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}

	ttl := refreshableTokenTTL
	if token.RefreshToken == "" && !token.ExpiresAt.IsZero() {
		ttl = time.Until(token.ExpiresAt) + time.Minute
		if ttl <= 0 {
			ttl = time.Minute
		}
	}

	return c.client.Set(ctx, c.keyPrefix+key, data, ttl).Err()
}

// Delete implements TokenCache.
func (c *RedisTokenCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.keyPrefix+key).Err()
}

// Clear implements TokenCache. It scans the key prefix rather than flushing
// the database, which may be shared.
func (c *RedisTokenCache) Clear(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, c.keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("failed to delete token %q: %w", iter.Val(), err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan tokens: %w", err)
	}
	return nil
}

// Close closes the Redis client connection.
func (c *RedisTokenCache) Close() error {
	return c.client.Close()
}
