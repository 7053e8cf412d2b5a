// Package cache provides a Redis-backed answer cache for RAG queries.
// The cache is optional: when no Redis URL is configured the application
// passes a nil rag.AnswerCache and every query goes to the model.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/taxpilot/taxpilot/internal/log"
)

const (
	dialTimeout  = 5 * time.Second
	readTimeout  = 3 * time.Second
	writeTimeout = 3 * time.Second
)

// Connect creates a Redis client from a URL and verifies it with a ping.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing Redis URL: %w", err)
	}

	opts.DialTimeout = dialTimeout
	opts.ReadTimeout = readTimeout
	opts.WriteTimeout = writeTimeout

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging Redis: %w", err)
	}
	return client, nil
}

// AnswerCache stores generated answers with a TTL.
// Implements rag.AnswerCache.
type AnswerCache struct {
	client *redis.Client
	ttl    time.Duration
	logger log.Logger
}

// NewAnswerCache creates an AnswerCache with the given TTL.
func NewAnswerCache(client *redis.Client, ttl time.Duration, logger log.Logger) *AnswerCache {
	return &AnswerCache{client: client, ttl: ttl, logger: logger}
}

// Get returns the cached answer for key, with ok=false on a miss.
func (c *AnswerCache) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading cache key %s: %w", key, err)
	}
	return val, true, nil
}

// Set stores an answer under key with the configured TTL.
func (c *AnswerCache) Set(ctx context.Context, key, value string) error {
	if err := c.client.Set(ctx, key, value, c.ttl).Err(); err != nil {
		return fmt.Errorf("writing cache key %s: %w", key, err)
	}
	c.logger.Debug("answer cached", "key", key, "ttl", c.ttl)
	return nil
}
