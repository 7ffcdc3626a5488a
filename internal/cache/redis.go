// Package cache holds the Redis-backed authorization decision cache.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"learnhub.io/internal/auth"
)

const (
	DefaultPrefix = "learnhub:authz"
	DefaultTTL    = 30 * time.Second
)

// DecisionCache stores allow/deny answers under a generation number.
// Invalidate bumps the generation so every older entry becomes unreachable
// and expires on its own TTL.
type DecisionCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

var _ auth.DecisionCache = (*DecisionCache)(nil)

// Options configures NewClient.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// NewClient connects to Redis and verifies the connection.
func NewClient(ctx context.Context, opts Options) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	return client, nil
}

// NewDecisionCache wraps client. Zero ttl selects DefaultTTL.
func NewDecisionCache(client redis.UniversalClient, ttl time.Duration) *DecisionCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &DecisionCache{client: client, prefix: DefaultPrefix, ttl: ttl}
}

func (c *DecisionCache) generationKey() string { return c.prefix + ":gen" }

func (c *DecisionCache) generation(ctx context.Context) (int64, error) {
	gen, err := c.client.Get(ctx, c.generationKey()).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func (c *DecisionCache) entryKey(gen int64, key string) string {
	return fmt.Sprintf("%s:%d:%s", c.prefix, gen, key)
}

// Get returns the cached decision for key and the generation it was
// looked up under.
func (c *DecisionCache) Get(ctx context.Context, key string) (bool, bool, int64, error) {
	gen, err := c.generation(ctx)
	if err != nil {
		return false, false, 0, err
	}
	v, err := c.client.Get(ctx, c.entryKey(gen, key)).Result()
	if errors.Is(err, redis.Nil) {
		return false, false, gen, nil
	}
	if err != nil {
		return false, false, 0, err
	}
	return v == "1", true, gen, nil
}

// Set stores a decision under gen for the cache TTL. A write for a
// generation that Invalidate has since retired lands on a key nobody reads.
func (c *DecisionCache) Set(ctx context.Context, key string, gen int64, allowed bool) error {
	v := "0"
	if allowed {
		v = "1"
	}
	return c.client.Set(ctx, c.entryKey(gen, key), v, c.ttl).Err()
}

// Invalidate discards every cached decision.
func (c *DecisionCache) Invalidate(ctx context.Context) error {
	return c.client.Incr(ctx, c.generationKey()).Err()
}
