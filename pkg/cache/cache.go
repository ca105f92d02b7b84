// Package cache provides a Redis client wrapper for fast spend counters and
// rate limiting. Counters are advisory: the usage ledger in PostgreSQL is the
// source of truth, Redis serves the hot-path reads.
package cache

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// Cache wraps a Redis client with spend-tracking operations.
type Cache struct {
	client *redis.Client
}

// New creates a Redis cache client connected to the given address.
// The redisURL should be in "host:port" format.
func New(ctx context.Context, redisURL string) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         redisURL,
		Password:     "",
		DB:           0,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     20,
		MinIdleConns: 5,
	})

	// Verify connectivity
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("cache: failed to connect to Redis at %s: %w", redisURL, err)
	}

	log.Printf("cache: connected to Redis at %s", redisURL)
	return &Cache{client: client}, nil
}

// Close gracefully shuts down the Redis client connection.
func (c *Cache) Close() error {
	if c.client != nil {
		log.Println("cache: closing Redis connection")
		return c.client.Close()
	}
	return nil
}

// Get retrieves a value from the cache by key.
// Returns an empty string and no error if the key does not exist.
func (c *Cache) Get(ctx context.Context, key string) (string, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("cache: get %q: %w", key, err)
	}
	return val, nil
}

// Set stores a key-value pair in the cache with the given TTL.
// A zero TTL means the key will not expire.
func (c *Cache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("cache: set %q: %w", key, err)
	}
	return nil
}

// Delete removes one or more keys from the cache.
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("cache: delete: %w", err)
	}
	return nil
}

// spendKey constructs the Redis key for spend tracking.
// Format: "spend:{scope}:{entityID}" with a monthly TTL. Scope is
// "workspace", "user", or "global" (entityID "-" for global).
func spendKey(scope, entityID string) string {
	if entityID == "" {
		entityID = "-"
	}
	return fmt.Sprintf("spend:%s:%s", scope, entityID)
}

// GetSpend retrieves the current accumulated spend for a scope and entity.
// Returns zero if no spend has been recorded yet.
func (c *Cache) GetSpend(ctx context.Context, scope, entityID string) (decimal.Decimal, error) {
	key := spendKey(scope, entityID)
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("cache: get spend %q: %w", key, err)
	}

	spend, err := decimal.NewFromString(val)
	if err != nil {
		return decimal.Zero, fmt.Errorf("cache: parse spend %q=%q: %w", key, val, err)
	}
	return spend, nil
}

// incrWithExpireLua atomically increments a key and sets TTL if the key has no expiry.
var incrWithExpireLua = redis.NewScript(`
	local newval = redis.call('INCRBYFLOAT', KEYS[1], ARGV[1])
	if redis.call('TTL', KEYS[1]) == -1 then
		redis.call('EXPIRE', KEYS[1], ARGV[2])
	end
	return newval
`)

// IncrSpend atomically increments the spend counter for a scope and entity.
// It uses a Lua script to INCRBYFLOAT and set TTL in a single round-trip,
// preventing race conditions between the increment and expiry operations.
func (c *Cache) IncrSpend(ctx context.Context, scope, entityID string, amount decimal.Decimal) (decimal.Decimal, error) {
	key := spendKey(scope, entityID)
	ttlSeconds := int(31 * 24 * time.Hour / time.Second) // 31 days

	result, err := incrWithExpireLua.Run(ctx, c.client, []string{key},
		amount.String(), ttlSeconds).Result()
	if err != nil {
		return decimal.Zero, fmt.Errorf("cache: incr spend %q: %w", key, err)
	}

	// Lua returns a string for INCRBYFLOAT
	switch v := result.(type) {
	case string:
		newVal, parseErr := decimal.NewFromString(v)
		if parseErr != nil {
			return decimal.Zero, fmt.Errorf("cache: parse incr result %q: %w", v, parseErr)
		}
		return newVal, nil
	case float64:
		return decimal.NewFromFloat(v), nil
	default:
		return decimal.Zero, fmt.Errorf("cache: unexpected result type from Lua script")
	}
}

// SetSpend directly sets the spend counter for a scope and entity.
// Used when rebuilding counters from ledger aggregates.
func (c *Cache) SetSpend(ctx context.Context, scope, entityID string, amount decimal.Decimal) error {
	key := spendKey(scope, entityID)
	if err := c.client.Set(ctx, key, amount.String(), 31*24*time.Hour).Err(); err != nil {
		return fmt.Errorf("cache: set spend %q: %w", key, err)
	}
	return nil
}

// rateLimitLua atomically increments the counter and sets TTL only on the first
// request in the window. This prevents the TTL from being extended by subsequent
// requests, which would cause callers to be blocked longer than the intended window.
var rateLimitLua = redis.NewScript(`
	local count = redis.call('INCR', KEYS[1])
	if count == 1 then
		redis.call('EXPIRE', KEYS[1], ARGV[1])
	end
	return count
`)

// RateLimitCheck performs a fixed-window rate limit check for a given key.
// It returns true if the request is allowed (under limit), false if rate-limited.
// The window TTL is set once on the first request and not extended by subsequent ones.
func (c *Cache) RateLimitCheck(ctx context.Context, key string, maxRequests int64, window time.Duration) (bool, error) {
	rateLimitKey := fmt.Sprintf("ratelimit:%s", key)
	windowSeconds := int(window / time.Second)

	result, err := rateLimitLua.Run(ctx, c.client, []string{rateLimitKey}, windowSeconds).Int64()
	if err != nil {
		return false, fmt.Errorf("cache: rate limit check: %w", err)
	}

	return result <= maxRequests, nil
}

// Client returns the underlying Redis client for advanced operations.
func (c *Cache) Client() *redis.Client {
	return c.client
}
