package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/feedmill/feedmill/pkg/config"
	"github.com/feedmill/feedmill/pkg/logging"
)

var (
	// ErrCacheDisabled is returned when cache operations are attempted but cache is disabled
	ErrCacheDisabled = fmt.Errorf("cache is disabled")
)

// Cache wraps the shared Redis client handle. All mutation primitives
// are single atomic commands or transactional pipelines, so concurrent
// writers on the same key cannot interleave into a corrupted list.
type Cache struct {
	client *redis.Client
}

// New creates a new Redis cache client
func New(cfg *config.RedisConfig) (*Cache, error) {
	if !cfg.Enabled {
		logging.GetLogger().Info("Redis cache disabled")
		return nil, nil
	}

	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logging.GetLogger().Info("Redis connection established")

	return &Cache{client: client}, nil
}

// NewWithClient wraps an already-constructed client. Used by tests and
// by anything that wants to share one connection handle.
func NewWithClient(client *redis.Client) *Cache {
	return &Cache{client: client}
}

// Get retrieves a value from cache; a missing key yields ("", nil)
func (c *Cache) Get(ctx context.Context, key string) (string, error) {
	if c == nil || c.client == nil {
		return "", ErrCacheDisabled
	}
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	return val, err
}

// Set sets a value in cache with TTL (0 means no expiry)
func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if c == nil || c.client == nil {
		return ErrCacheDisabled
	}
	return c.client.Set(ctx, key, value, ttl).Err()
}

// IncrExisting increments a numeric value only if the key is already
// cached; a cold key stays cold until the next read repopulates it
func (c *Cache) IncrExisting(ctx context.Context, key string, delta int64) error {
	if c == nil || c.client == nil {
		return ErrCacheDisabled
	}
	exists, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return nil
	}
	return c.client.IncrBy(ctx, key, delta).Err()
}

// Delete removes a key from cache
func (c *Cache) Delete(ctx context.Context, key string) error {
	if c == nil || c.client == nil {
		return ErrCacheDisabled
	}
	return c.client.Del(ctx, key).Err()
}

// Exists checks if a key exists
func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	if c == nil || c.client == nil {
		return false, ErrCacheDisabled
	}
	count, err := c.client.Exists(ctx, key).Result()
	return count > 0, err
}

// ListRange retrieves the full stored list for a key, head first
func (c *Cache) ListRange(ctx context.Context, key string) ([][]byte, error) {
	if c == nil || c.client == nil {
		return nil, ErrCacheDisabled
	}
	values, err := c.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	payloads := make([][]byte, len(values))
	for i, v := range values {
		payloads[i] = []byte(v)
	}
	return payloads, nil
}

// ListReplace atomically replaces the stored list under key. The head
// of values becomes the head of the list.
func (c *Cache) ListReplace(ctx context.Context, key string, values [][]byte) error {
	if c == nil || c.client == nil {
		return ErrCacheDisabled
	}
	if len(values) == 0 {
		return nil
	}
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.RPush(ctx, key, args...)
		return nil
	})
	return err
}

// ListPrependTrim atomically prepends a value and trims the list to the
// first limit elements
func (c *Cache) ListPrependTrim(ctx context.Context, key string, value []byte, limit int64) error {
	if c == nil || c.client == nil {
		return ErrCacheDisabled
	}
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, value)
		pipe.LTrim(ctx, key, 0, limit-1)
		return nil
	})
	return err
}

// ListPush pushes a value onto the head of a list (queue producer side)
func (c *Cache) ListPush(ctx context.Context, key string, value []byte) error {
	if c == nil || c.client == nil {
		return ErrCacheDisabled
	}
	return c.client.LPush(ctx, key, value).Err()
}

// ListPop pops a value from the tail of a list (queue consumer side);
// an empty list yields (nil, nil)
func (c *Cache) ListPop(ctx context.Context, key string) ([]byte, error) {
	if c == nil || c.client == nil {
		return nil, ErrCacheDisabled
	}
	val, err := c.client.RPop(ctx, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []byte(val), nil
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// Health checks Redis health
func (c *Cache) Health(ctx context.Context) error {
	if c == nil || c.client == nil {
		return ErrCacheDisabled
	}
	return c.client.Ping(ctx).Err()
}
