package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/sentra-iam/sentra/internal/observability"
)

const (
	cacheVersionKey = "access:version"
	bumpChannel     = "access.bump"
)

// Cache stores resolved permission sets in Redis under versioned keys.
// Bumping the version invalidates every entry at once; single entries are
// deleted directly. Version bumps are published so other replicas converge.
type Cache struct {
	client  *redis.Client
	ttl     time.Duration
	metrics *observability.Metrics
	group   singleflight.Group
}

// NewCache instantiates the cache helper.
func NewCache(client *redis.Client, ttl time.Duration, metrics *observability.Metrics) *Cache {
	return &Cache{client: client, ttl: ttl, metrics: metrics}
}

// Version returns the current cache version, initialising when missing.
func (c *Cache) Version(ctx context.Context) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if err == redis.Nil {
		if err := c.client.Set(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	if ver <= 0 {
		ver = 1
		if err := c.client.Set(ctx, cacheVersionKey, ver, 0).Err(); err != nil {
			return 0, err
		}
	}
	return ver, nil
}

// UserKey composes the versioned cache key for one user's permission set.
// The key carries both the global and the per-user version, so an in-flight
// populate racing an invalidation writes to a key no reader will see again.
func (c *Cache) UserKey(ctx context.Context, userID int64) (string, error) {
	if c == nil || c.client == nil {
		return fmt.Sprintf("access:user:%d", userID), nil
	}
	ver, err := c.Version(ctx)
	if err != nil {
		return "", err
	}
	userVer, err := c.userVersion(ctx, userID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("access:user:%d:%d:%d", userID, ver, userVer), nil
}

func (c *Cache) userVersion(ctx context.Context, userID int64) (int64, error) {
	ver, err := c.client.Get(ctx, userVersionKey(userID)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

func userVersionKey(userID int64) string {
	return fmt.Sprintf("access:user:%d:ver", userID)
}

// FetchJSON loads a cached value or populates it using the loader. Loader
// errors are propagated and never cached.
func (c *Cache) FetchJSON(ctx context.Context, key string, dest interface{}, loader func(context.Context) (interface{}, error)) error {
	if loader == nil {
		return errors.New("resolver: cache loader required")
	}
	if c == nil || c.client == nil {
		value, err := loader(ctx)
		if err != nil {
			return err
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return err
		}
		return json.Unmarshal(raw, dest)
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		c.metrics.AccessCacheHit()
		return json.Unmarshal(payload, dest)
	}
	if err != redis.Nil {
		return err
	}
	c.metrics.AccessCacheMiss()
	// Concurrent misses on the same key collapse into one loader call.
	raw, err, _ := c.group.Do(key, func() (interface{}, error) {
		value, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
			return nil, err
		}
		return data, nil
	})
	if err != nil {
		return err
	}
	return json.Unmarshal(raw.([]byte), dest)
}

// InvalidateAll bumps the cache version and broadcasts the new one.
func (c *Cache) InvalidateAll(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	ver, err := c.client.Incr(ctx, cacheVersionKey).Result()
	if err != nil {
		return err
	}
	c.metrics.AccessCacheInvalidation("all")
	return c.client.Publish(ctx, bumpChannel, strconv.FormatInt(ver, 10)).Err()
}

// InvalidateUser rotates one user's key by bumping their version. The old
// entry becomes unreachable immediately, even if a concurrent populate is
// still writing to it, and expires with its TTL.
func (c *Cache) InvalidateUser(ctx context.Context, userID int64) error {
	if c == nil || c.client == nil {
		return nil
	}
	c.metrics.AccessCacheInvalidation("user")
	return c.client.Incr(ctx, userVersionKey(userID)).Err()
}

// ListenForInvalidation subscribes to version bump notifications from other
// replicas.
func (c *Cache) ListenForInvalidation(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	pubsub := c.client.Subscribe(ctx, bumpChannel)
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if msg.Payload != "" {
					if ver, err := strconv.ParseInt(msg.Payload, 10, 64); err == nil {
						_ = c.client.Set(ctx, cacheVersionKey, ver, 0).Err()
						continue
					}
				}
				_ = c.client.Incr(ctx, cacheVersionKey).Err()
			}
		}
	}()
	return nil
}
