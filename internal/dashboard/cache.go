package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores serialized counts per view.
type Cache interface {
	Get(ctx context.Context, v View) (map[string]int64, bool, error)
	Set(ctx context.Context, v View, counts map[string]int64) error
	Invalidate(ctx context.Context, v View) error
}

type nopCache struct{}

func (nopCache) Get(context.Context, View) (map[string]int64, bool, error) { return nil, false, nil }
func (nopCache) Set(context.Context, View, map[string]int64) error { return nil }
func (nopCache) Invalidate(context.Context, View) error { return nil }

// RedisCache keeps counts as JSON strings with a TTL.
type RedisCache struct {
	rdb    redis.Cmdable
	ttl    time.Duration
	prefix string
}

func NewRedisCache(rdb redis.Cmdable, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl, prefix: "alertflow:dash:"}
}

// DialRedis connects to addr and checks the connection.
func DialRedis(ctx context.Context, addr string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, err
	}
	return rdb, nil
}

func (c *RedisCache) key(v View) string { return c.prefix + string(v) }

func (c *RedisCache) Get(ctx context.Context, v View) (map[string]int64, bool, error) {
	raw, err := c.rdb.Get(ctx, c.key(v)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var counts map[string]int64
	if err := json.Unmarshal(raw, &counts); err != nil {
		return nil, false, err
	}
	return counts, true, nil
}

func (c *RedisCache) Set(ctx context.Context, v View, counts map[string]int64) error {
	raw, err := json.Marshal(counts)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, c.key(v), raw, c.ttl).Err()
}

func (c *RedisCache) Invalidate(ctx context.Context, v View) error {
	return c.rdb.Del(ctx, c.key(v)).Err()
}
