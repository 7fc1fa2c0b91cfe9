package dedup

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the set key used when none is configured.
const DefaultRedisKey = "harvester:accepted_ids"

// Redis is a Set kept in a Redis set, shared by every process pointed at
// the same key. SADD reports whether the member was new, which makes
// Accept atomic across processes.
type Redis struct {
	redis *redis.Client
	key   string
}

// NewRedis creates a Redis-backed set under key.
func NewRedis(redisClient *redis.Client, key string) *Redis {
	if key == "" {
		key = DefaultRedisKey
	}
	return &Redis{redis: redisClient, key: key}
}

// Accept implements Set.
func (r *Redis) Accept(ctx context.Context, id string) (bool, error) {
	added, err := r.redis.SAdd(ctx, r.key, id).Result()
	if err != nil {
		return false, fmt.Errorf("redis sadd: %w", err)
	}
	if added == 0 {
		duplicatesTotal.Inc()
		return false, nil
	}
	return true, nil
}

// Forget implements Set.
func (r *Redis) Forget(ctx context.Context, id string) error {
	if err := r.redis.SRem(ctx, r.key, id).Err(); err != nil {
		return fmt.Errorf("redis srem: %w", err)
	}
	return nil
}

// Len implements Set.
func (r *Redis) Len(ctx context.Context) (int, error) {
	n, err := r.redis.SCard(ctx, r.key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis scard: %w", err)
	}
	return int(n), nil
}

// Reset empties the set. A crawl calls it once before starting.
func (r *Redis) Reset(ctx context.Context) error {
	if err := r.redis.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
