package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store persists quota snapshots across processes and restarts.
type Store interface {
	Save(ctx context.Context, snap Snapshot) error

	// Load returns nil without error when no snapshot exists.
	Load(ctx context.Context) (*Snapshot, error)
}

// RedisStore keeps the snapshot under the RedisKey* keys.
type RedisStore struct {
	redis *redis.Client
}

// NewRedisStore creates a Redis-backed snapshot store.
func NewRedisStore(redisClient *redis.Client) *RedisStore {
	return &RedisStore{redis: redisClient}
}

// Save stores the snapshot atomically. Keys expire one window after the
// reset time, when the snapshot can no longer be meaningful.
func (s *RedisStore) Save(ctx context.Context, snap Snapshot) error {
	ttl := time.Until(snap.ResetAt) + DefaultWindow
	if ttl < DefaultWindow {
		ttl = DefaultWindow
	}

	lastUpdateJSON, err := json.Marshal(snap.LastUpdate)
	if err != nil {
		return fmt.Errorf("marshal last update: %w", err)
	}

	pipe := s.redis.TxPipeline()
	pipe.Set(ctx, RedisKeyRemaining, snap.Remaining, ttl)
	pipe.Set(ctx, RedisKeyLimit, snap.Limit, ttl)
	pipe.Set(ctx, RedisKeyResetTimestamp, snap.ResetAt.Unix(), ttl)
	pipe.Set(ctx, RedisKeyLastUpdate, lastUpdateJSON, ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store rate limit snapshot in redis: %w", err)
	}
	return nil
}

// Load retrieves the snapshot from Redis.
func (s *RedisStore) Load(ctx context.Context) (*Snapshot, error) {
	remaining, err := s.redis.Get(ctx, RedisKeyRemaining).Int()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get remaining: %w", err)
	}

	limit, err := s.redis.Get(ctx, RedisKeyLimit).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get limit: %w", err)
	}

	resetTimestamp, err := s.redis.Get(ctx, RedisKeyResetTimestamp).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get reset timestamp: %w", err)
	}

	snap := &Snapshot{}
	snap.Remaining = remaining
	snap.Limit = limit
	snap.ResetAt = time.Unix(resetTimestamp, 0)

	lastUpdateStr, err := s.redis.Get(ctx, RedisKeyLastUpdate).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get last update: %w", err)
	}
	if lastUpdateStr != "" {
		if err := json.Unmarshal([]byte(lastUpdateStr), &snap.LastUpdate); err != nil {
			return nil, fmt.Errorf("parse last update: %w", err)
		}
	}

	return snap, nil
}
