package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "library:import:progress:"

// RedisClient is the subset of redis.Cmdable the store uses.
type RedisClient interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

// RedisStore keeps the latest tally per media in Redis so any replica can
// answer a progress poll.
type RedisStore struct {
	client RedisClient
	ttl    time.Duration
}

func NewRedisStore(client RedisClient, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisStore{client: client, ttl: ttl}
}

func redisKey(key MediaKey) string {
	return fmt.Sprintf("%s%s:%d", redisKeyPrefix, key.Kind, key.ExternalID)
}

func (s *RedisStore) Publish(ctx context.Context, key MediaKey, p Progress) error {
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, redisKey(key), b, s.ttl).Err(); err != nil {
		return fmt.Errorf("progress: redis set: %w", err)
	}
	return nil
}

func (s *RedisStore) Latest(ctx context.Context, key MediaKey) (Progress, error) {
	b, err := s.client.Get(ctx, redisKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Progress{}, ErrNoProgress
		}
		return Progress{}, fmt.Errorf("progress: redis get: %w", err)
	}
	var p Progress
	if err := json.Unmarshal(b, &p); err != nil {
		return Progress{}, fmt.Errorf("progress: decode: %w", err)
	}
	return p, nil
}
