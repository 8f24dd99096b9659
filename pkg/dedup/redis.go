package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "zaplet:dedup:"

// RedisStore claims keys with SET NX so concurrent workers across
// processes agree on which delivery was first.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	return &RedisStore{client: redis.NewClient(opts)}, nil
}

func (s *RedisStore) MarkIfNew(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	claimed, err := s.client.SetNX(ctx, keyPrefix+key, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim dedup key: %w", err)
	}

	return claimed, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
