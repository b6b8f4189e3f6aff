package kvstore

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

const redisHashKey = "callagent:kv"

// Redis stores all keys as fields of one hash, so multi-key deletes and
// Clear are single atomic commands.
type Redis struct {
	rdb *redis.Client
}

func NewRedis(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb}
}

func (s *Redis) Get(ctx context.Context, key string) (string, error) {
	v, err := s.rdb.HGet(ctx, redisHashKey, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return v, nil
}

func (s *Redis) Set(ctx context.Context, key, value string) error {
	return s.rdb.HSet(ctx, redisHashKey, key, value).Err()
}

func (s *Redis) Delete(ctx context.Context, key string) error {
	return s.rdb.HDel(ctx, redisHashKey, key).Err()
}

func (s *Redis) DeleteMany(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.rdb.HDel(ctx, redisHashKey, keys...).Err()
}

func (s *Redis) Clear(ctx context.Context) error {
	return s.rdb.Del(ctx, redisHashKey).Err()
}
