package store

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store directly on Redis strings and sets.
// Keys are namespaced by an optional prefix so several deployments can
// share one Redis database.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisStore creates a Redis-backed ledger store.
func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) k(key string) string { return s.prefix + key }

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := s.rdb.Get(ctx, s.k(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	return s.rdb.Set(ctx, s.k(key), value, 0).Err()
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, s.k(key)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, s.k(key)).Err()
}

func (s *RedisStore) AddToSet(ctx context.Context, setKey, member string) error {
	return s.rdb.SAdd(ctx, s.k(setKey), member).Err()
}

func (s *RedisStore) RemoveFromSet(ctx context.Context, setKey, member string) error {
	return s.rdb.SRem(ctx, s.k(setKey), member).Err()
}

func (s *RedisStore) Members(ctx context.Context, setKey string) ([]string, error) {
	return s.rdb.SMembers(ctx, s.k(setKey)).Result()
}
