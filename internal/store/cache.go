package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
//
// Only bet records are cached. They are written once and never change, so
// an unlocked read cannot park an old version in the cache. Users, markets,
// the name index and set membership always read the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) Set(ctx context.Context, key string, value []byte) error {
	if err := s.primary.Set(ctx, key, value); err != nil {
		return err
	}
	return s.invalidate(ctx, key)
}

func (s *CachedStore) Delete(ctx context.Context, key string) error {
	if err := s.primary.Delete(ctx, key); err != nil {
		return err
	}
	return s.invalidate(ctx, key)
}

// --- Read-through (check cache first) ---

func (s *CachedStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if !cacheable(key) {
		return s.primary.Get(ctx, key)
	}
	data, err := s.rdb.Get(ctx, cacheKey(key)).Bytes()
	if err == nil {
		return data, true, nil
	}

	// Cache miss: read from primary.
	value, found, err := s.primary.Get(ctx, key)
	if err != nil || !found {
		return value, found, err
	}

	s.rdb.Set(ctx, cacheKey(key), value, s.ttl)
	return value, true, nil
}

func (s *CachedStore) Exists(ctx context.Context, key string) (bool, error) {
	if cacheable(key) {
		n, err := s.rdb.Exists(ctx, cacheKey(key)).Result()
		if err == nil && n > 0 {
			return true, nil
		}
	}
	return s.primary.Exists(ctx, key)
}

// --- Passthrough (not cached) ---

func (s *CachedStore) AddToSet(ctx context.Context, setKey, member string) error {
	return s.primary.AddToSet(ctx, setKey, member)
}

func (s *CachedStore) RemoveFromSet(ctx context.Context, setKey, member string) error {
	return s.primary.RemoveFromSet(ctx, setKey, member)
}

func (s *CachedStore) Members(ctx context.Context, setKey string) ([]string, error) {
	return s.primary.Members(ctx, setKey)
}

// --- Cache helpers ---

// invalidate drops the cached copy of key. A failure is returned so the
// caller's write is treated as failed rather than leaving a stale entry.
func (s *CachedStore) invalidate(ctx context.Context, key string) error {
	if !cacheable(key) {
		return nil
	}
	if err := s.rdb.Del(ctx, cacheKey(key)).Err(); err != nil {
		return fmt.Errorf("cache invalidation %s: %w", key, err)
	}
	return nil
}

// cacheable reports whether key holds an immutable bet record.
func cacheable(key string) bool {
	return strings.HasPrefix(key, "bets:") &&
		!strings.HasPrefix(key, "bets:market:") &&
		!strings.HasPrefix(key, "bets:user:")
}

func cacheKey(key string) string { return "cache:" + key }
