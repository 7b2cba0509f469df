package lock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/atmx/parimutuel/internal/model"
)

// releaseScript deletes the lock only if this holder still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisLocker serializes access to keys across processes sharing one Redis.
// Locks are SET NX with an expiry so a crashed holder cannot wedge a key.
type RedisLocker struct {
	rdb     *redis.Client
	ttl     time.Duration
	retries int
	backoff time.Duration
}

// NewRedisLocker creates a distributed locker. Each Lock attempts SET NX up
// to retries+1 times, sleeping backoff between attempts.
func NewRedisLocker(rdb *redis.Client, ttl time.Duration, retries int, backoff time.Duration) *RedisLocker {
	if retries < 0 {
		retries = 0
	}
	return &RedisLocker{rdb: rdb, ttl: ttl, retries: retries, backoff: backoff}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	lockKey := "lock:" + key
	token := uuid.NewString()

	for attempt := 0; ; attempt++ {
		ok, err := l.rdb.SetNX(ctx, lockKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: lock %s: %v", model.ErrStoreUnavailable, key, err)
		}
		if ok {
			break
		}
		if attempt >= l.retries {
			return nil, fmt.Errorf("%w: %s still locked after %d attempts", model.ErrConflict, key, attempt+1)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.backoff):
		}
	}

	return func() {
		// Release with a fresh context: the request context may already be done.
		rctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := releaseScript.Run(rctx, l.rdb, []string{lockKey}, token).Err(); err != nil {
			slog.Warn("lock release failed", "key", key, "err", err)
		}
	}, nil
}
