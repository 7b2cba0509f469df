package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/atmx/parimutuel/internal/model"
)

func newMiniRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, rdb
}

// hookedStore runs onGet once, after the primary read and before the value
// is handed back to the caller.
type hookedStore struct {
	Store
	once  sync.Once
	onGet func()
}

func (s *hookedStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, found, err := s.Store.Get(ctx, key)
	if s.onGet != nil {
		s.once.Do(s.onGet)
	}
	return v, found, err
}

func TestCachedStore_Contract(t *testing.T) {
	_, rdb := newMiniRedis(t)
	testContract(t, NewCachedStore(NewMemoryStore(), rdb, time.Minute))
}

func TestCachedStore_CachesBetRecords(t *testing.T) {
	mr, rdb := newMiniRedis(t)
	primary := NewMemoryStore()
	s := NewCachedStore(primary, rdb, time.Minute)
	ctx := context.Background()

	if err := s.Set(ctx, BetKey("b1"), []byte(`{"id":"b1"}`)); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, found, err := s.Get(ctx, BetKey("b1")); err != nil || !found {
		t.Fatalf("expected bet, got found=%v err=%v", found, err)
	}
	if !mr.Exists(cacheKey(BetKey("b1"))) {
		t.Fatal("expected bet record to be cached after read")
	}

	// Served from Redis while cached.
	primary.Set(ctx, BetKey("b1"), []byte(`{"id":"b1","amount":"2"}`))
	v, _, _ := s.Get(ctx, BetKey("b1"))
	if string(v) != `{"id":"b1"}` {
		t.Errorf("expected cached value, got %s", v)
	}

	// Deleting drops the cached copy.
	if err := s.Delete(ctx, BetKey("b1")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, found, _ := s.Get(ctx, BetKey("b1")); found {
		t.Error("expected bet to be gone after delete")
	}
}

func TestCachedStore_MutableRecordsReadPrimary(t *testing.T) {
	mr, rdb := newMiniRedis(t)
	s := NewCachedStore(NewMemoryStore(), rdb, time.Minute)
	ctx := context.Background()

	keys := []string{UserKey("u1"), UserNameKey("alice"), MarketKey("m1")}
	for _, k := range keys {
		s.Set(ctx, k, []byte(`"v"`))
		if _, found, err := s.Get(ctx, k); err != nil || !found {
			t.Fatalf("%s: expected value, got found=%v err=%v", k, found, err)
		}
		if mr.Exists(cacheKey(k)) {
			t.Errorf("%s must not be cached", k)
		}
	}
}

func TestCachedStore_UnlockedReadRacingWriteLeavesNoStaleEntry(t *testing.T) {
	_, rdb := newMiniRedis(t)
	primary := &hookedStore{Store: NewMemoryStore()}
	records := NewRecords(NewCachedStore(primary, rdb, time.Minute))
	ctx := context.Background()

	u := &model.User{ID: "u1", Name: "Alice", Balance: decimal.NewFromInt(100)}
	if err := records.PutUser(ctx, u); err != nil {
		t.Fatalf("put: %v", err)
	}

	// A stake commits between the reader's primary read and its return.
	primary.onGet = func() {
		debited := *u
		debited.Balance = decimal.NewFromInt(80)
		if err := records.PutUser(ctx, &debited); err != nil {
			t.Errorf("concurrent write: %v", err)
		}
	}
	stale, err := records.User(ctx, "u1")
	if err != nil {
		t.Fatalf("unlocked read: %v", err)
	}
	if !stale.Balance.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("expected the reader to see the pre-write balance, got %s", stale.Balance)
	}

	got, err := records.User(ctx, "u1")
	if err != nil {
		t.Fatalf("read after write: %v", err)
	}
	if !got.Balance.Equal(decimal.NewFromInt(80)) {
		t.Errorf("expected balance 80 after the write, got %s (stale cache entry)", got.Balance)
	}
}

func TestCachedStore_InvalidationFailureIsAnError(t *testing.T) {
	_, rdb := newMiniRedis(t)
	s := NewCachedStore(NewMemoryStore(), rdb, time.Minute)
	ctx := context.Background()

	rdb.Close()

	if err := s.Set(ctx, BetKey("b1"), []byte(`{"id":"b1"}`)); err == nil {
		t.Error("expected error when the cached copy cannot be dropped")
	}
	if err := s.Delete(ctx, BetKey("b1")); err == nil {
		t.Error("expected error on delete when the cached copy cannot be dropped")
	}
	if err := s.Set(ctx, UserKey("u1"), []byte(`{"id":"u1"}`)); err != nil {
		t.Errorf("uncached keys must not depend on Redis: %v", err)
	}
}
