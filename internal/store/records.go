package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/atmx/parimutuel/internal/model"
)

// fanOut bounds concurrent reads when loading many records at once.
const fanOut = 16

// Records gives typed access to users, markets and bets over any Store.
// Backend failures are reported as model.ErrStoreUnavailable; absent
// records as model.ErrNotFound.
type Records struct {
	kv Store
}

// NewRecords wraps a Store.
func NewRecords(kv Store) *Records {
	return &Records{kv: kv}
}

// --- Users ---

func (r *Records) User(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	if err := r.get(ctx, UserKey(id), &u); err != nil {
		return nil, fmt.Errorf("user %s: %w", id, err)
	}
	return &u, nil
}

func (r *Records) PutUser(ctx context.Context, u *model.User) error {
	return r.put(ctx, UserKey(u.ID), u)
}

func (r *Records) DeleteUser(ctx context.Context, id string) error {
	return r.unavailable(r.kv.Delete(ctx, UserKey(id)))
}

// UserIDByName resolves a name key (see model.NameKey) to a user id.
func (r *Records) UserIDByName(ctx context.Context, nameKey string) (string, error) {
	var id string
	if err := r.get(ctx, UserNameKey(nameKey), &id); err != nil {
		return "", fmt.Errorf("user %q: %w", nameKey, err)
	}
	return id, nil
}

func (r *Records) PutUserName(ctx context.Context, nameKey, id string) error {
	return r.put(ctx, UserNameKey(nameKey), id)
}

func (r *Records) DeleteUserName(ctx context.Context, nameKey string) error {
	return r.unavailable(r.kv.Delete(ctx, UserNameKey(nameKey)))
}

func (r *Records) UserIDs(ctx context.Context) ([]string, error) {
	return r.members(ctx, AllUsersKey)
}

// Users loads every user in the all-users index. Dangling ids are skipped.
func (r *Records) Users(ctx context.Context) ([]model.User, error) {
	ids, err := r.UserIDs(ctx)
	if err != nil {
		return nil, err
	}
	return loadMany[model.User](ctx, r, ids, UserKey)
}

// --- Markets ---

func (r *Records) Market(ctx context.Context, id string) (*model.Market, error) {
	var m model.Market
	if err := r.get(ctx, MarketKey(id), &m); err != nil {
		return nil, fmt.Errorf("market %s: %w", id, err)
	}
	return &m, nil
}

func (r *Records) PutMarket(ctx context.Context, m *model.Market) error {
	return r.put(ctx, MarketKey(m.ID), m)
}

func (r *Records) DeleteMarket(ctx context.Context, id string) error {
	return r.unavailable(r.kv.Delete(ctx, MarketKey(id)))
}

func (r *Records) MarketIDs(ctx context.Context) ([]string, error) {
	return r.members(ctx, AllMarketsKey)
}

// Markets loads every market in the all-markets index.
func (r *Records) Markets(ctx context.Context) ([]model.Market, error) {
	ids, err := r.MarketIDs(ctx)
	if err != nil {
		return nil, err
	}
	return loadMany[model.Market](ctx, r, ids, MarketKey)
}

// --- Bets ---

func (r *Records) PutBet(ctx context.Context, b *model.Bet) error {
	return r.put(ctx, BetKey(b.ID), b)
}

func (r *Records) DeleteBet(ctx context.Context, id string) error {
	return r.unavailable(r.kv.Delete(ctx, BetKey(id)))
}

// MarketBets loads every bet placed on a market.
func (r *Records) MarketBets(ctx context.Context, marketID string) ([]model.Bet, error) {
	ids, err := r.members(ctx, MarketBetsKey(marketID))
	if err != nil {
		return nil, err
	}
	return loadMany[model.Bet](ctx, r, ids, BetKey)
}

// UserBets loads every bet placed by a user.
func (r *Records) UserBets(ctx context.Context, userID string) ([]model.Bet, error) {
	ids, err := r.members(ctx, UserBetsKey(userID))
	if err != nil {
		return nil, err
	}
	return loadMany[model.Bet](ctx, r, ids, BetKey)
}

// --- Sets ---

func (r *Records) AddToSet(ctx context.Context, setKey, member string) error {
	return r.unavailable(r.kv.AddToSet(ctx, setKey, member))
}

func (r *Records) RemoveFromSet(ctx context.Context, setKey, member string) error {
	return r.unavailable(r.kv.RemoveFromSet(ctx, setKey, member))
}

// --- helpers ---

func (r *Records) get(ctx context.Context, key string, dst any) error {
	data, found, err := r.kv.Get(ctx, key)
	if err != nil {
		return r.unavailable(err)
	}
	if !found {
		return model.ErrNotFound
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("%w: decode %s: %v", model.ErrStoreUnavailable, key, err)
	}
	return nil
}

func (r *Records) put(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return r.unavailable(r.kv.Set(ctx, key, data))
}

func (r *Records) members(ctx context.Context, setKey string) ([]string, error) {
	ids, err := r.kv.Members(ctx, setKey)
	if err != nil {
		return nil, r.unavailable(err)
	}
	return ids, nil
}

func (r *Records) unavailable(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", model.ErrStoreUnavailable, err)
}

// loadMany reads ids concurrently, preserving id order and dropping ids
// whose record no longer exists.
func loadMany[T any](ctx context.Context, r *Records, ids []string, keyOf func(string) string) ([]T, error) {
	out := make([]*T, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fanOut)
	for i, id := range ids {
		g.Go(func() error {
			var v T
			err := r.get(gctx, keyOf(id), &v)
			if errors.Is(err, model.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			out[i] = &v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := make([]T, 0, len(out))
	for _, v := range out {
		if v != nil {
			result = append(result, *v)
		}
	}
	return result, nil
}
