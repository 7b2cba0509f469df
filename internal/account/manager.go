// Package account owns user records and is the only writer of balances.
//
// Every balance change runs inside the user's entity lock. Callers that
// already hold the lock (the market engine during a bet or a resolution)
// pass the context returned by lock.Hold and are not blocked again.
package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/parimutuel/internal/lock"
	"github.com/atmx/parimutuel/internal/metrics"
	"github.com/atmx/parimutuel/internal/model"
	"github.com/atmx/parimutuel/internal/store"
)

// DefaultGrant is the starting balance for new users.
var DefaultGrant = decimal.NewFromInt(100)

// Manager creates, loads and funds users.
type Manager struct {
	records *store.Records
	locker  lock.Locker
	grant   decimal.Decimal
	now     func() time.Time
}

// NewManager creates an account manager. A non-positive grant falls back
// to DefaultGrant.
func NewManager(records *store.Records, locker lock.Locker, grant decimal.Decimal) *Manager {
	if !grant.IsPositive() {
		grant = DefaultGrant
	}
	return &Manager{
		records: records,
		locker:  locker,
		grant:   grant,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Grant returns the starting balance given to new users.
func (m *Manager) Grant() decimal.Decimal { return m.grant }

// Debit removes amount from the user's balance.
func (m *Manager) Debit(ctx context.Context, userID string, amount decimal.Decimal) (*model.User, error) {
	if err := model.RequirePositive(amount); err != nil {
		return nil, err
	}
	return m.adjust(ctx, userID, func(u *model.User) error {
		if amount.GreaterThan(u.Balance) {
			return fmt.Errorf("%w: user %s has %s, needs %s",
				model.ErrInsufficientFunds, u.ID, u.Balance, amount)
		}
		u.Balance = u.Balance.Sub(amount)
		return nil
	})
}

// Credit adds amount to the user's balance. Fractional amounts are fine.
func (m *Manager) Credit(ctx context.Context, userID string, amount decimal.Decimal) (*model.User, error) {
	if amount.IsNegative() {
		return nil, fmt.Errorf("%w (got %s)", model.ErrInvalidAmount, amount)
	}
	return m.adjust(ctx, userID, func(u *model.User) error {
		u.Balance = u.Balance.Add(amount)
		return nil
	})
}

// AddBalance is an administrative top-up.
func (m *Manager) AddBalance(ctx context.Context, userID string, amount decimal.Decimal) (*model.User, error) {
	if err := model.RequirePositive(amount); err != nil {
		return nil, err
	}
	u, err := m.Credit(ctx, userID, amount)
	if err != nil {
		return nil, err
	}
	slog.Info("balance added", "user", u.ID, "amount", amount.String(), "balance", u.Balance.String())
	return u, nil
}

func (m *Manager) adjust(ctx context.Context, userID string, apply func(*model.User) error) (*model.User, error) {
	ctx, release, err := lock.Hold(ctx, m.locker, store.UserKey(userID))
	if err != nil {
		return nil, err
	}
	defer release()

	u, err := m.records.User(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := apply(u); err != nil {
		return nil, err
	}
	if err := m.records.PutUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// CreateUser logs in by display name. An existing user with the same name
// (ignoring case and surrounding space) is returned unchanged.
func (m *Manager) CreateUser(ctx context.Context, name string) (*model.User, error) {
	name = strings.TrimSpace(name)
	if err := model.RequireNonEmpty("name", name); err != nil {
		return nil, err
	}
	key := model.NameKey(name)

	ctx, release, err := lock.Hold(ctx, m.locker, store.UserNameKey(key))
	if err != nil {
		return nil, err
	}
	defer release()

	existing, err := m.lookupName(ctx, key)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	u := &model.User{
		ID:        uuid.New().String(),
		Name:      name,
		Balance:   m.grant,
		CreatedAt: m.now(),
	}

	var undo store.Undo
	fail := func(err error) (*model.User, error) {
		return nil, rollback(ctx, "create_user", &undo, err)
	}

	if err := m.records.PutUser(ctx, u); err != nil {
		return nil, err
	}
	undo.Push("user", func(ctx context.Context) error { return m.records.DeleteUser(ctx, u.ID) })

	if err := m.records.PutUserName(ctx, key, u.ID); err != nil {
		return fail(err)
	}
	undo.Push("name index", func(ctx context.Context) error { return m.records.DeleteUserName(ctx, key) })

	if err := m.records.AddToSet(ctx, store.AllUsersKey, u.ID); err != nil {
		return fail(err)
	}

	metrics.UsersCreated.Inc()
	slog.Info("user created", "user", u.ID, "name", u.Name, "balance", u.Balance.String())
	return u, nil
}

// rollback runs the compensations for a failed write sequence. A failed
// compensation is joined onto cause.
func rollback(ctx context.Context, op string, undo *store.Undo, cause error) error {
	metrics.Rollbacks.WithLabelValues(op).Inc()
	if err := undo.Run(ctx); err != nil {
		slog.Error("rollback incomplete", "op", op, "cause", cause, "err", err)
		return errors.Join(cause, err)
	}
	slog.Warn("rolled back", "op", op, "cause", cause)
	return cause
}

// lookupName returns the user indexed under key, or nil when there is none.
// An index entry pointing at a deleted record counts as none.
func (m *Manager) lookupName(ctx context.Context, key string) (*model.User, error) {
	id, err := m.records.UserIDByName(ctx, key)
	if errors.Is(err, model.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u, err := m.records.User(ctx, id)
	if errors.Is(err, model.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

// DeleteUser removes a user and its name index entry. Bets placed by the
// user are kept.
func (m *Manager) DeleteUser(ctx context.Context, id string) error {
	u, err := m.records.User(ctx, id)
	if err != nil {
		return err
	}
	key := model.NameKey(u.Name)

	// Names never change, so the key read before locking stays valid. The
	// name lock keeps a concurrent login from handing out this user.
	ctx, release, err := lock.Hold(ctx, m.locker, store.UserNameKey(key), store.UserKey(id))
	if err != nil {
		return err
	}
	defer release()

	if _, err := m.records.User(ctx, id); err != nil {
		return err
	}

	var undo store.Undo
	fail := func(err error) error {
		return rollback(ctx, "delete_user", &undo, err)
	}

	if err := m.records.RemoveFromSet(ctx, store.AllUsersKey, id); err != nil {
		return err
	}
	undo.Push("all users", func(ctx context.Context) error { return m.records.AddToSet(ctx, store.AllUsersKey, id) })

	// Leave the index alone if the name was re-registered to someone else.
	if indexed, err := m.records.UserIDByName(ctx, key); err == nil && indexed == id {
		if err := m.records.DeleteUserName(ctx, key); err != nil {
			return fail(err)
		}
		undo.Push("name index", func(ctx context.Context) error { return m.records.PutUserName(ctx, key, id) })
	} else if err != nil && !errors.Is(err, model.ErrNotFound) {
		return fail(err)
	}

	if err := m.records.DeleteUser(ctx, id); err != nil {
		return fail(err)
	}

	slog.Info("user deleted", "user", id, "name", u.Name)
	return nil
}

// GetUser loads a user by id.
func (m *Manager) GetUser(ctx context.Context, id string) (*model.User, error) {
	return m.records.User(ctx, id)
}

// GetUserByName loads a user by display name, ignoring case.
func (m *Manager) GetUserByName(ctx context.Context, name string) (*model.User, error) {
	key := model.NameKey(name)
	if key == "" {
		return nil, fmt.Errorf("%w: name is required", model.ErrValidation)
	}
	u, err := m.lookupName(ctx, key)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, fmt.Errorf("user %q: %w", name, model.ErrNotFound)
	}
	return u, nil
}

// ListUsers returns every user ordered by balance, richest first. Ties are
// broken by name.
func (m *Manager) ListUsers(ctx context.Context) ([]model.User, error) {
	users, err := m.records.Users(ctx)
	if err != nil {
		return nil, err
	}
	model.SortByBalance(users)
	return users, nil
}
