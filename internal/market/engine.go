// Package market implements the market lifecycle: creation, staking into
// the yes/no pools and one-shot parimutuel settlement.
//
// A market is Open until ResolveMarket fixes its outcome; there is no
// reopening. Every operation that reads then writes a market or user
// record holds that record's entity lock for the whole sequence, and
// every domain check runs before the first write. Store failures after
// the first write replay the registered compensations, so a failed stake
// or resolution leaves balances, pools and indexes as they were.
package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/parimutuel/internal/account"
	"github.com/atmx/parimutuel/internal/lock"
	"github.com/atmx/parimutuel/internal/metrics"
	"github.com/atmx/parimutuel/internal/model"
	"github.com/atmx/parimutuel/internal/parimutuel"
	"github.com/atmx/parimutuel/internal/store"
)

// DefaultSeed is the amount each pool starts with.
var DefaultSeed = decimal.NewFromInt(5)

// Sample market created on an empty ledger when EnsureDefaultMarket is used.
const (
	DefaultMarketID          = "1"
	defaultMarketTitle       = "Will eat a whole package of turkey straight from the box"
	defaultMarketDescription = "The subject must consume an entire package of sliced turkey (minimum 8oz) directly from the container, without plates or utensils, in one sitting."
	defaultMarketCreator     = "system"
	defaultMarketDuration    = 30 * 24 * time.Hour
)

// Engine mutates markets, pools and bets.
type Engine struct {
	records   *store.Records
	accounts  *account.Manager
	locker    lock.Locker
	seed      decimal.Decimal
	publisher Publisher
	now       func() time.Time
}

// NewEngine creates a market engine. Every new market's pools start at
// seed. Pass a nil publisher when no event stream is needed.
func NewEngine(records *store.Records, accounts *account.Manager, locker lock.Locker, seed decimal.Decimal, pub Publisher) (*Engine, error) {
	if err := parimutuel.ValidateSeed(seed); err != nil {
		return nil, err
	}
	return &Engine{
		records:   records,
		accounts:  accounts,
		locker:    locker,
		seed:      seed,
		publisher: pub,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// Seed returns the per-pool seed.
func (e *Engine) Seed() decimal.Decimal { return e.seed }

// --- Create ---

// CreateMarketInput is the caller-supplied part of a new market.
type CreateMarketInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	EndsAt      string `json:"endsAt"`
	CreatedBy   string `json:"createdBy"`
}

// CreateMarket validates the input and opens a market with seeded pools.
// End times in the past are accepted; resolution is manual.
func (e *Engine) CreateMarket(ctx context.Context, in CreateMarketInput) (*model.Market, error) {
	if err := model.RequireNonEmpty(
		"title", in.Title,
		"description", in.Description,
		"endsAt", in.EndsAt,
		"createdBy", in.CreatedBy,
	); err != nil {
		return nil, err
	}
	endsAt, err := model.ParseEndsAt(in.EndsAt)
	if err != nil {
		return nil, err
	}

	m := e.newMarket(uuid.New().String(), in.Title, in.Description, in.CreatedBy, endsAt)
	if err := e.insert(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// EnsureDefaultMarket creates the sample market when no market exists yet.
// It returns the created market, or nil when the ledger already had one.
func (e *Engine) EnsureDefaultMarket(ctx context.Context) (*model.Market, error) {
	ctx, release, err := lock.Hold(ctx, e.locker, store.MarketKey(DefaultMarketID))
	if err != nil {
		return nil, err
	}
	defer release()

	ids, err := e.records.MarketIDs(ctx)
	if err != nil {
		return nil, err
	}
	if len(ids) > 0 {
		return nil, nil
	}
	if _, err := e.records.Market(ctx, DefaultMarketID); err == nil {
		return nil, nil
	} else if !errors.Is(err, model.ErrNotFound) {
		return nil, err
	}

	now := e.now()
	m := e.newMarket(DefaultMarketID, defaultMarketTitle, defaultMarketDescription,
		defaultMarketCreator, now.Add(defaultMarketDuration))
	if err := e.insert(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (e *Engine) newMarket(id, title, description, createdBy string, endsAt time.Time) *model.Market {
	return &model.Market{
		ID:          id,
		Title:       title,
		Description: description,
		CreatedBy:   createdBy,
		CreatedAt:   e.now(),
		EndsAt:      endsAt,
		YesPool:     e.seed,
		NoPool:      e.seed,
	}
}

func (e *Engine) insert(ctx context.Context, m *model.Market) error {
	if err := e.records.PutMarket(ctx, m); err != nil {
		return err
	}
	if err := e.records.AddToSet(ctx, store.AllMarketsKey, m.ID); err != nil {
		var undo store.Undo
		undo.Push("market", func(ctx context.Context) error {
			return e.records.DeleteMarket(ctx, m.ID)
		})
		return e.rollback(ctx, "create_market", &undo, err)
	}

	metrics.MarketsCreated.Inc()
	slog.Info("market created",
		"market", m.ID,
		"title", m.Title,
		"created_by", m.CreatedBy,
		"ends_at", m.EndsAt,
		"seed", e.seed.String(),
	)
	e.publish(Event{Type: EventMarketCreated, MarketID: m.ID, Market: m, Odds: parimutuel.Odds(m.YesPool, m.NoPool)})
	return nil
}

// --- Bet ---

// PlaceBetInput identifies a stake. Position is "yes" or "no" in any case.
type PlaceBetInput struct {
	UserID   string          `json:"userId"`
	MarketID string          `json:"marketId"`
	Amount   decimal.Decimal `json:"amount"`
	Position string          `json:"position"`
}

// BetResult is the state after a successful stake.
type BetResult struct {
	Bet    *model.Bet    `json:"bet"`
	User   *model.User   `json:"user"`
	Market *model.Market `json:"market"`
}

// PlaceBet stakes amount from the user's balance into the chosen pool.
//
// Checks run in order: user and market exist, market is open, amount is
// positive and position valid, balance covers amount. The recorded odds
// are the YES share of the pools after this stake is added.
func (e *Engine) PlaceBet(ctx context.Context, in PlaceBetInput) (*BetResult, error) {
	start := time.Now()
	defer func() { metrics.BetLatency.Observe(time.Since(start).Seconds()) }()

	ctx, release, err := lock.Hold(ctx, e.locker, store.MarketKey(in.MarketID), store.UserKey(in.UserID))
	if err != nil {
		return nil, err
	}
	defer release()

	user, err := e.records.User(ctx, in.UserID)
	if err != nil {
		return nil, rejected("not_found", err)
	}
	market, err := e.records.Market(ctx, in.MarketID)
	if err != nil {
		return nil, rejected("not_found", err)
	}
	if market.Resolved {
		return nil, rejected("resolved", fmt.Errorf("market %s: %w", market.ID, model.ErrMarketResolved))
	}
	if err := model.RequirePositive(in.Amount); err != nil {
		return nil, rejected("invalid_amount", err)
	}
	position, err := model.ParsePosition(in.Position)
	if err != nil {
		return nil, rejected("invalid_position", err)
	}
	if in.Amount.GreaterThan(user.Balance) {
		return nil, rejected("insufficient_funds", fmt.Errorf("%w: user %s has %s, needs %s",
			model.ErrInsufficientFunds, user.ID, user.Balance, in.Amount))
	}

	// Writes start here.
	var undo store.Undo

	user, err = e.accounts.Debit(ctx, user.ID, in.Amount)
	if err != nil {
		return nil, err
	}
	undo.Push("debit", func(ctx context.Context) error {
		_, err := e.accounts.Credit(ctx, in.UserID, in.Amount)
		return err
	})

	before := *market
	market.YesPool, market.NoPool = parimutuel.Stake(market.YesPool, market.NoPool, in.Amount, position)
	odds := parimutuel.Odds(market.YesPool, market.NoPool)

	if err := e.records.PutMarket(ctx, market); err != nil {
		return nil, e.rollback(ctx, "place_bet", &undo, err)
	}
	undo.Push("pools", func(ctx context.Context) error { return e.records.PutMarket(ctx, &before) })

	bet := &model.Bet{
		ID:        uuid.New().String(),
		UserID:    user.ID,
		MarketID:  market.ID,
		Amount:    in.Amount,
		Position:  position,
		OddsAtBet: odds,
		CreatedAt: e.now(),
	}
	if err := e.records.PutBet(ctx, bet); err != nil {
		return nil, e.rollback(ctx, "place_bet", &undo, err)
	}
	undo.Push("bet", func(ctx context.Context) error { return e.records.DeleteBet(ctx, bet.ID) })

	if err := e.records.AddToSet(ctx, store.MarketBetsKey(market.ID), bet.ID); err != nil {
		return nil, e.rollback(ctx, "place_bet", &undo, err)
	}
	undo.Push("market index", func(ctx context.Context) error {
		return e.records.RemoveFromSet(ctx, store.MarketBetsKey(market.ID), bet.ID)
	})

	if err := e.records.AddToSet(ctx, store.UserBetsKey(user.ID), bet.ID); err != nil {
		return nil, e.rollback(ctx, "place_bet", &undo, err)
	}

	metrics.BetsTotal.WithLabelValues(string(position)).Inc()
	metrics.StakeVolume.WithLabelValues(string(position)).Add(in.Amount.InexactFloat64())

	slog.Info("bet placed",
		"bet", bet.ID,
		"market", market.ID,
		"user", user.ID,
		"position", position,
		"amount", in.Amount.String(),
		"odds", odds.String(),
		"yes_pool", market.YesPool.String(),
		"no_pool", market.NoPool.String(),
	)
	e.publish(Event{Type: EventBetPlaced, MarketID: market.ID, Market: market, Bet: bet, Odds: odds})

	return &BetResult{Bet: bet, User: user, Market: market}, nil
}

// --- Resolve ---

// ResolveMarket fixes the outcome and pays the winning side.
//
// Each winning stake receives amount / winningPool * totalPool, truncated
// to parimutuel.Scale places. Losing stakes receive nothing. When the
// winning pool is empty nobody is credited. Stakes by users that have
// since been deleted are skipped.
func (e *Engine) ResolveMarket(ctx context.Context, marketID string, outcome bool) (*model.Market, error) {
	ctx, release, err := lock.Hold(ctx, e.locker, store.MarketKey(marketID))
	if err != nil {
		return nil, err
	}
	defer release()

	market, err := e.records.Market(ctx, marketID)
	if err != nil {
		return nil, err
	}
	if market.Resolved {
		return nil, fmt.Errorf("market %s: %w", market.ID, model.ErrAlreadyResolved)
	}

	bets, err := e.records.MarketBets(ctx, market.ID)
	if err != nil {
		return nil, err
	}
	plan := parimutuel.Settle(market, bets, outcome)

	winners := make([]string, 0, len(plan.Credits))
	for _, c := range plan.Credits {
		winners = append(winners, store.UserKey(c.UserID))
	}
	ctx, releaseWinners, err := lock.Hold(ctx, e.locker, winners...)
	if err != nil {
		return nil, err
	}
	defer releaseWinners()

	// Writes start here.
	var undo store.Undo
	paid := decimal.Zero

	for _, c := range plan.Credits {
		_, err := e.accounts.Credit(ctx, c.UserID, c.Amount)
		if errors.Is(err, model.ErrNotFound) {
			slog.Warn("payout skipped, user deleted",
				"market", market.ID, "user", c.UserID, "amount", c.Amount.String())
			continue
		}
		if err != nil {
			return nil, e.rollback(ctx, "resolve_market", &undo, err)
		}
		undo.Push("credit "+c.UserID, func(ctx context.Context) error {
			_, err := e.accounts.Debit(ctx, c.UserID, c.Amount)
			return err
		})
		paid = paid.Add(c.Amount)
	}

	resolvedAt := e.now()
	market.Resolved = true
	market.Outcome = &outcome
	market.ResolvedAt = &resolvedAt

	if err := e.records.PutMarket(ctx, market); err != nil {
		return nil, e.rollback(ctx, "resolve_market", &undo, err)
	}

	metrics.MarketsResolved.WithLabelValues(string(plan.Winner)).Inc()
	metrics.PayoutVolume.Add(paid.InexactFloat64())

	slog.Info("market resolved",
		"market", market.ID,
		"outcome", plan.Winner,
		"total_pool", plan.TotalPool.String(),
		"winning_pool", plan.WinningPool.String(),
		"winning_bets", plan.WinningBets,
		"paid", paid.String(),
	)
	e.publish(Event{Type: EventMarketResolved, MarketID: market.ID, Market: market, Odds: parimutuel.Odds(market.YesPool, market.NoPool)})

	return market, nil
}

// --- helpers ---

func (e *Engine) rollback(ctx context.Context, op string, undo *store.Undo, cause error) error {
	metrics.Rollbacks.WithLabelValues(op).Inc()
	if err := undo.Run(ctx); err != nil {
		slog.Error("rollback incomplete", "op", op, "cause", cause, "err", err)
		return errors.Join(cause, err)
	}
	slog.Warn("rolled back", "op", op, "cause", cause)
	return cause
}

func (e *Engine) publish(ev Event) {
	if e.publisher != nil {
		e.publisher.Publish(ev)
	}
}

func rejected(reason string, err error) error {
	metrics.BetsRejected.WithLabelValues(reason).Inc()
	return err
}
