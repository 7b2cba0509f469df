// Package query serves read-only projections of the ledger: market lists,
// annotated bet histories, the leaderboard and per-user portfolios.
// Nothing here writes to the store.
package query

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/atmx/parimutuel/internal/model"
	"github.com/atmx/parimutuel/internal/store"
)

// UnknownUser is shown for bets whose user no longer exists.
const UnknownUser = "Unknown"

// Service answers read queries.
type Service struct {
	records *store.Records
}

// NewService creates a query service.
func NewService(records *store.Records) *Service {
	return &Service{records: records}
}

// AnnotatedBet is a bet with its bettor's display name.
type AnnotatedBet struct {
	model.Bet
	UserName string `json:"userName"`
}

// LeaderboardEntry is one ranked user.
type LeaderboardEntry struct {
	Rank int `json:"rank"`
	model.User
}

// ListMarkets returns every market, newest first.
func (s *Service) ListMarkets(ctx context.Context) ([]model.Market, error) {
	markets, err := s.records.Markets(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(markets, func(i, j int) bool {
		if !markets[i].CreatedAt.Equal(markets[j].CreatedAt) {
			return markets[i].CreatedAt.After(markets[j].CreatedAt)
		}
		return markets[i].ID < markets[j].ID
	})
	return markets, nil
}

// GetMarket returns one market.
func (s *Service) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	return s.records.Market(ctx, id)
}

// MarketBets returns the bets on a market, oldest first, each with the
// bettor's name. A market without bets yields an empty list.
func (s *Service) MarketBets(ctx context.Context, marketID string) ([]AnnotatedBet, error) {
	var (
		bets  []model.Bet
		users []model.User
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		bets, err = s.records.MarketBets(gctx, marketID)
		return err
	})
	g.Go(func() (err error) {
		users, err = s.records.Users(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	names := make(map[string]string, len(users))
	for _, u := range users {
		names[u.ID] = u.Name
	}

	sortBets(bets, false)
	out := make([]AnnotatedBet, 0, len(bets))
	for _, b := range bets {
		name, ok := names[b.UserID]
		if !ok {
			name = UnknownUser
		}
		out = append(out, AnnotatedBet{Bet: b, UserName: name})
	}
	return out, nil
}

// Leaderboard ranks every user by balance, richest first.
func (s *Service) Leaderboard(ctx context.Context) ([]LeaderboardEntry, error) {
	users, err := s.records.Users(ctx)
	if err != nil {
		return nil, err
	}
	model.SortByBalance(users)

	out := make([]LeaderboardEntry, len(users))
	for i, u := range users {
		out[i] = LeaderboardEntry{Rank: i + 1, User: u}
	}
	return out, nil
}

// UserBets returns a user's bets, newest first.
func (s *Service) UserBets(ctx context.Context, userID string) ([]model.Bet, error) {
	var bets []model.Bet
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := s.records.User(gctx, userID)
		return err
	})
	g.Go(func() (err error) {
		bets, err = s.records.UserBets(gctx, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sortBets(bets, true)
	return bets, nil
}

// Portfolio aggregates a user's stakes per market. TotalStake counts only
// markets that are still open.
func (s *Service) Portfolio(ctx context.Context, userID string) (*model.Portfolio, error) {
	var (
		user    *model.User
		bets    []model.Bet
		markets []model.Market
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		user, err = s.records.User(gctx, userID)
		return err
	})
	g.Go(func() (err error) {
		bets, err = s.records.UserBets(gctx, userID)
		return err
	})
	g.Go(func() (err error) {
		markets, err = s.records.Markets(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byID := make(map[string]*model.Market, len(markets))
	for i := range markets {
		byID[markets[i].ID] = &markets[i]
	}

	sortBets(bets, false)
	p := &model.Portfolio{
		UserID:     user.ID,
		Balance:    user.Balance,
		Positions:  []model.MarketPosition{},
		TotalStake: decimal.Zero,
	}
	index := make(map[string]int)
	for _, b := range bets {
		i, ok := index[b.MarketID]
		if !ok {
			pos := model.MarketPosition{
				MarketID: b.MarketID,
				YesStake: decimal.Zero,
				NoStake:  decimal.Zero,
			}
			if m, found := byID[b.MarketID]; found {
				pos.MarketTitle = m.Title
				pos.Resolved = m.Resolved
				pos.Outcome = m.Outcome
			}
			i = len(p.Positions)
			index[b.MarketID] = i
			p.Positions = append(p.Positions, pos)
		}

		pos := &p.Positions[i]
		if b.Position == model.Yes {
			pos.YesStake = pos.YesStake.Add(b.Amount)
		} else {
			pos.NoStake = pos.NoStake.Add(b.Amount)
		}
		if !pos.Resolved {
			p.TotalStake = p.TotalStake.Add(b.Amount)
		}
	}
	return p, nil
}

func sortBets(bets []model.Bet, newestFirst bool) {
	sort.SliceStable(bets, func(i, j int) bool {
		a, b := bets[i], bets[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			if newestFirst {
				return a.CreatedAt.After(b.CreatedAt)
			}
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}
