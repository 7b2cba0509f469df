package query

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/parimutuel/internal/model"
	"github.com/atmx/parimutuel/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var t0 = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

// seed writes records straight into the store, bypassing the engine.
type seed struct {
	t       *testing.T
	records *store.Records
}

func newSeed(t *testing.T) (*Service, *seed) {
	t.Helper()
	records := store.NewRecords(store.NewMemoryStore())
	return NewService(records), &seed{t: t, records: records}
}

func (s *seed) user(id, name string, balance float64) {
	s.t.Helper()
	ctx := context.Background()
	u := &model.User{ID: id, Name: name, Balance: d(balance), CreatedAt: t0}
	if err := s.records.PutUser(ctx, u); err != nil {
		s.t.Fatalf("put user: %v", err)
	}
	if err := s.records.AddToSet(ctx, store.AllUsersKey, id); err != nil {
		s.t.Fatalf("index user: %v", err)
	}
}

func (s *seed) market(id string, created time.Time, resolved bool) {
	s.t.Helper()
	ctx := context.Background()
	m := &model.Market{
		ID: id, Title: "market " + id, Description: "d", CreatedBy: "c",
		CreatedAt: created, EndsAt: created.Add(time.Hour),
		YesPool: d(5), NoPool: d(5), Resolved: resolved,
	}
	if resolved {
		yes := true
		m.Outcome = &yes
	}
	if err := s.records.PutMarket(ctx, m); err != nil {
		s.t.Fatalf("put market: %v", err)
	}
	if err := s.records.AddToSet(ctx, store.AllMarketsKey, id); err != nil {
		s.t.Fatalf("index market: %v", err)
	}
}

func (s *seed) bet(id, userID, marketID string, amount float64, pos model.Position, at time.Time) {
	s.t.Helper()
	ctx := context.Background()
	b := &model.Bet{
		ID: id, UserID: userID, MarketID: marketID, Amount: d(amount),
		Position: pos, OddsAtBet: d(0.5), CreatedAt: at,
	}
	if err := s.records.PutBet(ctx, b); err != nil {
		s.t.Fatalf("put bet: %v", err)
	}
	s.records.AddToSet(ctx, store.MarketBetsKey(marketID), id)
	s.records.AddToSet(ctx, store.UserBetsKey(userID), id)
}

func TestListMarkets_NewestFirst(t *testing.T) {
	svc, s := newSeed(t)
	s.market("old", t0, false)
	s.market("new", t0.Add(2*time.Hour), false)
	s.market("mid", t0.Add(time.Hour), true)

	markets, err := svc.ListMarkets(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{"new", "mid", "old"}
	if len(markets) != len(want) {
		t.Fatalf("expected %d markets, got %d", len(want), len(markets))
	}
	for i, id := range want {
		if markets[i].ID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, markets[i].ID)
		}
	}
}

func TestListMarkets_Empty(t *testing.T) {
	svc, _ := newSeed(t)
	markets, err := svc.ListMarkets(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(markets) != 0 {
		t.Errorf("expected none, got %d", len(markets))
	}
}

func TestGetMarket(t *testing.T) {
	svc, s := newSeed(t)
	s.market("m1", t0, false)

	m, err := svc.GetMarket(context.Background(), "m1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if m.Title != "market m1" {
		t.Errorf("unexpected title %q", m.Title)
	}
	if _, err := svc.GetMarket(context.Background(), "nope"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMarketBets_AnnotatedOldestFirst(t *testing.T) {
	svc, s := newSeed(t)
	s.user("u1", "Alice", 80)
	s.market("m1", t0, false)
	s.bet("b2", "u1", "m1", 5, model.No, t0.Add(2*time.Minute))
	s.bet("b1", "u1", "m1", 20, model.Yes, t0.Add(time.Minute))
	s.bet("b3", "ghost", "m1", 1, model.Yes, t0.Add(3*time.Minute))

	bets, err := svc.MarketBets(context.Background(), "m1")
	if err != nil {
		t.Fatalf("market bets: %v", err)
	}
	if len(bets) != 3 {
		t.Fatalf("expected 3 bets, got %d", len(bets))
	}
	wantIDs := []string{"b1", "b2", "b3"}
	wantNames := []string{"Alice", "Alice", UnknownUser}
	for i := range bets {
		if bets[i].ID != wantIDs[i] || bets[i].UserName != wantNames[i] {
			t.Errorf("position %d: expected %s/%s, got %s/%s",
				i, wantIDs[i], wantNames[i], bets[i].ID, bets[i].UserName)
		}
	}
}

func TestMarketBets_NoBets(t *testing.T) {
	svc, s := newSeed(t)
	s.market("m1", t0, false)

	bets, err := svc.MarketBets(context.Background(), "m1")
	if err != nil {
		t.Fatalf("market bets: %v", err)
	}
	if bets == nil || len(bets) != 0 {
		t.Errorf("expected empty non-nil list, got %v", bets)
	}
}

func TestLeaderboard(t *testing.T) {
	svc, s := newSeed(t)
	s.user("u1", "carol", 90)
	s.user("u2", "alice", 140.5)
	s.user("u3", "Bob", 90)

	board, err := svc.Leaderboard(context.Background())
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	want := []string{"u2", "u3", "u1"}
	for i, id := range want {
		if board[i].ID != id || board[i].Rank != i+1 {
			t.Errorf("rank %d: expected %s, got %s (rank %d)", i+1, id, board[i].ID, board[i].Rank)
		}
	}
}

func TestUserBets_NewestFirst(t *testing.T) {
	svc, s := newSeed(t)
	s.user("u1", "alice", 100)
	s.market("m1", t0, false)
	s.market("m2", t0, false)
	s.bet("b1", "u1", "m1", 1, model.Yes, t0.Add(time.Minute))
	s.bet("b2", "u1", "m2", 2, model.No, t0.Add(2*time.Minute))

	bets, err := svc.UserBets(context.Background(), "u1")
	if err != nil {
		t.Fatalf("user bets: %v", err)
	}
	if len(bets) != 2 || bets[0].ID != "b2" || bets[1].ID != "b1" {
		t.Errorf("expected [b2 b1], got %v", bets)
	}

	if _, err := svc.UserBets(context.Background(), "ghost"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPortfolio(t *testing.T) {
	svc, s := newSeed(t)
	s.user("u1", "alice", 60)
	s.market("open", t0, false)
	s.market("done", t0, true)
	s.bet("b1", "u1", "open", 10, model.Yes, t0.Add(1*time.Minute))
	s.bet("b2", "u1", "open", 5, model.No, t0.Add(2*time.Minute))
	s.bet("b3", "u1", "done", 15, model.Yes, t0.Add(3*time.Minute))
	s.bet("b4", "u1", "open", 10, model.Yes, t0.Add(4*time.Minute))

	p, err := svc.Portfolio(context.Background(), "u1")
	if err != nil {
		t.Fatalf("portfolio: %v", err)
	}
	if !p.Balance.Equal(d(60)) {
		t.Errorf("expected balance 60, got %s", p.Balance)
	}
	if len(p.Positions) != 2 {
		t.Fatalf("expected 2 positions, got %d", len(p.Positions))
	}

	open := p.Positions[0]
	if open.MarketID != "open" || !open.YesStake.Equal(d(20)) || !open.NoStake.Equal(d(5)) {
		t.Errorf("unexpected open position: %+v", open)
	}
	if open.MarketTitle != "market open" || open.Resolved {
		t.Errorf("open position missing market details: %+v", open)
	}

	done := p.Positions[1]
	if !done.Resolved || done.Outcome == nil || !*done.Outcome {
		t.Errorf("expected resolved position with outcome, got %+v", done)
	}

	// Only open-market stake is still at risk.
	if !p.TotalStake.Equal(d(25)) {
		t.Errorf("expected total stake 25, got %s", p.TotalStake)
	}
}

func TestPortfolio_UnknownUser(t *testing.T) {
	svc, _ := newSeed(t)
	if _, err := svc.Portfolio(context.Background(), "ghost"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
