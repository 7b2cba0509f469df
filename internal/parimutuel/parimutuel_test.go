package parimutuel

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/atmx/parimutuel/internal/model"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func market(yes, no float64) *model.Market {
	return &model.Market{ID: "m1", YesPool: d(yes), NoPool: d(no)}
}

func bet(user string, amount float64, side model.Position) model.Bet {
	return model.Bet{UserID: user, MarketID: "m1", Amount: d(amount), Position: side}
}

// --- Seed ---

func TestValidateSeed(t *testing.T) {
	if err := ValidateSeed(d(5)); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	for _, s := range []float64{0, -1} {
		if err := ValidateSeed(d(s)); err != ErrInvalidSeed {
			t.Errorf("expected ErrInvalidSeed for %v, got %v", s, err)
		}
	}
}

// --- Odds ---

func TestOdds_SeededPoolsFiftyFifty(t *testing.T) {
	if got := Odds(d(5), d(5)); !got.Equal(d(0.5)) {
		t.Errorf("expected 0.5, got %s", got)
	}
}

func TestOdds_EmptyPools(t *testing.T) {
	if got := Odds(decimal.Zero, decimal.Zero); !got.Equal(d(0.5)) {
		t.Errorf("expected 0.5 for empty pools, got %s", got)
	}
}

func TestOdds_AfterYesStake(t *testing.T) {
	yes, no := Stake(d(5), d(5), d(20), model.Yes)
	if !yes.Equal(d(25)) || !no.Equal(d(5)) {
		t.Fatalf("expected pools 25/5, got %s/%s", yes, no)
	}
	got := Odds(yes, no)
	if !got.Equal(d(0.83333333)) {
		t.Errorf("expected 25/30 = 0.83333333, got %s", got)
	}
}

func TestOdds_StrictlyBetweenZeroAndOne(t *testing.T) {
	pools := [][2]float64{{5, 5}, {5, 1000}, {1000, 5}, {0.01, 99999}}
	for _, p := range pools {
		o := Odds(d(p[0]), d(p[1]))
		if !o.IsPositive() || o.GreaterThanOrEqual(decimal.NewFromInt(1)) {
			t.Errorf("odds for %v out of (0,1): %s", p, o)
		}
	}
}

func TestStake_NoSide(t *testing.T) {
	yes, no := Stake(d(25), d(5), d(10), model.No)
	if !yes.Equal(d(25)) || !no.Equal(d(15)) {
		t.Errorf("expected 25/15, got %s/%s", yes, no)
	}
}

// --- Payout ---

func TestPayout_Proportional(t *testing.T) {
	got := Payout(d(20), d(25), d(40))
	if !got.Equal(d(32)) {
		t.Errorf("expected 20/25*40 = 32, got %s", got)
	}
}

func TestPayout_ZeroWinningPool(t *testing.T) {
	if got := Payout(d(20), decimal.Zero, d(40)); !got.IsZero() {
		t.Errorf("expected 0 for empty winning pool, got %s", got)
	}
}

func TestPayout_TruncatesNeverRoundsUp(t *testing.T) {
	// 1 * 10 / 3 = 3.333...
	got := Payout(d(1), d(3), d(10))
	if !got.Equal(d(3.33333333)) {
		t.Errorf("expected 3.33333333, got %s", got)
	}
}

// --- Settle ---

func TestSettle_YesWins(t *testing.T) {
	m := market(25, 15)
	bets := []model.Bet{
		bet("alice", 20, model.Yes),
		bet("bob", 10, model.No),
	}

	s := Settle(m, bets, true)

	if s.Winner != model.Yes {
		t.Errorf("expected winner yes, got %s", s.Winner)
	}
	if !s.TotalPool.Equal(d(40)) || !s.WinningPool.Equal(d(25)) {
		t.Errorf("expected total=40 winning=25, got %s/%s", s.TotalPool, s.WinningPool)
	}
	if len(s.Credits) != 1 {
		t.Fatalf("expected 1 credit, got %d", len(s.Credits))
	}
	if s.Credits[0].UserID != "alice" || !s.Credits[0].Amount.Equal(d(32)) {
		t.Errorf("expected alice +32, got %+v", s.Credits[0])
	}
	if !s.Paid.Equal(d(32)) {
		t.Errorf("expected paid 32, got %s", s.Paid)
	}
}

func TestSettle_NoWins(t *testing.T) {
	m := market(25, 15)
	bets := []model.Bet{
		bet("alice", 20, model.Yes),
		bet("bob", 10, model.No),
	}

	s := Settle(m, bets, false)

	// bob: 10 / 15 * 40 = 26.666...
	if len(s.Credits) != 1 || s.Credits[0].UserID != "bob" {
		t.Fatalf("expected single credit to bob, got %+v", s.Credits)
	}
	if !s.Credits[0].Amount.Equal(d(26.66666666)) {
		t.Errorf("expected 26.66666666, got %s", s.Credits[0].Amount)
	}
}

func TestSettle_AggregatesPerUser(t *testing.T) {
	m := market(35, 5)
	bets := []model.Bet{
		bet("alice", 10, model.Yes),
		bet("carol", 10, model.Yes),
		bet("alice", 10, model.Yes),
	}

	s := Settle(m, bets, true)

	if s.WinningBets != 3 {
		t.Errorf("expected 3 winning bets, got %d", s.WinningBets)
	}
	if len(s.Credits) != 2 {
		t.Fatalf("expected 2 credits, got %d", len(s.Credits))
	}
	// alice holds two of the three equal stakes.
	if s.Credits[0].UserID != "alice" || s.Credits[1].UserID != "carol" {
		t.Errorf("credits out of first-seen order: %+v", s.Credits)
	}
	if s.Credits[0].Amount.LessThanOrEqual(s.Credits[1].Amount) {
		t.Errorf("alice should receive more than carol: %+v", s.Credits)
	}
}

func TestSettle_PaidNeverExceedsTotal(t *testing.T) {
	m := market(5+3+7+11, 5+13)
	bets := []model.Bet{
		bet("a", 3, model.Yes),
		bet("b", 7, model.Yes),
		bet("c", 11, model.Yes),
		bet("d", 13, model.No),
	}

	s := Settle(m, bets, true)

	if s.Paid.GreaterThan(s.TotalPool) {
		t.Errorf("paid %s exceeds total pool %s", s.Paid, s.TotalPool)
	}
	// Everything except the seed's share is distributed.
	seedShare := Payout(d(5), s.WinningPool, s.TotalPool)
	residual := s.TotalPool.Sub(s.Paid).Sub(seedShare).Abs()
	if residual.GreaterThan(d(0.0000001)) {
		t.Errorf("undistributed amount beyond seed share: %s", residual)
	}
}

func TestSettle_ZeroWinningPoolSkipsCredits(t *testing.T) {
	m := market(0, 20)
	bets := []model.Bet{bet("bob", 20, model.No)}

	s := Settle(m, bets, true)

	if len(s.Credits) != 0 || !s.Paid.IsZero() {
		t.Errorf("expected no credits for empty winning pool, got %+v", s)
	}
}

func TestSettle_IgnoresOtherMarkets(t *testing.T) {
	m := market(25, 5)
	other := bet("alice", 20, model.Yes)
	other.MarketID = "m2"

	s := Settle(m, []model.Bet{other}, true)

	if len(s.Credits) != 0 {
		t.Errorf("bets from other markets must be ignored, got %+v", s.Credits)
	}
}
