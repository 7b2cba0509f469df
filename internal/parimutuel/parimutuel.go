// Package parimutuel implements pool pricing and proportional settlement
// for binary yes/no markets.
//
// Every stake is added to the pool of the side it backs. The implied YES
// probability is the YES share of the total pool. At resolution the whole
// pool (both sides) is split among the winning stakes in proportion to
// their contribution to the winning pool:
//
//	payout = amount / winningPool * totalPool
//
// Both pools start from a small seed, so winningPool is never zero in
// practice and the seed's share of the payout stays with the market.
//
// All monetary values use shopspring/decimal, never float64.
package parimutuel

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/atmx/parimutuel/internal/model"
)

var (
	// ErrInvalidSeed is returned when the pool seed is not positive.
	ErrInvalidSeed = errors.New("parimutuel: pool seed must be positive")

	// Scale is the number of decimal places for odds and payouts.
	Scale int32 = 8

	half = decimal.NewFromFloat(0.5)
)

// ValidateSeed checks that a pool seed can back a market.
func ValidateSeed(seed decimal.Decimal) error {
	if !seed.IsPositive() {
		return ErrInvalidSeed
	}
	return nil
}

// Odds returns the implied YES probability yesPool / (yesPool + noPool).
// Empty pools price at 0.5.
func Odds(yesPool, noPool decimal.Decimal) decimal.Decimal {
	total := yesPool.Add(noPool)
	if !total.IsPositive() {
		return half
	}
	return yesPool.DivRound(total, Scale)
}

// Stake returns the pools after adding amount to the given side.
func Stake(yesPool, noPool, amount decimal.Decimal, side model.Position) (decimal.Decimal, decimal.Decimal) {
	if side == model.Yes {
		return yesPool.Add(amount), noPool
	}
	return yesPool, noPool.Add(amount)
}

// Payout computes one winning stake's share of the total pool.
// Multiplication happens before division to keep the result exact where
// possible; the result is truncated so payouts never exceed the pool.
// A non-positive winning pool pays nothing.
func Payout(amount, winningPool, totalPool decimal.Decimal) decimal.Decimal {
	if !winningPool.IsPositive() {
		return decimal.Zero
	}
	return amount.Mul(totalPool).Div(winningPool).Truncate(Scale)
}

// Credit is an amount owed to one bettor.
type Credit struct {
	UserID string          `json:"userId"`
	Amount decimal.Decimal `json:"amount"`
}

// Settlement is the frozen result of resolving a market.
type Settlement struct {
	Winner      model.Position  `json:"winner"`
	TotalPool   decimal.Decimal `json:"totalPool"`
	WinningPool decimal.Decimal `json:"winningPool"`
	WinningBets int             `json:"winningBets"`
	// Credits are aggregated per user, in first-seen bet order.
	Credits []Credit        `json:"credits"`
	Paid    decimal.Decimal `json:"paid"`
}

// Settle plans the payouts for a market resolving to outcome.
// Losing stakes receive nothing. Bets from other markets are ignored.
func Settle(market *model.Market, bets []model.Bet, outcome bool) Settlement {
	winner := model.No
	if outcome {
		winner = model.Yes
	}

	s := Settlement{
		Winner:      winner,
		TotalPool:   market.TotalPool(),
		WinningPool: market.Pool(winner),
		Paid:        decimal.Zero,
	}

	if !s.WinningPool.IsPositive() {
		return s
	}

	index := make(map[string]int)
	for _, b := range bets {
		if b.MarketID != market.ID || b.Position != winner {
			continue
		}
		s.WinningBets++

		amt := Payout(b.Amount, s.WinningPool, s.TotalPool)
		if amt.IsZero() {
			continue
		}
		i, ok := index[b.UserID]
		if !ok {
			i = len(s.Credits)
			index[b.UserID] = i
			s.Credits = append(s.Credits, Credit{UserID: b.UserID, Amount: decimal.Zero})
		}
		s.Credits[i].Amount = s.Credits[i].Amount.Add(amt)
		s.Paid = s.Paid.Add(amt)
	}
	return s
}
