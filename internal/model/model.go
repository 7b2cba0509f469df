// Package model defines the core domain types shared across the market engine.
// All monetary values use shopspring/decimal, never float64.
package model

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Position is the side of a binary market a stake is placed on.
type Position string

const (
	Yes Position = "yes"
	No  Position = "no"
)

// User is a participant identified by a unique display name.
// Balance is only ever mutated by the account manager.
type User struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Market is a binary claim with two parimutuel pools.
// Outcome is nil until the market resolves and immutable afterwards.
type Market struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	CreatedBy   string          `json:"createdBy"`
	CreatedAt   time.Time       `json:"createdAt"`
	EndsAt      time.Time       `json:"endsAt"`
	Resolved    bool            `json:"resolved"`
	Outcome     *bool           `json:"outcome"`
	ResolvedAt  *time.Time      `json:"resolvedAt,omitempty"`
	YesPool     decimal.Decimal `json:"yesPool"`
	NoPool      decimal.Decimal `json:"noPool"`
}

// TotalPool is yesPool + noPool.
func (m *Market) TotalPool() decimal.Decimal {
	return m.YesPool.Add(m.NoPool)
}

// Pool returns the pool backing the given position.
func (m *Market) Pool(p Position) decimal.Decimal {
	if p == Yes {
		return m.YesPool
	}
	return m.NoPool
}

// Bet is an immutable record of a single stake.
// OddsAtBet is the YES probability immediately after this stake was added.
type Bet struct {
	ID        string          `json:"id"`
	UserID    string          `json:"userId"`
	MarketID  string          `json:"marketId"`
	Amount    decimal.Decimal `json:"amount"`
	Position  Position        `json:"position"`
	OddsAtBet decimal.Decimal `json:"oddsAtBet"`
	CreatedAt time.Time       `json:"createdAt"`
}

// MarketPosition aggregates one user's stakes in one market.
type MarketPosition struct {
	MarketID    string          `json:"marketId"`
	MarketTitle string          `json:"marketTitle"`
	YesStake    decimal.Decimal `json:"yesStake"`
	NoStake     decimal.Decimal `json:"noStake"`
	Resolved    bool            `json:"resolved"`
	Outcome     *bool           `json:"outcome"`
}

// Portfolio is a user's balance plus every market they hold stakes in.
type Portfolio struct {
	UserID     string           `json:"userId"`
	Balance    decimal.Decimal  `json:"balance"`
	Positions  []MarketPosition `json:"positions"`
	TotalStake decimal.Decimal  `json:"totalStake"` // stake still locked in open markets
}

// SortByBalance orders users richest first, breaking ties by name.
func SortByBalance(users []User) {
	sort.SliceStable(users, func(i, j int) bool {
		if c := users[i].Balance.Cmp(users[j].Balance); c != 0 {
			return c > 0
		}
		return NameKey(users[i].Name) < NameKey(users[j].Name)
	})
}
