package market

import (
	"github.com/shopspring/decimal"

	"github.com/atmx/parimutuel/internal/model"
)

// Event types.
const (
	EventMarketCreated  = "market_created"
	EventBetPlaced      = "bet_placed"
	EventMarketResolved = "market_resolved"
)

// Event describes a committed state change. Market is the state after the
// change; Bet is set for bet_placed only.
type Event struct {
	Type     string          `json:"type"`
	MarketID string          `json:"marketId"`
	Market   *model.Market   `json:"market,omitempty"`
	Bet      *model.Bet      `json:"bet,omitempty"`
	Odds     decimal.Decimal `json:"odds"`
}

// Publisher receives events once the change is persisted. Publish is
// called with the entity locks still held and must not block.
type Publisher interface {
	Publish(Event)
}
