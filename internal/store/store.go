// Package store defines the ledger persistence contract for the market engine.
// Implementations include in-memory (testing), a local JSON file, Redis,
// PostgreSQL, and a Redis read-through cache in front of PostgreSQL.
//
// The contract is a plain key-value map plus id sets. Nothing here is
// transactional across keys: per-entity serialization is the engine's job.
package store

import (
	"context"
)

// Store is the ledger persistence interface. Values are JSON documents.
type Store interface {
	// Get returns the value for key. found is false when the key is absent.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)

	// Set writes value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Exists reports whether key has a value.
	Exists(ctx context.Context, key string) (bool, error)

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// --- Id sets ---

	// AddToSet adds member to the set at setKey.
	AddToSet(ctx context.Context, setKey, member string) error

	// RemoveFromSet removes member from the set at setKey.
	RemoveFromSet(ctx context.Context, setKey, member string) error

	// Members returns every member of the set at setKey, in no particular order.
	Members(ctx context.Context, setKey string) ([]string, error)
}

// Key schema.
const (
	AllUsersKey   = "users:all"
	AllMarketsKey = "markets:all"
)

func UserKey(id string) string         { return "users:" + id }
func UserNameKey(nameKey string) string { return "users:byName:" + nameKey }
func MarketKey(id string) string       { return "markets:" + id }
func BetKey(id string) string          { return "bets:" + id }
func MarketBetsKey(id string) string   { return "bets:market:" + id }
func UserBetsKey(id string) string     { return "bets:user:" + id }
