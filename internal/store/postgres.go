package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the DDL for the PostgreSQL ledger tables.
const Schema = `
CREATE TABLE IF NOT EXISTS ledger_kv (
	key        TEXT PRIMARY KEY,
	value      JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS ledger_sets (
	set_key TEXT NOT NULL,
	member  TEXT NOT NULL,
	PRIMARY KEY (set_key, member)
);`

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Values are kept as JSONB so ledger documents stay queryable.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the ledger tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrate ledger schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.pool.QueryRow(ctx,
		`SELECT value::TEXT FROM ledger_kv WHERE key = $1`, key).
		Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", key, err)
	}
	return value, true, nil
}

func (s *PostgresStore) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ledger_kv (key, value, updated_at)
		 VALUES ($1, $2::JSONB, now())
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		key, string(value),
	)
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) Exists(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM ledger_kv WHERE key = $1)`, key).
		Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", key, err)
	}
	return exists, nil
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM ledger_kv WHERE key = $1`, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) AddToSet(ctx context.Context, setKey, member string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ledger_sets (set_key, member) VALUES ($1, $2)
		 ON CONFLICT DO NOTHING`,
		setKey, member,
	)
	if err != nil {
		return fmt.Errorf("add %s to %s: %w", member, setKey, err)
	}
	return nil
}

func (s *PostgresStore) RemoveFromSet(ctx context.Context, setKey, member string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM ledger_sets WHERE set_key = $1 AND member = $2`,
		setKey, member,
	)
	if err != nil {
		return fmt.Errorf("remove %s from %s: %w", member, setKey, err)
	}
	return nil
}

func (s *PostgresStore) Members(ctx context.Context, setKey string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT member FROM ledger_sets WHERE set_key = $1`, setKey)
	if err != nil {
		return nil, fmt.Errorf("members of %s: %w", setKey, err)
	}
	defer rows.Close()

	members, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("members of %s: %w", setKey, err)
	}
	return members, nil
}
