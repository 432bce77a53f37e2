// Package postgres persists the token journal and account snapshots in
// PostgreSQL via pgx, with goose-managed migrations.
package postgres

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/aeternacy/aeterngw/pkg/store"
	"github.com/aeternacy/aeterngw/pkg/tokens"
)

//go:embed migrations/*.sql
var migrations embed.FS

type Store struct {
	pool *pgxpool.Pool
}

// Open connects, runs pending migrations, and returns the store.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := migrate(pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func migrate(pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Append(ctx context.Context, tx store.Transaction) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO token_journal (id, account, kind, feature, amount, at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		tx.ID, tx.Account, string(tx.Kind), tx.Feature, tx.Amount, tx.At,
	)
	if err != nil {
		return fmt.Errorf("append journal: %w", err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, account string, limit int) ([]store.Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, account, kind, feature, amount, at
		 FROM token_journal WHERE account = $1
		 ORDER BY at DESC, id DESC LIMIT $2`,
		account, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list journal: %w", err)
	}
	defer rows.Close()

	var out []store.Transaction
	for rows.Next() {
		var tx store.Transaction
		var kind string
		if err := rows.Scan(&tx.ID, &tx.Account, &kind, &tx.Feature, &tx.Amount, &tx.At); err != nil {
			return nil, fmt.Errorf("scan journal row: %w", err)
		}
		tx.Kind = store.TxKind(kind)
		out = append(out, tx)
	}
	return out, rows.Err()
}

func (s *Store) Load(ctx context.Context, account string) (tokens.State, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT state FROM token_accounts WHERE account = $1`, account,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return tokens.State{}, store.ErrNotFound
	}
	if err != nil {
		return tokens.State{}, fmt.Errorf("load account: %w", err)
	}
	var state tokens.State
	if err := json.Unmarshal(raw, &state); err != nil {
		return tokens.State{}, fmt.Errorf("decode account state: %w", err)
	}
	return state, nil
}

func (s *Store) Save(ctx context.Context, account string, state tokens.State) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode account state: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO token_accounts (account, state, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (account) DO UPDATE SET state = $2, updated_at = now()`,
		account, raw,
	)
	if err != nil {
		return fmt.Errorf("save account: %w", err)
	}
	return nil
}
