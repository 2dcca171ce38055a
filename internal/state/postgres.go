package state

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchemaSQL = `
CREATE TABLE IF NOT EXISTS collections (
  name TEXT PRIMARY KEY,
  body TEXT NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresBackend keeps collections in a Postgres table so several hosts can
// share one data set (one writer at a time).
type PostgresBackend struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to url and ensures the collections table exists.
func OpenPostgres(ctx context.Context, url string) (*PostgresBackend, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate postgres: %w", err)
	}
	return &PostgresBackend{pool: pool}, nil
}

func NewPostgresBackend(pool *pgxpool.Pool) *PostgresBackend {
	return &PostgresBackend{pool: pool}
}

func (b *PostgresBackend) Load(ctx context.Context, name string) ([]byte, error) {
	var body string
	err := b.pool.QueryRow(ctx, `SELECT body FROM collections WHERE name = $1`, name).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load collection %s: %w", name, err)
	}
	return []byte(body), nil
}

func (b *PostgresBackend) Replace(ctx context.Context, name string, data []byte) error {
	_, err := b.pool.Exec(ctx, `
		INSERT INTO collections (name, body, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE SET body = EXCLUDED.body, updated_at = EXCLUDED.updated_at
	`, name, string(data))
	if err != nil {
		return fmt.Errorf("replace collection %s: %w", name, err)
	}
	return nil
}

func (b *PostgresBackend) Close() {
	b.pool.Close()
}
