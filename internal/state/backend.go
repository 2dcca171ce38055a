package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Collection names.
const (
	CollectionActivities = "activities"
	CollectionBoards     = "boards"
)

// Backend stores whole collections. Load returns nil data and no error when
// the collection has never been written. Replace swaps the collection
// atomically.
type Backend interface {
	Load(ctx context.Context, name string) ([]byte, error)
	Replace(ctx context.Context, name string, data []byte) error
}

// SQLiteBackend keeps collections in the collections table of a database
// opened with Open.
type SQLiteBackend struct {
	db *sql.DB
}

func NewSQLiteBackend(db *sql.DB) *SQLiteBackend {
	return &SQLiteBackend{db: db}
}

func (b *SQLiteBackend) Load(ctx context.Context, name string) ([]byte, error) {
	var body string
	err := b.db.QueryRowContext(ctx, `SELECT body FROM collections WHERE name = ?`, name).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load collection %s: %w", name, err)
	}
	return []byte(body), nil
}

func (b *SQLiteBackend) Replace(ctx context.Context, name string, data []byte) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO collections (name, body, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at
	`, name, string(data), nowString())
	if err != nil {
		return fmt.Errorf("replace collection %s: %w", name, err)
	}
	return nil
}
