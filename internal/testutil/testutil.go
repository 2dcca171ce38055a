package testutil

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/flitsinc/go-backlog/internal/state"
)

func OpenTestDB(t *testing.T) (*sql.DB, func()) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")
	db, err := state.Open(path)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	return db, func() {
		_ = db.Close()
	}
}

// OpenTestStore returns a Store backed by a fresh sqlite database along with
// the database itself.
func OpenTestStore(t *testing.T) (*state.Store, *sql.DB) {
	t.Helper()
	db, closeFn := OpenTestDB(t)
	t.Cleanup(closeFn)
	return state.NewStore(state.NewSQLiteBackend(db), nil), db
}
