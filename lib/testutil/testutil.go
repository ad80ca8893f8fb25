package testutil

import (
	"database/sql"
	"iptu-backend/internal/db"
	"testing"

	_ "modernc.org/sqlite"
)

// OpenDB opens an in-memory sqlite database with the store schema applied.
//
// The pool is pinned to a single connection, every connection to `:memory:`
// would otherwise see its own empty database.
func OpenDB(t testing.TB) *sql.DB {
	t.Helper()

	sqlite, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	sqlite.SetMaxOpenConns(1)
	_, err = sqlite.Exec(db.Schema)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		sqlite.Close()
	})
	return sqlite
}
