// Package dbtest provides file-backed sqlite stores for tests.
package dbtest

import (
	"context"
	"path/filepath"
	"testing"

	"es-schedule/internal/platform/database"
)

// DSN creates a fresh sqlite file in the test's temp dir, applies the named
// migration sets and returns its connection string.
func DSN(t testing.TB, sets ...string) string {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "store.db") + "?_time_format=sqlite&_pragma=busy_timeout(5000)"
	db := connect(t, dsn)
	for _, set := range sets {
		if err := database.Migrate(context.Background(), db, set); err != nil {
			t.Fatalf("migrate %s: %v", set, err)
		}
	}
	return dsn
}

// Open creates a fresh sqlite store with the named migration sets applied.
func Open(t testing.TB, sets ...string) *database.DB {
	t.Helper()
	return connect(t, DSN(t, sets...))
}

// Connect opens another pool on an existing sqlite DSN.
func Connect(t testing.TB, dsn string) *database.DB {
	t.Helper()
	return connect(t, dsn)
}

func connect(t testing.TB, dsn string) *database.DB {
	t.Helper()
	database.QuietMigrations()
	db, err := database.Open(context.Background(), database.Options{
		Driver:       "sqlite",
		DSN:          dsn,
		MaxOpenConns: 1,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// Exec runs a statement and fails the test on error.
func Exec(t testing.TB, db *database.DB, query string, args ...any) {
	t.Helper()
	if _, err := db.ExecContext(context.Background(), db.Rebind(query), args...); err != nil {
		t.Fatalf("exec %q: %v", query, err)
	}
}
