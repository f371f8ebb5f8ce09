package database

import (
	"context"
	"embed"
	"fmt"
	"sync"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*/*.sql
var migrations embed.FS

// MigrationSets lists the schema sets shipped with the binary.
var MigrationSets = []string{"source", "target"}

var gooseMu sync.Mutex

// Migrate applies the embedded schema set to the store.
func Migrate(ctx context.Context, db *DB, set string) error {
	if db == nil {
		return fmt.Errorf("database: nil db")
	}
	if !knownSet(set) {
		return fmt.Errorf("database: unknown migration set %q", set)
	}
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations)
	goose.SetTableName("goose_" + set + "_version")
	defer func() {
		goose.SetBaseFS(nil)
		goose.SetTableName("goose_db_version")
	}()
	if err := goose.SetDialect(db.Dialect.GooseDialect()); err != nil {
		return fmt.Errorf("database: goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db.DB, "migrations/"+set); err != nil {
		return fmt.Errorf("database: migrate %s: %w", set, err)
	}
	return nil
}

// QuietMigrations silences goose progress output.
func QuietMigrations() {
	goose.SetLogger(goose.NopLogger())
}

func knownSet(set string) bool {
	for _, s := range MigrationSets {
		if s == set {
			return true
		}
	}
	return false
}
