// Package database opens the relational stores the jobs run against and
// hides the few places where their SQL dialects disagree.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Options describes how to reach one store.
type Options struct {
	Driver       string
	DSN          string
	Schema       string
	MaxOpenConns int
	// Location is the zone zoneless timestamp columns are written in.
	Location *time.Location
}

// DB is a *sql.DB bound to its dialect and optional schema prefix.
type DB struct {
	*sql.DB
	Dialect  Dialect
	Schema   string
	Location *time.Location
}

// Open connects to a store and verifies the connection.
func Open(ctx context.Context, opts Options) (*DB, error) {
	if opts.DSN == "" {
		return nil, errors.New("database: empty dsn")
	}
	dialect, err := ParseDialect(opts.Driver)
	if err != nil {
		return nil, err
	}
	dsn := opts.DSN
	if dialect == DialectMySQL && opts.Location != nil {
		if dsn, err = mysqlDSN(dsn, opts.Location); err != nil {
			return nil, err
		}
	}
	sqlDB, err := sql.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("database: open %s: %w", dialect, err)
	}
	if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("database: ping %s: %w", dialect, err)
	}
	db := Wrap(sqlDB, dialect, opts.Schema)
	db.Location = opts.Location
	return db, nil
}

// mysqlDSN makes the driver convert time arguments into loc unless the DSN
// already names a zone.
func mysqlDSN(dsn string, loc *time.Location) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("database: parse mysql dsn: %w", err)
	}
	if cfg.Loc == time.UTC {
		cfg.Loc = loc
	}
	return cfg.FormatDSN(), nil
}

// Wrap binds an existing connection pool to a dialect.
func Wrap(sqlDB *sql.DB, dialect Dialect, schema string) *DB {
	return &DB{DB: sqlDB, Dialect: dialect, Schema: schema}
}

// Table qualifies a table name with the configured schema.
func (db *DB) Table(name string) string {
	if db == nil || db.Schema == "" {
		return name
	}
	return db.Schema + "." + name
}

// NullTime returns a scan target that reads zoneless values in the store
// location.
func (db *DB) NullTime() NullTime {
	if db == nil {
		return NullTime{}
	}
	return NullTime{Location: db.Location}
}

// Rebind rewrites placeholders for the bound dialect.
func (db *DB) Rebind(query string) string {
	if db == nil {
		return query
	}
	return db.Dialect.Rebind(query)
}
