// Package sequence hands out durable, monotonically increasing ids from a
// named counter row.
package sequence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"es-schedule/internal/platform/database"
)

const (
	defaultTable = "idkey"

	// SeedValue is the first id handed out by a freshly created counter.
	SeedValue int64 = 1000
	// DefaultLimit is the ceiling of a freshly created counter.
	DefaultLimit int64 = 2147483647
	// DefaultDelta is the step of a freshly created counter.
	DefaultDelta int64 = 1
)

var (
	// ErrSequenceExhausted indicates the counter moved past its ceiling.
	ErrSequenceExhausted = errors.New("sequence: counter exhausted")
	// ErrEmptyName indicates a missing counter name.
	ErrEmptyName = errors.New("sequence: empty counter name")
)

// Clock provides current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Allocator increments counter rows in the id-key table.
type Allocator struct {
	db    *database.DB
	table string
	clock Clock
}

// Option configures the allocator.
type Option func(*Allocator)

// WithTable overrides the counter table name.
func WithTable(table string) Option {
	return func(a *Allocator) {
		if table != "" {
			a.table = table
		}
	}
}

// WithClock overrides the clock.
func WithClock(clock Clock) Option {
	return func(a *Allocator) {
		if clock != nil {
			a.clock = clock
		}
	}
}

// NewAllocator constructs an allocator.
func NewAllocator(db *database.DB, opts ...Option) (*Allocator, error) {
	if db == nil || db.DB == nil {
		return nil, errors.New("sequence: nil db")
	}
	a := &Allocator{db: db, table: defaultTable, clock: systemClock{}}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Allocate returns the next id of the named counter, creating the counter
// at its seed value on first use.
func (a *Allocator) Allocate(ctx context.Context, name string) (int64, error) {
	if name == "" {
		return 0, ErrEmptyName
	}
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sequence: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	table := a.db.Table(a.table)
	now := a.clock.Now().UTC()

	for attempt := 0; attempt < 2; attempt++ {
		id, ok, err := a.increment(ctx, tx, table, name, now)
		if err != nil {
			return 0, err
		}
		if ok {
			if err := tx.Commit(); err != nil {
				return 0, fmt.Errorf("sequence: commit: %w", err)
			}
			return id, nil
		}

		seeded, err := a.seed(ctx, tx, table, name, now)
		if err != nil {
			return 0, err
		}
		if seeded {
			if err := tx.Commit(); err != nil {
				return 0, fmt.Errorf("sequence: commit: %w", err)
			}
			return SeedValue, nil
		}
	}
	return 0, fmt.Errorf("sequence: counter %s could not be created", name)
}

func (a *Allocator) increment(ctx context.Context, tx *sql.Tx, table, name string, now time.Time) (int64, bool, error) {
	update := a.db.Rebind(fmt.Sprintf(`
UPDATE %s
SET current_num = current_num + delta_num, update_datetime = ?
WHERE id_name = ?`, table))
	res, err := tx.ExecContext(ctx, update, now, name)
	if err != nil {
		return 0, false, fmt.Errorf("sequence: increment %s: %w", name, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("sequence: increment %s: %w", name, err)
	}
	if affected == 0 {
		return 0, false, nil
	}

	var current, limit int64
	query := a.db.Rebind(fmt.Sprintf(`SELECT current_num, limit_num FROM %s WHERE id_name = ?`, table))
	if err := tx.QueryRowContext(ctx, query, name).Scan(&current, &limit); err != nil {
		return 0, false, fmt.Errorf("sequence: read %s: %w", name, err)
	}
	if current > limit {
		return 0, false, fmt.Errorf("%w: %s at %d exceeds %d", ErrSequenceExhausted, name, current, limit)
	}
	return current, true, nil
}

func (a *Allocator) seed(ctx context.Context, tx *sql.Tx, table, name string, now time.Time) (bool, error) {
	insert := a.db.Dialect.InsertIfAbsent(table, []string{
		"id_name", "current_num", "start_num", "limit_num", "delta_num", "create_datetime", "update_datetime",
	})
	res, err := tx.ExecContext(ctx, insert, name, SeedValue, SeedValue, DefaultLimit, DefaultDelta, now, now)
	if err != nil {
		return false, fmt.Errorf("sequence: seed %s: %w", name, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sequence: seed %s: %w", name, err)
	}
	return affected > 0, nil
}
