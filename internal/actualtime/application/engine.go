// Package application reduces timesheet entries into the production-time
// ledger and exports the daily totals.
package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"es-schedule/internal/actualtime/domain"
)

// DefaultCounterName is the id-key row backing ledger ids.
const DefaultCounterName = "ACTUAL_ID"

// Status summarises an engine run.
type Status string

const (
	StatusSuccess Status = "success"
	StatusNoData  Status = "no_data"
)

// TimesheetReader loads closed timesheet entries.
type TimesheetReader interface {
	FetchClosed(ctx context.Context, start, end time.Time) ([]domain.Entry, error)
}

// IDAllocator hands out ledger ids.
type IDAllocator interface {
	Allocate(ctx context.Context, name string) (int64, error)
}

// LedgerWriter persists one work order's ledger rows.
type LedgerWriter interface {
	Save(ctx context.Context, summary domain.Summary, details []domain.Detail) (int64, bool, error)
}

// Clock provides current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Result reports the outcome of a run.
type Result struct {
	Status     Status
	Entries    int
	WorkOrders int
	Created    int
	Existing   int
	Failed     int
}

// Engine runs the aggregation for one calculation date.
type Engine struct {
	reader   TimesheetReader
	ids      IDAllocator
	ledger   LedgerWriter
	clock    Clock
	logger   zerolog.Logger
	counter  string
	location *time.Location
	workers  int
}

// EngineOption configures the engine.
type EngineOption func(*Engine)

// WithClock overrides the clock.
func WithClock(clock Clock) EngineOption {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithLogger sets the run logger.
func WithLogger(logger zerolog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithCounterName overrides the id-key counter name.
func WithCounterName(name string) EngineOption {
	return func(e *Engine) {
		if name != "" {
			e.counter = name
		}
	}
}

// WithLocation sets the zone the close-time window is computed in.
func WithLocation(loc *time.Location) EngineOption {
	return func(e *Engine) {
		if loc != nil {
			e.location = loc
		}
	}
}

// WithWorkers bounds how many work orders are processed at once.
func WithWorkers(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// NewEngine constructs an aggregation engine.
func NewEngine(reader TimesheetReader, ids IDAllocator, ledger LedgerWriter, opts ...EngineOption) (*Engine, error) {
	if reader == nil {
		return nil, errors.New("actualtime: nil timesheet reader")
	}
	if ids == nil {
		return nil, errors.New("actualtime: nil id allocator")
	}
	if ledger == nil {
		return nil, errors.New("actualtime: nil ledger writer")
	}
	e := &Engine{
		reader:   reader,
		ids:      ids,
		ledger:   ledger,
		clock:    systemClock{},
		logger:   zerolog.Nop(),
		counter:  DefaultCounterName,
		location: time.Local,
		workers:  1,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Run aggregates the entries closed within the calculation date's window.
// A fetch failure is returned; a failing work order is logged and counted.
func (e *Engine) Run(ctx context.Context, calcDate time.Time) (Result, error) {
	start, end := domain.Window(calcDate, e.location)
	e.logger.Info().Time("from", start).Time("to", end).Msg("close time window")

	entries, err := e.reader.FetchClosed(ctx, start, end)
	if err != nil {
		return Result{}, fmt.Errorf("actualtime: fetch timesheet: %w", err)
	}
	e.logger.Info().Int("entries", len(entries)).Msg("timesheet loaded")
	if len(entries) == 0 {
		return Result{Status: StatusNoData}, nil
	}

	groups := domain.Partition(entries)
	result := Result{Status: StatusSuccess, Entries: len(entries), WorkOrders: len(groups)}

	var mu sync.Mutex
	record := func(created bool, err error) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case err != nil:
			result.Failed++
		case created:
			result.Created++
		default:
			result.Existing++
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for _, group := range groups {
		g.Go(func() error {
			created, err := e.process(gctx, calcDate, group)
			if err != nil {
				e.logger.Error().Err(err).
					Str("wip_no", group.WorkOrder).
					Str("unit_no", group.Unit).
					Msg("work order failed")
			}
			record(created, err)
			return nil
		})
	}
	_ = g.Wait()

	e.logger.Info().
		Int("work_orders", result.WorkOrders).
		Int("created", result.Created).
		Int("existing", result.Existing).
		Int("failed", result.Failed).
		Msg("aggregation finished")
	return result, nil
}

func (e *Engine) process(ctx context.Context, calcDate time.Time, group domain.Group) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	id, err := e.ids.Allocate(ctx, e.counter)
	if err != nil {
		return false, fmt.Errorf("allocate id: %w", err)
	}
	summary, details := domain.BuildLedger(group, id, calcDate, e.clock.Now())
	actualID, created, err := e.ledger.Save(ctx, summary, details)
	if err != nil {
		return false, err
	}
	e.logger.Info().
		Str("route", group.Route).
		Str("wip_no", group.WorkOrder).
		Str("production_time", summary.ProductionTimeText()).
		Int("finished", summary.ProductionCount).
		Int64("actual_id", actualID).
		Bool("created", created).
		Msg("work order aggregated")
	return created, nil
}
