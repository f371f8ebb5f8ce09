package application

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"es-schedule/internal/actualtime/domain"
	"es-schedule/internal/actualtime/infrastructure/sqldb"
	"es-schedule/internal/platform/database/dbtest"
	"es-schedule/internal/sequence"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type stubReader struct {
	entries    []domain.Entry
	err        error
	start, end time.Time
}

func (s *stubReader) FetchClosed(_ context.Context, start, end time.Time) ([]domain.Entry, error) {
	s.start, s.end = start, end
	return s.entries, s.err
}

type stubAllocator struct {
	mu   sync.Mutex
	next int64
	fail map[int]bool
	call int
}

func (s *stubAllocator) Allocate(context.Context, string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.call++
	if s.fail[s.call] {
		return 0, errors.New("counter unavailable")
	}
	s.next++
	return s.next, nil
}

type recordingLedger struct {
	mu        sync.Mutex
	summaries []domain.Summary
	details   [][]domain.Detail
}

func (r *recordingLedger) Save(_ context.Context, s domain.Summary, d []domain.Detail) (int64, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summaries = append(r.summaries, s)
	r.details = append(r.details, d)
	return s.ActualID, true, nil
}

var calcDate = time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)

func closedAt(h int) *time.Time {
	t := time.Date(2024, 3, 5, h, 0, 0, 0, time.UTC)
	return &t
}

func TestEngineSMTScenario(t *testing.T) {
	reader := &stubReader{entries: []domain.Entry{{
		TimesheetID: 1, WorkOrder: "W1", Unit: "S", TestType: "0010", StationID: 12,
		OperatorCount: 3, Quantity: 5, CycleTime: 10, CloseTime: closedAt(9),
	}}}
	ledger := &recordingLedger{}
	engine, err := NewEngine(reader, &stubAllocator{next: 999}, ledger, WithLocation(time.UTC))
	require.NoError(t, err)

	result, err := engine.Run(context.Background(), calcDate)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, result.Status)
	assert.Equal(t, 1, result.Created)

	assert.Equal(t, time.Date(2024, 3, 5, 0, 10, 0, 0, time.UTC), reader.start)
	assert.Equal(t, time.Date(2024, 3, 6, 0, 10, 0, 0, time.UTC), reader.end)

	require.Len(t, ledger.summaries, 1)
	s := ledger.summaries[0]
	assert.Equal(t, int64(1000), s.ActualID)
	assert.Equal(t, "50.00", s.ProductionTimeText())
	assert.Equal(t, 5, s.ProductionCount)
	assert.Equal(t, "0010", s.Route)
	require.Len(t, ledger.details[0], 1)
	assert.Equal(t, 1, ledger.details[0][0].OperatorCount)
}

func TestEngineNoData(t *testing.T) {
	engine, err := NewEngine(&stubReader{}, &stubAllocator{}, &recordingLedger{})
	require.NoError(t, err)

	result, err := engine.Run(context.Background(), calcDate)
	require.NoError(t, err)
	assert.Equal(t, StatusNoData, result.Status)
}

func TestEngineFetchFailure(t *testing.T) {
	engine, err := NewEngine(&stubReader{err: errors.New("timeout")}, &stubAllocator{}, &recordingLedger{})
	require.NoError(t, err)

	_, err = engine.Run(context.Background(), calcDate)
	require.Error(t, err)
}

func TestEngineIsolatesWorkOrderFailure(t *testing.T) {
	reader := &stubReader{entries: []domain.Entry{
		{TimesheetID: 1, WorkOrder: "W1", Unit: "T", TestType: "0020", StationID: 229, OperatorCount: 1, Quantity: 1, CycleTime: 1},
		{TimesheetID: 2, WorkOrder: "W2", Unit: "T", TestType: "0020", StationID: 229, OperatorCount: 1, Quantity: 2, CycleTime: 1},
	}}
	ledger := &recordingLedger{}
	engine, err := NewEngine(reader, &stubAllocator{fail: map[int]bool{1: true}}, ledger)
	require.NoError(t, err)

	result, err := engine.Run(context.Background(), calcDate)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 1, result.Created)
	require.Len(t, ledger.summaries, 1)
	assert.Equal(t, "W2", ledger.summaries[0].WorkOrder)
}

func TestNewEngineRejectsNil(t *testing.T) {
	_, err := NewEngine(nil, &stubAllocator{}, &recordingLedger{})
	assert.Error(t, err)
	_, err = NewEngine(&stubReader{}, nil, &recordingLedger{})
	assert.Error(t, err)
	_, err = NewEngine(&stubReader{}, &stubAllocator{}, nil)
	assert.Error(t, err)
}

func TestEngineRerunAgainstStore(t *testing.T) {
	target := dbtest.Open(t, "target")
	alloc, err := sequence.NewAllocator(target)
	require.NoError(t, err)
	ledger, err := sqldb.NewLedgerRepository(target)
	require.NoError(t, err)

	reader := &stubReader{entries: []domain.Entry{
		{TimesheetID: 1, WorkOrder: "W1", Unit: "S", TestType: "0010", StationID: 12, Quantity: 5, CycleTime: 10, CloseTime: closedAt(9)},
		{TimesheetID: 2, WorkOrder: "W1", Unit: "P", TestType: "0020", StationID: 212, OperatorCount: 2, Quantity: 4, CycleTime: 1.5, CloseTime: closedAt(10)},
		{TimesheetID: 3, WorkOrder: "W2", Unit: "P", TestType: "0020", StationID: 213, OperatorCount: 1, Quantity: 1, CycleTime: 2, CloseTime: closedAt(11)},
	}}
	engine, err := NewEngine(reader, alloc, ledger, WithLocation(time.UTC), WithWorkers(3))
	require.NoError(t, err)

	first, err := engine.Run(context.Background(), calcDate)
	require.NoError(t, err)
	assert.Equal(t, 3, first.Created)

	reader.entries = append(reader.entries,
		domain.Entry{TimesheetID: 4, WorkOrder: "W1", Unit: "S", TestType: "0010", StationID: 12, Quantity: 7, CycleTime: 10, CloseTime: closedAt(12)})
	second, err := engine.Run(context.Background(), calcDate)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Created)
	assert.Equal(t, 3, second.Existing)

	var summaries, details int
	require.NoError(t, target.QueryRow(`SELECT COUNT(*) FROM actual_time`).Scan(&summaries))
	require.NoError(t, target.QueryRow(`SELECT COUNT(*) FROM actual_time_detail`).Scan(&details))
	assert.Equal(t, 3, summaries)
	assert.Equal(t, 3, details, "late entry does not touch the recorded work order")

	var productionTime decimal.Decimal
	require.NoError(t, target.QueryRow(`SELECT production_time FROM actual_time WHERE wip_no = 'W1' AND unit_no = 'S'`).Scan(&productionTime))
	assert.True(t, productionTime.Equal(decimal.NewFromInt(50)), productionTime.String())

	dir := t.TempDir()
	exporter, err := NewExporter(ledger, dir,
		WithExportClock(fixedClock{now: time.Date(2024, 3, 8, 6, 30, 15, 0, time.UTC)}),
		WithFormats("xlsx"))
	require.NoError(t, err)

	path, err := exporter.Export(context.Background(), calcDate)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "SFIS_WorkTime_20240308063015.txt"), path)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	assert.Equal(t, []string{
		"20240305,235959,W1,0010,50.00,5",
		"20240305,235959,W1,0020,12.00,4",
		"20240305,235959,W2,0020,2.00,1",
	}, lines)

	book, err := excelize.OpenFile(filepath.Join(dir, "SFIS_WorkTime_20240308063015.xlsx"))
	require.NoError(t, err)
	defer book.Close()
	wip, err := book.GetCellValue("worktime", "C2")
	require.NoError(t, err)
	assert.Equal(t, "W1", wip)
}

type stubTotals struct {
	totals []domain.DailyTotal
	err    error
}

func (s stubTotals) DailyTotals(context.Context, time.Time) ([]domain.DailyTotal, error) {
	return s.totals, s.err
}

func TestExporterCreatesOutputDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "out")
	exporter, err := NewExporter(stubTotals{totals: []domain.DailyTotal{
		{WorkOrder: "W9", Route: "0030", ProductionTime: decimal.RequireFromString("1.005"), Count: 2},
	}}, dir, WithExportClock(fixedClock{now: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)}))
	require.NoError(t, err)

	path, err := exporter.Export(context.Background(), time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "20240101,235959,W9,0030,1.01,2\n", string(raw))
}

func TestExporterXLSXFailureKeepsTextExport(t *testing.T) {
	dir := t.TempDir()
	generatedAt := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, os.Mkdir(filepath.Join(dir, domain.ExportFileName(generatedAt, ".xlsx")), 0o755))

	var logs bytes.Buffer
	exporter, err := NewExporter(stubTotals{totals: []domain.DailyTotal{
		{WorkOrder: "W9", Route: "0030", ProductionTime: decimal.RequireFromString("2"), Count: 1},
	}}, dir,
		WithExportClock(fixedClock{now: generatedAt}),
		WithExportLogger(zerolog.New(&logs)),
		WithFormats("xlsx"))
	require.NoError(t, err)

	path, err := exporter.Export(context.Background(), time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "20240101,235959,W9,0030,2.00,1\n", string(raw))
	assert.Contains(t, logs.String(), "xlsx export skipped")
}

func TestExporterPropagatesLoadError(t *testing.T) {
	exporter, err := NewExporter(stubTotals{err: errors.New("boom")}, t.TempDir())
	require.NoError(t, err)
	_, err = exporter.Export(context.Background(), calcDate)
	assert.Error(t, err)
}
