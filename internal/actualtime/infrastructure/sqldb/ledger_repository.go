package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"es-schedule/internal/actualtime/domain"
	"es-schedule/internal/platform/database"
)

var summaryColumns = []string{
	"actual_id", "actual_date", "wip_no", "unit_no", "production_time", "create_date",
	"production_cnt", "route", "source", "production_cnt_sap",
}

var detailColumns = []string{
	"actual_id", "actual_detail_id", "wip_no", "barcode_id", "user_id", "station_id", "unit_no",
	"pass_datetime", "pass_datetime_s", "a_cnt", "a_ct", "s_ct", "last_station_id",
	"create_datetime", "rest_ct", "route",
}

// LedgerRepository persists the production-time ledger in the target store.
type LedgerRepository struct {
	db *database.DB
}

// NewLedgerRepository constructs a ledger repository.
func NewLedgerRepository(db *database.DB) (*LedgerRepository, error) {
	if db == nil || db.DB == nil {
		return nil, errors.New("sqldb: nil target db")
	}
	return &LedgerRepository{db: db}, nil
}

// Save writes a summary and its details in one transaction. The summary
// insert gates the write: when the summary already exists nothing is written
// and its stored id is returned with created false.
func (r *LedgerRepository) Save(ctx context.Context, summary domain.Summary, details []domain.Detail) (int64, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("sqldb: begin ledger: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, r.db.Dialect.InsertIfAbsent(r.db.Table("actual_time"), summaryColumns),
		summary.ActualID,
		summary.ActualDate,
		summary.WorkOrder,
		summary.Unit,
		summary.ProductionTimeText(),
		summary.CreatedAt,
		summary.ProductionCount,
		summary.Route,
		summary.Source,
		summary.SAPCount,
	)
	if err != nil {
		return 0, false, fmt.Errorf("sqldb: insert summary %s/%s: %w", summary.WorkOrder, summary.Unit, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("sqldb: insert summary %s/%s: %w", summary.WorkOrder, summary.Unit, err)
	}

	if affected == 0 {
		existing, err := r.existingID(ctx, tx, summary)
		if err != nil {
			return 0, false, err
		}
		if err := tx.Commit(); err != nil {
			return 0, false, fmt.Errorf("sqldb: commit ledger: %w", err)
		}
		return existing, false, nil
	}

	actualID := summary.ActualID
	insert := r.db.Dialect.InsertIfAbsent(r.db.Table("actual_time_detail"), detailColumns)
	for _, d := range details {
		if _, err := tx.ExecContext(ctx, insert,
			actualID,
			d.Index,
			d.WorkOrder,
			d.BarcodeID,
			d.UserID,
			d.StationID,
			d.Unit,
			nullTime(d.PassTime),
			nullTime(d.PassTimeStart),
			d.OperatorCount,
			d.CycleTime,
			d.Quantity,
			d.LastStationID,
			d.CreatedAt,
			d.RestCT,
			d.Route,
		); err != nil {
			return 0, false, fmt.Errorf("sqldb: insert detail %d/%d: %w", actualID, d.Index, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("sqldb: commit ledger: %w", err)
	}
	return actualID, true, nil
}

func (r *LedgerRepository) existingID(ctx context.Context, tx *sql.Tx, summary domain.Summary) (int64, error) {
	query := r.db.Rebind(fmt.Sprintf(`
SELECT actual_id FROM %s
WHERE actual_date = ? AND wip_no = ? AND unit_no = ?`, r.db.Table("actual_time")))
	var id int64
	err := tx.QueryRowContext(ctx, query, summary.ActualDate, summary.WorkOrder, summary.Unit).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("sqldb: resolve summary %s/%s: %w", summary.WorkOrder, summary.Unit, err)
	}
	return id, nil
}

// DailyTotals aggregates the ledger of a date by work order and route.
func (r *LedgerRepository) DailyTotals(ctx context.Context, date time.Time) ([]domain.DailyTotal, error) {
	query := r.db.Rebind(fmt.Sprintf(`
SELECT wip_no, route, SUM(production_time), SUM(production_cnt_sap)
FROM %s
WHERE actual_date = ?
GROUP BY wip_no, route
ORDER BY wip_no, route`, r.db.Table("actual_time")))

	rows, err := r.db.QueryContext(ctx, query, domain.LedgerDate(date))
	if err != nil {
		return nil, fmt.Errorf("sqldb: query daily totals: %w", err)
	}
	defer rows.Close()

	var totals []domain.DailyTotal
	for rows.Next() {
		var (
			t   domain.DailyTotal
			sum decimal.NullDecimal
			cnt sql.NullInt64
		)
		if err := rows.Scan(&t.WorkOrder, &t.Route, &sum, &cnt); err != nil {
			return nil, fmt.Errorf("sqldb: scan daily total: %w", err)
		}
		t.ProductionTime = sum.Decimal
		t.Count = cnt.Int64
		totals = append(totals, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqldb: iterate daily totals: %w", err)
	}
	return totals, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
