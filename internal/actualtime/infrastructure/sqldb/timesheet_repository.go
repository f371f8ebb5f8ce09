// Package sqldb implements the ledger ports over database/sql.
package sqldb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"es-schedule/internal/actualtime/domain"
	"es-schedule/internal/platform/database"
)

// TimesheetRepository reads closed timesheet entries from the source store.
type TimesheetRepository struct {
	db *database.DB
}

// NewTimesheetRepository constructs a timesheet reader.
func NewTimesheetRepository(db *database.DB) (*TimesheetRepository, error) {
	if db == nil || db.DB == nil {
		return nil, errors.New("sqldb: nil source db")
	}
	return &TimesheetRepository{db: db}, nil
}

// FetchClosed returns entries whose close time falls in [start, end), with
// their standard cycle time and operator count (0 when no standard exists).
func (r *TimesheetRepository) FetchClosed(ctx context.Context, start, end time.Time) ([]domain.Entry, error) {
	units := "'" + strings.Join(domain.Units, "','") + "'"
	query := r.db.Rebind(fmt.Sprintf(`
SELECT
	a.timesheet_id,
	a.wo_no,
	COALESCE(b.eng_sr, a.eng_sr, ''),
	a.unit_no,
	a.line_id,
	a.station_id,
	e.test_type,
	COALESCE(a.side, ''),
	a.op_cnt,
	a.open_time,
	a.close_time,
	a.production_qty,
	a.total_ct,
	COALESCE(a.memo, ''),
	COALESCE((SELECT MAX(h.ct) FROM %[4]s h
		WHERE h.item_no = a.eng_sr AND h.unit_no = a.unit_no AND h.line_id = a.line_id
		AND h.station_id = a.station_id AND h.side = a.side), 0),
	COALESCE((SELECT MAX(h.op_cnt) FROM %[4]s h
		WHERE h.item_no = a.eng_sr AND h.unit_no = a.unit_no AND h.line_id = a.line_id
		AND h.station_id = a.station_id AND h.side = a.side), 0)
FROM %[1]s a
JOIN %[2]s e ON e.station_id = a.station_id
LEFT JOIN %[3]s b ON b.wo_no = a.wo_no
WHERE a.unit_no IN (%[5]s)
	AND e.test_type IS NOT NULL
	AND a.close_time >= ?
	AND a.close_time < ?
ORDER BY a.timesheet_id`,
		r.db.Table("jh_wo_timesheet"),
		r.db.Table("jh_station"),
		r.db.Table("jh_wo_info"),
		r.db.Table("jh_standard_worktime"),
		units,
	))

	rows, err := r.db.QueryContext(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("sqldb: query timesheet: %w", err)
	}
	defer rows.Close()

	var entries []domain.Entry
	for rows.Next() {
		entry, err := scanEntry(rows, r.db)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqldb: iterate timesheet: %w", err)
	}
	return entries, nil
}

func scanEntry(scanner interface{ Scan(dest ...any) error }, db *database.DB) (domain.Entry, error) {
	var e domain.Entry
	openTime, closeTime := db.NullTime(), db.NullTime()
	if err := scanner.Scan(
		&e.TimesheetID,
		&e.WorkOrder,
		&e.ItemNo,
		&e.Unit,
		&e.LineID,
		&e.StationID,
		&e.TestType,
		&e.Side,
		&e.OperatorCount,
		&openTime,
		&closeTime,
		&e.Quantity,
		&e.CycleTime,
		&e.Memo,
		&e.StandardCT,
		&e.StandardOpCnt,
	); err != nil {
		return domain.Entry{}, fmt.Errorf("sqldb: scan timesheet: %w", err)
	}
	e.OpenTime = openTime.Ptr()
	e.CloseTime = closeTime.Ptr()
	return e, nil
}
