package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DailyTotal is one (work order, route) aggregate of a ledger date.
type DailyTotal struct {
	WorkOrder      string
	Route          string
	ProductionTime decimal.Decimal
	Count          int64
}

// ExportTime is the fixed time-of-day column of an export line.
const ExportTime = "235959"

// ExportLine renders a daily total as one comma separated export line.
func ExportLine(date time.Time, total DailyTotal) string {
	return fmt.Sprintf("%s,%s,%s,%s,%s,%d",
		date.Format("20060102"),
		ExportTime,
		total.WorkOrder,
		total.Route,
		total.ProductionTime.StringFixed(2),
		total.Count,
	)
}

// ExportFileName returns the export file name for a generation instant.
func ExportFileName(generatedAt time.Time, ext string) string {
	return "SFIS_WorkTime_" + generatedAt.Format("20060102150405") + ext
}
