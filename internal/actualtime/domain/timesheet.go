// Package domain holds the production-time ledger rules.
package domain

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Process units that take part in the ledger.
const (
	UnitSMT      = "S"
	UnitDIP      = "D"
	UnitTest     = "T"
	UnitPacking  = "P"
	UnitAssembly = "B"
)

// Units lists the process units read from the timesheet.
var Units = []string{UnitPacking, UnitSMT, UnitTest, UnitDIP, UnitAssembly}

// Source tags a ledger row as machine generated.
const Source = "1"

// RestCT is the fixed rest cycle time written on every detail.
const RestCT = "0"

var routes = map[string]string{
	UnitSMT:      "0010",
	UnitDIP:      "0020",
	UnitTest:     "0020",
	UnitPacking:  "0020",
	UnitAssembly: "0030",
}

var finishStations = map[string]int{
	UnitSMT:      12,
	UnitTest:     229,
	UnitAssembly: 37,
}

// PackingFinishStations are the terminal stations of the packing unit.
var PackingFinishStations = []int{212, 213}

// RouteFor returns the route code of a unit.
func RouteFor(unit string) (string, bool) {
	route, ok := routes[unit]
	return route, ok
}

// FinishStationID returns the terminal station of a unit, 0 when the unit
// has a station set or none at all.
func FinishStationID(unit string) int {
	return finishStations[unit]
}

// IsFinishStation reports whether the station closes the unit.
func IsFinishStation(unit string, stationID int) bool {
	if unit == UnitPacking {
		for _, id := range PackingFinishStations {
			if id == stationID {
				return true
			}
		}
		return false
	}
	finish, ok := finishStations[unit]
	return ok && finish == stationID
}

// Entry is one raw per-station work-time record.
type Entry struct {
	TimesheetID   int64
	WorkOrder     string
	ItemNo        string
	Unit          string
	LineID        int
	StationID     int
	TestType      string
	Side          string
	OperatorCount int
	OpenTime      *time.Time
	CloseTime     *time.Time
	Quantity      int
	CycleTime     float64
	StandardCT    float64
	StandardOpCnt int
	Memo          string
}

// Contribution returns the production time the entry adds to its work order.
func (e Entry) Contribution() decimal.Decimal {
	ct := decimal.NewFromFloat(e.CycleTime)
	qty := decimal.NewFromInt(int64(e.Quantity))
	if e.Unit == UnitSMT {
		return ct.Mul(qty)
	}
	return ct.Mul(decimal.NewFromInt(int64(e.OperatorCount))).Mul(qty)
}

// LedgerOperatorCount is the operator count recorded on the detail row.
func (e Entry) LedgerOperatorCount() int {
	if e.Unit == UnitSMT {
		return 1
	}
	return e.OperatorCount
}

// FormatCycleTime renders a cycle time the way the detail text column holds it.
func FormatCycleTime(ct float64) string {
	return strconv.FormatFloat(ct, 'f', -1, 64)
}

// Window returns the half-open close-time window of a calculation date.
func Window(date time.Time, loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.Local
	}
	y, m, d := date.Date()
	start := time.Date(y, m, d, 0, 10, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}

// LedgerDate normalises a calculation date to midnight UTC.
func LedgerDate(date time.Time) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
