package domain

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Group is the set of entries of one work order within one unit.
type Group struct {
	Unit      string
	Route     string
	WorkOrder string
	Entries   []Entry
}

// Summary is one production-time ledger row.
type Summary struct {
	ActualID        int64
	ActualDate      time.Time
	WorkOrder       string
	Unit            string
	ProductionTime  decimal.Decimal
	ProductionCount int
	Route           string
	Source          string
	SAPCount        int
	CreatedAt       time.Time
}

// ProductionTimeText renders the production time with two fraction digits.
func (s Summary) ProductionTimeText() string {
	return s.ProductionTime.StringFixed(2)
}

// Detail is one per-entry line under a summary.
type Detail struct {
	ActualID      int64
	Index         int
	WorkOrder     string
	BarcodeID     int64
	UserID        int
	StationID     int
	Unit          string
	PassTime      *time.Time
	PassTimeStart *time.Time
	OperatorCount int
	CycleTime     string
	Quantity      string
	LastStationID int
	CreatedAt     time.Time
	RestCT        string
	Route         string
}

// Partition groups entries by unit then work order, both in first-seen
// order. Units without a route are dropped, as are entries whose station
// test type differs from the unit's route.
func Partition(entries []Entry) []Group {
	var units []string
	byUnit := make(map[string][]Entry)
	for _, e := range entries {
		route, ok := RouteFor(e.Unit)
		if !ok || e.TestType != route {
			continue
		}
		if _, seen := byUnit[e.Unit]; !seen {
			units = append(units, e.Unit)
		}
		byUnit[e.Unit] = append(byUnit[e.Unit], e)
	}

	var groups []Group
	for _, unit := range units {
		route, _ := RouteFor(unit)
		index := make(map[string]int)
		for _, e := range byUnit[unit] {
			i, ok := index[e.WorkOrder]
			if !ok {
				i = len(groups)
				index[e.WorkOrder] = i
				groups = append(groups, Group{Unit: unit, Route: route, WorkOrder: e.WorkOrder})
			}
			groups[i].Entries = append(groups[i].Entries, e)
		}
	}
	return groups
}

// FinishedQuantity sums the quantity reported at the unit's terminal stations.
func FinishedQuantity(unit string, entries []Entry) int {
	total := 0
	for _, e := range entries {
		if IsFinishStation(unit, e.StationID) {
			total += e.Quantity
		}
	}
	return total
}

// BuildLedger reduces a group into its summary and detail rows.
func BuildLedger(g Group, actualID int64, date, now time.Time) (Summary, []Detail) {
	finishQty := FinishedQuantity(g.Unit, g.Entries)
	lastStation := FinishStationID(g.Unit)

	total := decimal.Zero
	details := make([]Detail, 0, len(g.Entries))
	for i, e := range g.Entries {
		total = total.Add(e.Contribution())
		details = append(details, Detail{
			ActualID:      actualID,
			Index:         i,
			WorkOrder:     g.WorkOrder,
			BarcodeID:     e.TimesheetID,
			UserID:        0,
			StationID:     e.StationID,
			Unit:          g.Unit,
			PassTime:      e.CloseTime,
			PassTimeStart: e.OpenTime,
			OperatorCount: e.LedgerOperatorCount(),
			CycleTime:     FormatCycleTime(e.CycleTime),
			Quantity:      strconv.Itoa(e.Quantity),
			LastStationID: lastStation,
			CreatedAt:     now,
			RestCT:        RestCT,
			Route:         g.Route,
		})
	}

	summary := Summary{
		ActualID:        actualID,
		ActualDate:      LedgerDate(date),
		WorkOrder:       g.WorkOrder,
		Unit:            g.Unit,
		ProductionTime:  total.Round(2),
		ProductionCount: finishQty,
		Route:           g.Route,
		Source:          Source,
		SAPCount:        finishQty,
		CreatedAt:       now,
	}
	return summary, details
}
