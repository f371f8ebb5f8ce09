// Package domain classifies SMT stencils into overdue tiers.
package domain

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Tier is the severity of an overdue stencil.
type Tier string

const (
	TierSevere  Tier = "嚴重"
	TierUrgent  Tier = "緊急"
	TierWarning Tier = "警告"
	TierNormal  Tier = "正常"
)

// AlertFlag is the persisted already-alerted marker.
type AlertFlag string

const (
	FlagUnset AlertFlag = ""
	FlagNo    AlertFlag = "N"
	FlagYes   AlertFlag = "Y"
)

// Pending reports whether the usage-rate alert has not been sent yet.
func (f AlertFlag) Pending() bool {
	return f != FlagYes
}

// ParseAlertFlag normalises a stored flag value.
func ParseAlertFlag(raw string) AlertFlag {
	switch raw {
	case "Y", "y":
		return FlagYes
	case "N", "n":
		return FlagNo
	default:
		return FlagUnset
	}
}

// Asset is a stencil with its latest deployment.
type Asset struct {
	ID              int64
	StencilNo       string
	EngineeringNo   string
	StorageLocation string
	MaxUses         int
	UsedCount       int
	Flag            AlertFlag
	CurrentWIP      string
	OnDate          *time.Time
	OffDate         *time.Time
	CreatedBy       string

	Tier   Tier
	Reason string
	// DaysOnline is set for deployed stencils, floor of elapsed days.
	DaysOnline *int
}

// UsageRatio returns used/max, null when max is zero.
func (a Asset) UsageRatio() decimal.NullDecimal {
	if a.MaxUses == 0 {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(decimal.NewFromInt(int64(a.UsedCount)).Div(decimal.NewFromInt(int64(a.MaxUses))))
}

// UsageRate returns the usage ratio as a percentage rounded to one digit.
func (a Asset) UsageRate() decimal.NullDecimal {
	ratio := a.UsageRatio()
	if !ratio.Valid {
		return ratio
	}
	return decimal.NewNullDecimal(ratio.Decimal.Mul(decimal.NewFromInt(100)).Round(1))
}

// Deployed reports whether the stencil is currently on a line.
func (a Asset) Deployed() bool {
	return a.OnDate != nil && a.OffDate == nil
}

// daysSince returns whole days elapsed since t.
func daysSince(now, t time.Time) int {
	return int(math.Floor(now.Sub(t).Hours() / 24))
}
