package domain

import (
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Thresholds parameterise the tier rules.
type Thresholds struct {
	DaysOnline int
	UsageRate  decimal.Decimal
}

// DefaultThresholds are used when nothing is configured.
func DefaultThresholds() Thresholds {
	return Thresholds{DaysOnline: 7, UsageRate: decimal.RequireFromString("0.95")}
}

// Rule assigns a tier when its predicate matches. Rules are evaluated in order.
type Rule struct {
	Tier    Tier
	Matches func(a Asset, now time.Time, th Thresholds) bool
	Reason  func(th Thresholds) string
}

// Rules returns the ordered tier rules.
func Rules() []Rule {
	return []Rule{
		{
			Tier: TierSevere,
			Matches: func(a Asset, _ time.Time, _ Thresholds) bool {
				return a.UsedCount >= a.MaxUses
			},
			Reason: func(Thresholds) string { return "已達使用上限" },
		},
		{
			Tier: TierUrgent,
			Matches: func(a Asset, now time.Time, th Thresholds) bool {
				return a.Deployed() && now.Sub(*a.OnDate) > time.Duration(th.DaysOnline)*24*time.Hour
			},
			Reason: func(th Thresholds) string { return "在線超過" + strconv.Itoa(th.DaysOnline) + "天" },
		},
		{
			Tier: TierWarning,
			Matches: func(a Asset, _ time.Time, th Thresholds) bool {
				ratio := a.UsageRatio()
				return ratio.Valid && ratio.Decimal.GreaterThanOrEqual(th.UsageRate) && a.Flag.Pending()
			},
			Reason: func(th Thresholds) string {
				return "使用率達" + th.UsageRate.Mul(decimal.NewFromInt(100)).String() + "%"
			},
		},
	}
}

// Classify assigns tier, reason and days online to one asset.
func Classify(a Asset, now time.Time, th Thresholds, rules []Rule) Asset {
	a.Tier, a.Reason = TierNormal, ""
	a.DaysOnline = nil
	if a.Deployed() {
		days := daysSince(now, *a.OnDate)
		a.DaysOnline = &days
	}
	for _, r := range rules {
		if r.Matches(a, now, th) {
			a.Tier, a.Reason = r.Tier, r.Reason(th)
			break
		}
	}
	return a
}

// Candidate reports whether an asset belongs in the digest: still deployed
// or never deployed, and not normal.
func Candidate(a Asset) bool {
	if a.OffDate != nil && a.OnDate != nil {
		return false
	}
	return a.Tier != TierNormal && a.Tier != ""
}

// rank orders tiers in the digest. Urgent sorts ahead of severe.
var rank = map[Tier]int{
	TierUrgent: 1,
	TierSevere: 2,
}

func rankOf(t Tier) int {
	if r, ok := rank[t]; ok {
		return r
	}
	return 3
}

// SortAssets orders the digest by tier rank, then usage ratio descending
// with unknown ratios last, then stencil number.
func SortAssets(assets []Asset) {
	sort.SliceStable(assets, func(i, j int) bool {
		ri, rj := rankOf(assets[i].Tier), rankOf(assets[j].Tier)
		if ri != rj {
			return ri < rj
		}
		ai, aj := assets[i].UsageRatio(), assets[j].UsageRatio()
		if ai.Valid != aj.Valid {
			return ai.Valid
		}
		if ai.Valid && !ai.Decimal.Equal(aj.Decimal) {
			return ai.Decimal.GreaterThan(aj.Decimal)
		}
		return assets[i].StencilNo < assets[j].StencilNo
	})
}

// Evaluate classifies, filters and orders assets.
func Evaluate(assets []Asset, now time.Time, th Thresholds) []Asset {
	rules := Rules()
	out := make([]Asset, 0, len(assets))
	for _, a := range assets {
		a = Classify(a, now, th, rules)
		if Candidate(a) {
			out = append(out, a)
		}
	}
	SortAssets(out)
	return out
}

// CountByTier tallies the digest per tier.
func CountByTier(assets []Asset) map[Tier]int {
	counts := make(map[Tier]int, 3)
	for _, a := range assets {
		counts[a.Tier]++
	}
	return counts
}

// NeedsFlag reports whether a notified asset should be marked as alerted.
func NeedsFlag(a Asset) bool {
	return a.Tier == TierWarning && a.Flag.Pending()
}
