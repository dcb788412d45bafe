/*
tiers.go - Progressive tier resolution

PURPOSE:
  Splits a window of units across a format's rate tiers and prices each slice.
  This is the algorithmic heart of the engine.

WINDOW:
  The window is [Start, End) in cumulative units.
  - Period mode:   Start = 0, End = period quantity
  - Lifetime mode: Start = units sold in finalized prior periods,
                   End = Start + period quantity
  A Lifetime window can legitimately straddle a tier boundary, which is how
  an author's rate escalates permanently mid-period.

PRICING:
  averageUnitPrice = periodRevenue / periodQuantity   (computed once)
  royaltyEarned    = quantityInTier x tierRate x averageUnitPrice (rounded to cents)

TIER RULES (enforced, never repaired):
  - first tier starts at 0
  - tiers are contiguous: tier[i].max == tier[i+1].min
  - only the last tier is unbounded, and it must be
  - rate in [0, 1]

EXAMPLE:
  tiers [0,100)@0.10, [100,inf)@0.15; window [0,150); revenue 3000
  average price 20 -> 100 x 0.10 x 20 = 200.00, 50 x 0.15 x 20 = 150.00
*/
package royalty

import (
	"fmt"
	"sort"
)

var one = MoneyFromInt(1)

// QuantityWindow is the half-open unit range [Start, End).
type QuantityWindow struct {
	Start int64
	End   int64
}

// NewWindow builds the window for a period of quantity units starting at offset.
func NewWindow(offset, quantity int64) QuantityWindow {
	return QuantityWindow{Start: offset, End: offset + quantity}
}

// Len returns the number of units in the window.
func (w QuantityWindow) Len() int64 { return w.End - w.Start }

// TierResolution is the result of resolving one format's window.
type TierResolution struct {
	Breakdowns       []TierBreakdown
	Royalty          Money
	AverageUnitPrice Money
}

func sortTiers(tiers []RoyaltyTier) {
	sort.SliceStable(tiers, func(i, j int) bool {
		return tiers[i].MinQuantity < tiers[j].MinQuantity
	})
}

// ValidateTiers checks a single format's tier list. The list may be unsorted;
// indices in errors refer to ascending MinQuantity order.
func ValidateTiers(format Format, tiers []RoyaltyTier) error {
	if len(tiers) == 0 {
		return configErr(format, -1, "no tiers configured")
	}
	sorted := append([]RoyaltyTier(nil), tiers...)
	sortTiers(sorted)

	for i, t := range sorted {
		if t.Format != format {
			return configErr(format, i, "tier belongs to format %s", t.Format)
		}
		if t.MinQuantity < 0 {
			return configErr(format, i, "minQuantity %d is negative", t.MinQuantity)
		}
		if t.Rate.IsNegative() || t.Rate.GreaterThan(one) {
			return configErr(format, i, "rate %s outside [0, 1]", t.Rate)
		}
		if t.MaxQuantity != nil && *t.MaxQuantity <= t.MinQuantity {
			return configErr(format, i, "maxQuantity %d must exceed minQuantity %d", *t.MaxQuantity, t.MinQuantity)
		}
		if i == 0 {
			if t.MinQuantity != 0 {
				return configErr(format, i, "first tier starts at %d, expected 0", t.MinQuantity)
			}
			continue
		}
		prev := sorted[i-1]
		switch {
		case prev.MaxQuantity == nil:
			return configErr(format, i-1, "unbounded tier starting at %d is not the last tier", prev.MinQuantity)
		case *prev.MaxQuantity > t.MinQuantity:
			return configErr(format, i, "tier starting at %d overlaps previous tier ending at %d", t.MinQuantity, *prev.MaxQuantity)
		case *prev.MaxQuantity < t.MinQuantity:
			return configErr(format, i, "gap between %d and %d", *prev.MaxQuantity, t.MinQuantity)
		}
	}
	if last := sorted[len(sorted)-1]; last.MaxQuantity != nil {
		return configErr(format, len(sorted)-1, "last tier must be unbounded, ends at %d", *last.MaxQuantity)
	}
	return nil
}

// ResolveTiers prices the window across tiers. Tiers are validated first and
// a malformed list fails fast. Only tiers the window touches are returned.
func ResolveTiers(tiers []RoyaltyTier, window QuantityWindow, periodRevenue Money) (TierResolution, error) {
	if len(tiers) > 0 {
		if err := ValidateTiers(tiers[0].Format, tiers); err != nil {
			return TierResolution{}, err
		}
	}
	if window.Start < 0 || window.Len() < 0 {
		return TierResolution{}, &InvariantViolationError{
			Invariant: "tier_window",
			Detail:    fmt.Sprintf("window [%d, %d) is malformed", window.Start, window.End),
		}
	}

	res := TierResolution{Breakdowns: []TierBreakdown{}, Royalty: Zero}
	quantity := window.Len()
	if quantity == 0 {
		return res, nil
	}

	sorted := append([]RoyaltyTier(nil), tiers...)
	sortTiers(sorted)
	res.AverageUnitPrice = periodRevenue.DivRound(MoneyFromInt(quantity))

	for _, t := range sorted {
		overlap := tierOverlap(t, window)
		if overlap <= 0 {
			continue
		}
		earned := t.Rate.MulInt(overlap).Mul(res.AverageUnitPrice).Round2()
		res.Breakdowns = append(res.Breakdowns, TierBreakdown{
			TierMinQuantity: t.MinQuantity,
			TierMaxQuantity: copyInt64(t.MaxQuantity),
			TierRate:        t.Rate,
			QuantityInTier:  overlap,
			RoyaltyEarned:   earned,
		})
		res.Royalty = res.Royalty.Add(earned)
	}

	var covered int64
	for _, b := range res.Breakdowns {
		covered += b.QuantityInTier
	}
	if covered != quantity {
		return TierResolution{}, &InvariantViolationError{
			Invariant: "tier_coverage",
			Detail:    fmt.Sprintf("tiers cover %d of %d units", covered, quantity),
		}
	}
	return res, nil
}

// tierOverlap is the length of [tier.min, tier.max) intersected with the window.
func tierOverlap(t RoyaltyTier, w QuantityWindow) int64 {
	lo := max(w.Start, t.MinQuantity)
	hi := w.End
	if t.MaxQuantity != nil {
		hi = min(hi, *t.MaxQuantity)
	}
	return hi - lo
}

// TierAt returns the tier containing the given cumulative unit count.
func TierAt(tiers []RoyaltyTier, units int64) (RoyaltyTier, bool) {
	for _, t := range tiers {
		if t.Contains(units) {
			return t, true
		}
	}
	return RoyaltyTier{}, false
}

func copyInt64(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func int64Ptr(v int64) *int64 { return &v }
