package royalty

import "fmt"

// ComputeReturnsDeduction prices approved returns dated within the period at
// each format's effective royalty rate for that period:
//
//	rate      = formatRoyalty / formatRevenue
//	deduction = returnedValue x rate  (rounded to cents per format)
//
// A format with returns but no sales revenue in the period falls back to the
// rate of the tier at the window start (offsets, nil in Period mode).
// Pending and rejected returns never count.
func ComputeReturnsDeduction(c Contract, rows []ReturnRow, period Period, breakdowns []FormatBreakdown, offsets map[Format]int64) ([]ReturnsBreakdown, Money, error) {
	type acc struct {
		quantity int64
		value    Money
	}
	byFormat := map[Format]*acc{}
	var order []Format

	for i, r := range rows {
		if r.Status != ReturnApproved || !period.Contains(r.Date) {
			continue
		}
		if r.Quantity < 0 || r.Value.IsNegative() {
			return nil, Zero, fmt.Errorf("return row %d: quantity and value must not be negative", i)
		}
		a, ok := byFormat[r.Format]
		if !ok {
			a = &acc{value: Zero}
			byFormat[r.Format] = a
			order = append(order, r.Format)
		}
		a.quantity += r.Quantity
		a.value = a.value.Add(r.Value)
	}
	if len(order) == 0 {
		return nil, Zero, nil
	}

	sales := make(map[Format]FormatBreakdown, len(breakdowns))
	for _, b := range breakdowns {
		sales[b.Format] = b
	}

	SortFormats(order)
	total := Zero
	out := make([]ReturnsBreakdown, 0, len(order))
	for _, f := range order {
		a := byFormat[f]
		rate, err := effectiveRate(c, f, sales, offsets[f])
		if err != nil {
			return nil, Zero, err
		}
		deduction := a.value.Mul(rate).Round2()
		out = append(out, ReturnsBreakdown{
			Format:        f,
			Quantity:      a.quantity,
			ReturnedValue: a.value,
			RoyaltyRate:   rate,
			Deduction:     deduction,
		})
		total = total.Add(deduction)
	}
	return out, total, nil
}

func effectiveRate(c Contract, f Format, sales map[Format]FormatBreakdown, offset int64) (Money, error) {
	if b, ok := sales[f]; ok && b.TotalRevenue.IsPositive() {
		return b.FormatRoyalty.DivRound(b.TotalRevenue), nil
	}
	tiers := c.TiersFor(f)
	if len(tiers) == 0 {
		err := configErr(f, -1, "returns recorded for a format with no tiers")
		err.ContractID = c.ID
		return Zero, err
	}
	t, ok := TierAt(tiers, offset)
	if !ok {
		return Zero, withContract(configErr(f, -1, "no tier contains %d units", offset), c.ID)
	}
	return t.Rate, nil
}
