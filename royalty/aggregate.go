package royalty

import "fmt"

// PeriodSalesSummary is one format's sales roll-up for a period.
type PeriodSalesSummary struct {
	Format        Format `json:"format"`
	TotalQuantity int64  `json:"totalQuantity"`
	TotalRevenue  Money  `json:"totalRevenue"`
}

// AggregateSales sums sales rows dated inside the period per format.
// Formats with no units and no revenue are omitted. Output is in canonical
// format order.
func AggregateSales(rows []SaleRow, period Period) ([]PeriodSalesSummary, error) {
	byFormat := map[Format]*PeriodSalesSummary{}
	var order []Format

	for i, r := range rows {
		if !period.Contains(r.SaleDate) {
			continue
		}
		if r.Quantity < 0 {
			return nil, fmt.Errorf("sale row %d: negative quantity %d", i, r.Quantity)
		}
		rev := r.RowRevenue()
		if rev.IsNegative() {
			return nil, fmt.Errorf("sale row %d: negative revenue %s", i, rev)
		}
		s, ok := byFormat[r.Format]
		if !ok {
			s = &PeriodSalesSummary{Format: r.Format, TotalRevenue: Zero}
			byFormat[r.Format] = s
			order = append(order, r.Format)
		}
		s.TotalQuantity += r.Quantity
		s.TotalRevenue = s.TotalRevenue.Add(rev)
	}

	SortFormats(order)
	out := make([]PeriodSalesSummary, 0, len(order))
	for _, f := range order {
		s := byFormat[f]
		if s.TotalQuantity == 0 && s.TotalRevenue.IsZero() {
			continue
		}
		out = append(out, *s)
	}
	return out, nil
}

// BuildFormatBreakdowns runs the tier resolver for each summary. offsets
// holds lifetime units before the period per format; it is nil in Period mode.
func BuildFormatBreakdowns(c Contract, sales []PeriodSalesSummary, offsets map[Format]int64) ([]FormatBreakdown, Money, error) {
	gross := Zero
	out := make([]FormatBreakdown, 0, len(sales))
	for _, s := range sales {
		tiers := c.TiersFor(s.Format)
		if len(tiers) == 0 {
			err := configErr(s.Format, -1, "sales recorded for a format with no tiers")
			err.ContractID = c.ID
			return nil, Zero, err
		}
		res, err := ResolveTiers(tiers, NewWindow(offsets[s.Format], s.TotalQuantity), s.TotalRevenue)
		if err != nil {
			return nil, Zero, withContract(err, c.ID)
		}
		out = append(out, FormatBreakdown{
			Format:         s.Format,
			TotalQuantity:  s.TotalQuantity,
			TotalRevenue:   s.TotalRevenue,
			TierBreakdowns: res.Breakdowns,
			FormatRoyalty:  res.Royalty,
		})
		gross = gross.Add(res.Royalty)
	}
	return out, gross, nil
}
