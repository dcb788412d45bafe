/*
composer.go - Statement composition

PURPOSE:
  Runs the calculation pipeline for one contract and period and returns an
  immutable StatementCalculations. Pure: no I/O, no clock, no randomness.

PIPELINE:
  1. Validate contract (tiers per format, mode, advance, ownership)
  2. Aggregate sales per format            (aggregate.go)
  3. Resolve tiers per format              (tiers.go)
  4. Deduct approved returns               (returns.go)
  5. Recoup the advance                    (recoupment.go)
  6. netPayable = grossRoyalty - returnsDeduction - thisPeriodsRecoupment
  7. Lifetime context (Lifetime mode only)
  8. Split per co-author                   (split.go)

CHECKS BEFORE RETURNING:
  - Every format's tier rows cover exactly its period quantity
  - The net payable identity holds exactly
  Either failure is an InvariantViolationError, never a repaired value.
*/
package royalty

import "fmt"

// StatementInput is everything the composer needs, as plain data.
type StatementInput struct {
	Contract Contract
	Period   Period
	Sales    []SaleRow
	Returns  []ReturnRow

	// Lifetime holds units sold in finalized periods before this one.
	// Ignored in Period mode.
	Lifetime []LifetimeSalesSnapshot
}

// AuthorCalculations is one author's statement content.
type AuthorCalculations struct {
	AuthorID     AuthorID
	Percentage   *Money // nil for a sole author
	Calculations StatementCalculations
}

// Compose computes the title-level statement for the contract and period.
func Compose(in StatementInput) (StatementCalculations, error) {
	c := in.Contract
	if in.Period.EndDate.Before(in.Period.StartDate) {
		return StatementCalculations{}, ErrInvalidPeriod
	}
	if err := c.Validate(); err != nil {
		return StatementCalculations{}, err
	}

	offsets, err := lifetimeOffsets(c, in.Lifetime)
	if err != nil {
		return StatementCalculations{}, err
	}

	sales, err := AggregateSales(in.Sales, in.Period)
	if err != nil {
		return StatementCalculations{}, err
	}
	breakdowns, gross, err := BuildFormatBreakdowns(c, sales, offsets)
	if err != nil {
		return StatementCalculations{}, err
	}
	if err := checkCoverage(breakdowns); err != nil {
		return StatementCalculations{}, err
	}

	returns, deduction, err := ComputeReturnsDeduction(c, in.Returns, in.Period, breakdowns, offsets)
	if err != nil {
		return StatementCalculations{}, err
	}

	available := gross.Sub(deduction)
	recoupment, err := NewRecoupmentTracker(c).Compute(available)
	if err != nil {
		return StatementCalculations{}, err
	}

	calc := StatementCalculations{
		Period:            in.Period,
		FormatBreakdowns:  breakdowns,
		ReturnsBreakdowns: returns,
		ReturnsDeduction:  deduction,
		GrossRoyalty:      gross,
		AdvanceRecoupment: recoupment,
		NetPayable:        available.Sub(recoupment.ThisPeriodsRecoupment),
	}
	if c.TierCalculationMode == ModeLifetime {
		calc.LifetimeContext = buildLifetimeContext(c, breakdowns, offsets)
	}

	if err := calc.CheckIdentity(); err != nil {
		return StatementCalculations{}, err
	}
	return calc, nil
}

// ComposeForAuthors computes the title-level statement and one statement per
// author. A sole author gets the title-level calculation unchanged; co-authors
// each get a Split share in ownership order.
func ComposeForAuthors(in StatementInput) (StatementCalculations, []AuthorCalculations, error) {
	title, err := Compose(in)
	if err != nil {
		return StatementCalculations{}, nil, err
	}

	c := in.Contract
	if !c.IsCoAuthored() {
		return title, []AuthorCalculations{{AuthorID: c.Authors()[0], Calculations: title}}, nil
	}

	out := make([]AuthorCalculations, 0, len(c.Ownership))
	for _, share := range c.Ownership {
		calc, err := Split(title, share.Percentage)
		if err != nil {
			return StatementCalculations{}, nil, withContract(err, c.ID)
		}
		pct := share.Percentage
		out = append(out, AuthorCalculations{AuthorID: share.AuthorID, Percentage: &pct, Calculations: calc})
	}
	return title, out, nil
}

func lifetimeOffsets(c Contract, snapshots []LifetimeSalesSnapshot) (map[Format]int64, error) {
	if c.TierCalculationMode != ModeLifetime {
		return nil, nil
	}
	offsets := make(map[Format]int64, len(snapshots))
	for _, s := range snapshots {
		if s.UnitsBeforePeriod < 0 {
			return nil, fmt.Errorf("lifetime units for %s are negative: %d", s.Format, s.UnitsBeforePeriod)
		}
		offsets[s.Format] += s.UnitsBeforePeriod
	}
	return offsets, nil
}

func checkCoverage(breakdowns []FormatBreakdown) error {
	for _, fb := range breakdowns {
		var covered int64
		for _, tb := range fb.TierBreakdowns {
			covered += tb.QuantityInTier
		}
		if covered != fb.TotalQuantity {
			return &InvariantViolationError{
				Invariant: "tier_coverage",
				Detail:    fmt.Sprintf("%s tiers cover %d of %d units", fb.Format, covered, fb.TotalQuantity),
			}
		}
	}
	return nil
}

// buildLifetimeContext reports the tier position after this period for every
// format with tiers. The top-level tier fields follow the format with the most
// lifetime units, ties going to canonical order.
func buildLifetimeContext(c Contract, breakdowns []FormatBreakdown, offsets map[Format]int64) *LifetimeContext {
	sold := make(map[Format]int64, len(breakdowns))
	for _, fb := range breakdowns {
		sold[fb.Format] = fb.TotalQuantity
	}

	lc := &LifetimeContext{TierCalculationMode: ModeLifetime, CurrentTierRate: Zero}
	primary := -1
	for _, f := range c.Formats() {
		before := offsets[f]
		after := before + sold[f]
		fc := FormatLifetimeContext{
			Format:              f,
			LifetimeSalesBefore: before,
			LifetimeSalesAfter:  after,
			CurrentTierRate:     Zero,
		}
		if t, ok := TierAt(c.TiersFor(f), after); ok {
			fc.CurrentTierRate = t.Rate
			if !t.Unbounded() {
				fc.NextTierThreshold = int64Ptr(*t.MaxQuantity)
				fc.UnitsToNextTier = int64Ptr(*t.MaxQuantity - after)
			}
		}
		lc.LifetimeSalesBefore += before
		lc.LifetimeSalesAfter += after
		lc.Formats = append(lc.Formats, fc)
		if primary < 0 || after > lc.Formats[primary].LifetimeSalesAfter {
			primary = len(lc.Formats) - 1
		}
	}
	if primary >= 0 {
		p := lc.Formats[primary]
		lc.CurrentTierRate = p.CurrentTierRate
		lc.NextTierThreshold = copyInt64(p.NextTierThreshold)
		lc.UnitsToNextTier = copyInt64(p.UnitsToNextTier)
	}
	return lc
}
