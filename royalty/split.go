package royalty

// Split scales a title-level calculation to one co-author's share.
//
// Every royalty and advance figure is multiplied by percentage/100 exactly,
// so the shares of all co-authors add back to the title-level amounts and
// the net payable identity still holds on each share. Unit counts, revenue
// and rates are facts about the title and stay unscaled. The input is not
// modified.
func Split(title StatementCalculations, percentage Money) (StatementCalculations, error) {
	if !percentage.IsPositive() || percentage.GreaterThan(hundred) {
		return StatementCalculations{}, configErr("", -1, "ownership percentage %s must be in (0, 100]", percentage)
	}
	if title.IsSplit() {
		return StatementCalculations{}, &InvariantViolationError{
			Invariant: "split_once",
			Detail:    "calculation is already an author share",
		}
	}

	out := title.Clone()
	scale := func(m Money) Money { return m.Percent(percentage) }

	for i := range out.FormatBreakdowns {
		fb := &out.FormatBreakdowns[i]
		fb.FormatRoyalty = scale(fb.FormatRoyalty)
		for j := range fb.TierBreakdowns {
			fb.TierBreakdowns[j].RoyaltyEarned = scale(fb.TierBreakdowns[j].RoyaltyEarned)
		}
	}
	for i := range out.ReturnsBreakdowns {
		out.ReturnsBreakdowns[i].Deduction = scale(out.ReturnsBreakdowns[i].Deduction)
	}
	out.GrossRoyalty = scale(out.GrossRoyalty)
	out.ReturnsDeduction = scale(out.ReturnsDeduction)
	out.AdvanceRecoupment = AdvanceRecoupment{
		OriginalAdvance:       scale(title.AdvanceRecoupment.OriginalAdvance),
		PreviouslyRecouped:    scale(title.AdvanceRecoupment.PreviouslyRecouped),
		ThisPeriodsRecoupment: scale(title.AdvanceRecoupment.ThisPeriodsRecoupment),
		RemainingAdvance:      scale(title.AdvanceRecoupment.RemainingAdvance),
	}
	out.NetPayable = scale(out.NetPayable)
	out.SplitCalculation = &SplitCalculation{
		OwnershipPercentage: percentage,
		IsSplitCalculation:  true,
	}

	if err := out.CheckIdentity(); err != nil {
		return StatementCalculations{}, err
	}
	return out, nil
}
