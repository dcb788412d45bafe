package royalty_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/royalty-engine/royalty"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func h1() royalty.Period {
	return royalty.Period{
		StartDate: royalty.NewDate(2025, time.January, 1),
		EndDate:   royalty.NewDate(2025, time.June, 30),
	}
}

func h2() royalty.Period {
	return royalty.Period{
		StartDate: royalty.NewDate(2025, time.July, 1),
		EndDate:   royalty.NewDate(2025, time.December, 31),
	}
}

func sale(f royalty.Format, qty int64, revenue string, d royalty.Date) royalty.SaleRow {
	rev := m(revenue)
	return royalty.SaleRow{Format: f, Quantity: qty, Revenue: &rev, SaleDate: d}
}

func approvedReturn(f royalty.Format, qty int64, value string, d royalty.Date) royalty.ReturnRow {
	return royalty.ReturnRow{Format: f, Quantity: qty, Value: m(value), Date: d, Status: royalty.ReturnApproved}
}

func newContract(mode royalty.TierCalculationMode, tiers ...royalty.RoyaltyTier) royalty.Contract {
	return royalty.Contract{
		ID:                        "c-1",
		TenantID:                  "tenant-1",
		AuthorID:                  "author-1",
		TitleID:                   "title-1",
		TierCalculationMode:       mode,
		AdvanceAmount:             royalty.Zero,
		AdvancePreviouslyRecouped: royalty.Zero,
		Tiers:                     tiers,
	}
}

func flatPhysical(rate string) royalty.RoyaltyTier {
	return tier(royalty.FormatPhysical, 0, nil, rate)
}

func march(day int) royalty.Date { return royalty.NewDate(2025, time.March, day) }

func requireIdentity(t *testing.T, calc royalty.StatementCalculations) {
	t.Helper()
	expected := calc.GrossRoyalty.Sub(calc.ReturnsDeduction).Sub(calc.AdvanceRecoupment.ThisPeriodsRecoupment)
	require.True(t, expected.Equal(calc.NetPayable), "net %s != %s", calc.NetPayable, expected)
}

// =============================================================================
// SCENARIOS
// =============================================================================

func TestCompose_ScenarioA_SingleFormatSingleTier(t *testing.T) {
	// GIVEN: 100 physical units for 2500.00 at a flat 10%
	in := royalty.StatementInput{
		Contract: newContract(royalty.ModePeriod, flatPhysical("0.10")),
		Period:   h1(),
		Sales:    []royalty.SaleRow{sale(royalty.FormatPhysical, 100, "2500.00", march(3))},
	}

	// WHEN: composing the statement
	calc, err := royalty.Compose(in)
	require.NoError(t, err)

	// THEN: formatRoyalty = 250.00 and everything is payable
	require.Len(t, calc.FormatBreakdowns, 1)
	fb := calc.FormatBreakdowns[0]
	assert.Equal(t, royalty.FormatPhysical, fb.Format)
	assert.Equal(t, int64(100), fb.TotalQuantity)
	assert.True(t, fb.FormatRoyalty.Equal(m("250.00")))
	assert.True(t, calc.GrossRoyalty.Equal(m("250.00")))
	assert.True(t, calc.NetPayable.Equal(m("250.00")))
	assert.Nil(t, calc.LifetimeContext)
	assert.Nil(t, calc.SplitCalculation)
	requireIdentity(t, calc)
}

func TestCompose_ScenarioB_TwoTiersPeriodMode(t *testing.T) {
	// GIVEN: 150 physical units, average price 20.00
	in := royalty.StatementInput{
		Contract: newContract(royalty.ModePeriod, twoTier(royalty.FormatPhysical)...),
		Period:   h1(),
		Sales: []royalty.SaleRow{
			sale(royalty.FormatPhysical, 90, "1800", march(1)),
			sale(royalty.FormatPhysical, 60, "1200", march(20)),
		},
	}

	calc, err := royalty.Compose(in)
	require.NoError(t, err)

	// THEN: price x 100 x 0.10 and price x 50 x 0.15
	tb := calc.FormatBreakdowns[0].TierBreakdowns
	require.Len(t, tb, 2)
	assert.Equal(t, int64(100), tb[0].QuantityInTier)
	assert.True(t, tb[0].RoyaltyEarned.Equal(m("200.00")))
	assert.Equal(t, int64(50), tb[1].QuantityInTier)
	assert.True(t, tb[1].RoyaltyEarned.Equal(m("150.00")))
	assert.True(t, calc.GrossRoyalty.Equal(m("350.00")))
	requireIdentity(t, calc)
}

func TestCompose_ScenarioB_PeriodModeIgnoresLifetime(t *testing.T) {
	// GIVEN: a Period-mode contract with prior sales reported
	in := royalty.StatementInput{
		Contract: newContract(royalty.ModePeriod, twoTier(royalty.FormatPhysical)...),
		Period:   h2(),
		Sales:    []royalty.SaleRow{sale(royalty.FormatPhysical, 150, "3000", royalty.NewDate(2025, time.August, 1))},
		Lifetime: []royalty.LifetimeSalesSnapshot{{Format: royalty.FormatPhysical, UnitsBeforePeriod: 10_000}},
	}

	calc, err := royalty.Compose(in)
	require.NoError(t, err)

	// THEN: tiers reset to zero each period
	assert.True(t, calc.GrossRoyalty.Equal(m("350.00")))
	assert.Nil(t, calc.LifetimeContext)
}

func TestCompose_ScenarioC_LifetimeReachesBoundaryAtPeriodEnd(t *testing.T) {
	// GIVEN: 4500 lifetime units, boundary at 5000 (0.10 -> 0.12), 500 more sold
	c := newContract(royalty.ModeLifetime,
		tier(royalty.FormatPhysical, 0, bound(5000), "0.10"),
		tier(royalty.FormatPhysical, 5000, nil, "0.12"),
	)
	in := royalty.StatementInput{
		Contract: c,
		Period:   h1(),
		Sales:    []royalty.SaleRow{sale(royalty.FormatPhysical, 500, "10000", march(10))},
		Lifetime: []royalty.LifetimeSalesSnapshot{{Format: royalty.FormatPhysical, UnitsBeforePeriod: 4500}},
	}

	calc, err := royalty.Compose(in)
	require.NoError(t, err)

	// THEN: all 500 units earn 10%, and the next sale earns 12%
	tb := calc.FormatBreakdowns[0].TierBreakdowns
	require.Len(t, tb, 1)
	assert.Equal(t, int64(500), tb[0].QuantityInTier)
	assert.True(t, tb[0].RoyaltyEarned.Equal(m("1000.00")))

	lc := calc.LifetimeContext
	require.NotNil(t, lc)
	assert.Equal(t, royalty.ModeLifetime, lc.TierCalculationMode)
	assert.Equal(t, int64(4500), lc.LifetimeSalesBefore)
	assert.Equal(t, int64(5000), lc.LifetimeSalesAfter)
	assert.True(t, lc.CurrentTierRate.Equal(m("0.12")))
	assert.Nil(t, lc.NextTierThreshold)
	assert.Nil(t, lc.UnitsToNextTier)
	requireIdentity(t, calc)
}

func TestCompose_LifetimeCrossesBoundaryMidPeriod(t *testing.T) {
	// GIVEN: 4800 lifetime units and 500 sold at 20.00
	c := newContract(royalty.ModeLifetime,
		tier(royalty.FormatPhysical, 0, bound(5000), "0.10"),
		tier(royalty.FormatPhysical, 5000, bound(10000), "0.12"),
		tier(royalty.FormatPhysical, 10000, nil, "0.15"),
	)
	in := royalty.StatementInput{
		Contract: c,
		Period:   h1(),
		Sales:    []royalty.SaleRow{sale(royalty.FormatPhysical, 500, "10000", march(10))},
		Lifetime: []royalty.LifetimeSalesSnapshot{{Format: royalty.FormatPhysical, UnitsBeforePeriod: 4800}},
	}

	calc, err := royalty.Compose(in)
	require.NoError(t, err)

	// THEN: 200 at 10% and 300 at 12%
	tb := calc.FormatBreakdowns[0].TierBreakdowns
	require.Len(t, tb, 2)
	assert.Equal(t, int64(200), tb[0].QuantityInTier)
	assert.True(t, tb[0].RoyaltyEarned.Equal(m("400.00")))
	assert.Equal(t, int64(300), tb[1].QuantityInTier)
	assert.True(t, tb[1].RoyaltyEarned.Equal(m("720.00")))

	lc := calc.LifetimeContext
	require.NotNil(t, lc)
	assert.Equal(t, int64(5300), lc.LifetimeSalesAfter)
	assert.True(t, lc.CurrentTierRate.Equal(m("0.12")))
	require.NotNil(t, lc.NextTierThreshold)
	assert.Equal(t, int64(10000), *lc.NextTierThreshold)
	require.NotNil(t, lc.UnitsToNextTier)
	assert.Equal(t, int64(4700), *lc.UnitsToNextTier)
}

func TestCompose_ScenarioD_AdvancePartiallyRecouped(t *testing.T) {
	// GIVEN: advance 1000.00 with 600.00 recouped, 250.00 available this period
	c := newContract(royalty.ModePeriod, flatPhysical("0.10"))
	c.AdvanceAmount = m("1000.00")
	c.AdvancePreviouslyRecouped = m("600.00")
	in := royalty.StatementInput{
		Contract: c,
		Period:   h1(),
		Sales:    []royalty.SaleRow{sale(royalty.FormatPhysical, 100, "2500.00", march(3))},
	}

	calc, err := royalty.Compose(in)
	require.NoError(t, err)

	// THEN: all 250.00 goes to the advance
	ar := calc.AdvanceRecoupment
	assert.True(t, ar.OriginalAdvance.Equal(m("1000.00")))
	assert.True(t, ar.PreviouslyRecouped.Equal(m("600.00")))
	assert.True(t, ar.ThisPeriodsRecoupment.Equal(m("250.00")))
	assert.True(t, ar.RemainingAdvance.Equal(m("150.00")))
	assert.True(t, calc.NetPayable.IsZero())
	requireIdentity(t, calc)
}

func TestComposeForAuthors_ScenarioE_SixtyForty(t *testing.T) {
	// GIVEN: a 60/40 title whose unsplit net payable is 1000.00
	c := newContract(royalty.ModePeriod, flatPhysical("0.10"))
	c.Ownership = []royalty.OwnershipShare{
		{AuthorID: "author-a", Percentage: m("60")},
		{AuthorID: "author-b", Percentage: m("40")},
	}
	in := royalty.StatementInput{
		Contract: c,
		Period:   h1(),
		Sales:    []royalty.SaleRow{sale(royalty.FormatPhysical, 400, "10000", march(3))},
	}

	title, authors, err := royalty.ComposeForAuthors(in)
	require.NoError(t, err)
	require.True(t, title.NetPayable.Equal(m("1000.00")))

	// THEN: 600.00 and 400.00, each flagged as a split
	require.Len(t, authors, 2)
	assert.Equal(t, royalty.AuthorID("author-a"), authors[0].AuthorID)
	assert.True(t, authors[0].Calculations.NetPayable.Equal(m("600.00")))
	assert.Equal(t, royalty.AuthorID("author-b"), authors[1].AuthorID)
	assert.True(t, authors[1].Calculations.NetPayable.Equal(m("400.00")))

	for _, a := range authors {
		require.NotNil(t, a.Calculations.SplitCalculation)
		assert.True(t, a.Calculations.SplitCalculation.IsSplitCalculation)
		assert.True(t, a.Calculations.SplitCalculation.OwnershipPercentage.Equal(*a.Percentage))
		assert.Equal(t, int64(400), a.Calculations.FormatBreakdowns[0].TotalQuantity, "quantities are not split")
		requireIdentity(t, a.Calculations)
	}

	// The title-level result is untouched
	assert.Nil(t, title.SplitCalculation)
}

func TestComposeForAuthors_SoleAuthorHasNoSplit(t *testing.T) {
	in := royalty.StatementInput{
		Contract: newContract(royalty.ModePeriod, flatPhysical("0.10")),
		Period:   h1(),
		Sales:    []royalty.SaleRow{sale(royalty.FormatPhysical, 100, "2500", march(3))},
	}

	_, authors, err := royalty.ComposeForAuthors(in)
	require.NoError(t, err)
	require.Len(t, authors, 1)
	assert.Equal(t, royalty.AuthorID("author-1"), authors[0].AuthorID)
	assert.Nil(t, authors[0].Percentage)
	assert.Nil(t, authors[0].Calculations.SplitCalculation)
}

// =============================================================================
// FORMATS AND RETURNS
// =============================================================================

func TestCompose_MultipleFormats_CanonicalOrderAndZeroActivityOmitted(t *testing.T) {
	// GIVEN: ebook and physical sales, audiobook tiers with no sales
	c := newContract(royalty.ModePeriod,
		flatPhysical("0.10"),
		tier(royalty.FormatEbook, 0, nil, "0.25"),
		tier(royalty.FormatAudiobook, 0, nil, "0.20"),
	)
	in := royalty.StatementInput{
		Contract: c,
		Period:   h1(),
		Sales: []royalty.SaleRow{
			sale(royalty.FormatEbook, 40, "400", march(2)),
			sale(royalty.FormatPhysical, 10, "200", march(2)),
			sale(royalty.FormatAudiobook, 0, "0", march(2)),
		},
	}

	calc, err := royalty.Compose(in)
	require.NoError(t, err)

	// THEN: physical before ebook, no audiobook row
	require.Len(t, calc.FormatBreakdowns, 2)
	assert.Equal(t, royalty.FormatPhysical, calc.FormatBreakdowns[0].Format)
	assert.Equal(t, royalty.FormatEbook, calc.FormatBreakdowns[1].Format)
	assert.True(t, calc.GrossRoyalty.Equal(m("120.00")))
}

func TestCompose_UnitPriceRows(t *testing.T) {
	price := m("12.50")
	in := royalty.StatementInput{
		Contract: newContract(royalty.ModePeriod, flatPhysical("0.10")),
		Period:   h1(),
		Sales:    []royalty.SaleRow{{Format: royalty.FormatPhysical, Quantity: 8, UnitPrice: &price, SaleDate: march(4)}},
	}

	calc, err := royalty.Compose(in)
	require.NoError(t, err)
	assert.True(t, calc.FormatBreakdowns[0].TotalRevenue.Equal(m("100")))
	assert.True(t, calc.GrossRoyalty.Equal(m("10.00")))
}

func TestCompose_SalesOutsidePeriodIgnored(t *testing.T) {
	in := royalty.StatementInput{
		Contract: newContract(royalty.ModePeriod, flatPhysical("0.10")),
		Period:   h1(),
		Sales: []royalty.SaleRow{
			sale(royalty.FormatPhysical, 100, "2500", march(3)),
			sale(royalty.FormatPhysical, 999, "9999", royalty.NewDate(2025, time.July, 1)),
		},
	}

	calc, err := royalty.Compose(in)
	require.NoError(t, err)
	assert.Equal(t, int64(100), calc.TotalQuantity())
}

func TestCompose_ReturnsDeduction(t *testing.T) {
	// GIVEN: 250.00 physical royalty at an effective 10%, and returns
	c := newContract(royalty.ModePeriod, flatPhysical("0.10"), tier(royalty.FormatEbook, 0, nil, "0.25"))
	pending := approvedReturn(royalty.FormatPhysical, 50, "1000", march(15))
	pending.Status = royalty.ReturnPending
	in := royalty.StatementInput{
		Contract: c,
		Period:   h1(),
		Sales:    []royalty.SaleRow{sale(royalty.FormatPhysical, 100, "2500", march(3))},
		Returns: []royalty.ReturnRow{
			approvedReturn(royalty.FormatPhysical, 8, "200", march(10)),
			pending,
			approvedReturn(royalty.FormatPhysical, 8, "200", royalty.NewDate(2024, time.December, 31)),
			approvedReturn(royalty.FormatEbook, 4, "40", march(11)),
		},
	}

	calc, err := royalty.Compose(in)
	require.NoError(t, err)

	// THEN: 200 x 10% for physical, 40 x 25% (tier rate) for ebook
	require.Len(t, calc.ReturnsBreakdowns, 2)
	assert.True(t, calc.ReturnsBreakdowns[0].Deduction.Equal(m("20.00")))
	assert.True(t, calc.ReturnsBreakdowns[1].Deduction.Equal(m("10.00")))
	assert.True(t, calc.ReturnsDeduction.Equal(m("30.00")))
	assert.True(t, calc.NetPayable.Equal(m("220.00")))
	requireIdentity(t, calc)
}

func TestCompose_ReturnsExceedRoyalty_NoRecoupmentNegativeNet(t *testing.T) {
	// GIVEN: returns larger than the period's royalty and an open advance
	c := newContract(royalty.ModePeriod, flatPhysical("0.10"))
	c.AdvanceAmount = m("500")
	in := royalty.StatementInput{
		Contract: c,
		Period:   h1(),
		Sales:    []royalty.SaleRow{sale(royalty.FormatPhysical, 10, "100", march(3))},
		Returns:  []royalty.ReturnRow{approvedReturn(royalty.FormatPhysical, 30, "300", march(9))},
	}

	calc, err := royalty.Compose(in)
	require.NoError(t, err)

	// THEN: nothing is recouped and the negative balance is carried in net
	assert.True(t, calc.AdvanceRecoupment.ThisPeriodsRecoupment.IsZero())
	assert.True(t, calc.AdvanceRecoupment.RemainingAdvance.Equal(m("500")))
	assert.True(t, calc.NetPayable.Equal(m("-20.00")))
	requireIdentity(t, calc)
}

// =============================================================================
// FAILURE MODES
// =============================================================================

func TestCompose_MalformedTiers_ConfigurationError(t *testing.T) {
	c := newContract(royalty.ModePeriod,
		tier(royalty.FormatPhysical, 0, bound(100), "0.10"),
		tier(royalty.FormatPhysical, 150, nil, "0.15"),
	)
	_, err := royalty.Compose(royalty.StatementInput{
		Contract: c,
		Period:   h1(),
		Sales:    []royalty.SaleRow{sale(royalty.FormatPhysical, 10, "100", march(3))},
	})

	var cfg *royalty.ConfigurationError
	require.ErrorAs(t, err, &cfg)
	assert.Equal(t, royalty.ContractID("c-1"), cfg.ContractID)
	assert.Equal(t, royalty.FormatPhysical, cfg.Format)
	assert.Equal(t, 1, cfg.TierIndex)
}

func TestCompose_SalesForFormatWithoutTiers(t *testing.T) {
	_, err := royalty.Compose(royalty.StatementInput{
		Contract: newContract(royalty.ModePeriod, flatPhysical("0.10")),
		Period:   h1(),
		Sales:    []royalty.SaleRow{sale(royalty.FormatAudiobook, 10, "100", march(3))},
	})
	assert.True(t, royalty.IsConfiguration(err))
}

func TestCompose_OwnershipMustSumToHundred(t *testing.T) {
	c := newContract(royalty.ModePeriod, flatPhysical("0.10"))
	c.Ownership = []royalty.OwnershipShare{
		{AuthorID: "a", Percentage: m("60")},
		{AuthorID: "b", Percentage: m("30")},
	}
	_, _, err := royalty.ComposeForAuthors(royalty.StatementInput{
		Contract: c,
		Period:   h1(),
		Sales:    []royalty.SaleRow{sale(royalty.FormatPhysical, 10, "100", march(3))},
	})
	assert.True(t, royalty.IsConfiguration(err))
}

func TestCompose_InvalidPeriod(t *testing.T) {
	_, err := royalty.Compose(royalty.StatementInput{
		Contract: newContract(royalty.ModePeriod, flatPhysical("0.10")),
		Period:   royalty.Period{StartDate: march(10), EndDate: march(1)},
	})
	assert.ErrorIs(t, err, royalty.ErrInvalidPeriod)
}

// =============================================================================
// PROPERTIES
// =============================================================================

func TestCompose_Idempotent(t *testing.T) {
	// GIVEN: the same inputs, once with rows shuffled
	c := newContract(royalty.ModeLifetime, twoTier(royalty.FormatPhysical)...)
	c.Tiers = append(c.Tiers, tier(royalty.FormatEbook, 0, nil, "0.25"))
	c.AdvanceAmount = m("75")
	rows := []royalty.SaleRow{
		sale(royalty.FormatPhysical, 33, "412.17", march(1)),
		sale(royalty.FormatEbook, 7, "48.93", march(2)),
		sale(royalty.FormatPhysical, 81, "1013.01", march(5)),
	}
	shuffled := []royalty.SaleRow{rows[2], rows[1], rows[0]}
	lifetime := []royalty.LifetimeSalesSnapshot{{Format: royalty.FormatPhysical, UnitsBeforePeriod: 40}}

	first, err := royalty.Compose(royalty.StatementInput{Contract: c, Period: h1(), Sales: rows, Lifetime: lifetime})
	require.NoError(t, err)
	second, err := royalty.Compose(royalty.StatementInput{Contract: c, Period: h1(), Sales: shuffled, Lifetime: lifetime})
	require.NoError(t, err)

	// THEN: byte-identical output
	a, err := first.MarshalCanonical()
	require.NoError(t, err)
	b, err := second.MarshalCanonical()
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestCompose_IdentityAndRecoupmentBound(t *testing.T) {
	// Sweep advance states and sales sizes; every statement must satisfy the
	// identity and both recoupment bounds.
	advances := []struct{ advance, recouped string }{
		{"0", "0"}, {"1000", "0"}, {"1000", "600"}, {"1000", "1000"}, {"50.55", "10.10"},
	}
	for _, adv := range advances {
		for _, qty := range []int64{0, 1, 99, 100, 101, 1234} {
			c := newContract(royalty.ModePeriod, twoTier(royalty.FormatPhysical)...)
			c.AdvanceAmount = m(adv.advance)
			c.AdvancePreviouslyRecouped = m(adv.recouped)

			calc, err := royalty.Compose(royalty.StatementInput{
				Contract: c,
				Period:   h1(),
				Sales:    []royalty.SaleRow{sale(royalty.FormatPhysical, qty, "17.99", march(3))},
				Returns:  []royalty.ReturnRow{approvedReturn(royalty.FormatPhysical, 1, "5.55", march(4))},
			})
			require.NoError(t, err)
			requireIdentity(t, calc)

			ar := calc.AdvanceRecoupment
			remaining := ar.OriginalAdvance.Sub(ar.PreviouslyRecouped)
			assert.True(t, ar.ThisPeriodsRecoupment.LessThanOrEqual(remaining))
			assert.True(t, ar.ThisPeriodsRecoupment.LessThanOrEqual(calc.AvailableRoyalty().Max(royalty.Zero)))
			assert.False(t, ar.RemainingAdvance.IsNegative())
		}
	}
}
