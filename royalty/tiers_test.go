package royalty_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/royalty-engine/royalty"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func m(s string) royalty.Money { return royalty.MustMoney(s) }

func bound(v int64) *int64 { return &v }

func tier(f royalty.Format, lo int64, hi *int64, rate string) royalty.RoyaltyTier {
	return royalty.RoyaltyTier{Format: f, MinQuantity: lo, MaxQuantity: hi, Rate: m(rate)}
}

// twoTier is [0,100)@0.10, [100,inf)@0.15.
func twoTier(f royalty.Format) []royalty.RoyaltyTier {
	return []royalty.RoyaltyTier{
		tier(f, 0, bound(100), "0.10"),
		tier(f, 100, nil, "0.15"),
	}
}

// =============================================================================
// RESOLUTION
// =============================================================================

func TestResolveTiers_SingleTier(t *testing.T) {
	// GIVEN: one unbounded tier at 10%, 100 units for 2500.00
	tiers := []royalty.RoyaltyTier{tier(royalty.FormatPhysical, 0, nil, "0.10")}

	// WHEN: resolving a period window
	res, err := royalty.ResolveTiers(tiers, royalty.NewWindow(0, 100), m("2500.00"))
	require.NoError(t, err)

	// THEN: one row, 100 x 0.10 x 25.00
	require.Len(t, res.Breakdowns, 1)
	assert.Equal(t, int64(100), res.Breakdowns[0].QuantityInTier)
	assert.True(t, res.Royalty.Equal(m("250.00")), "got %s", res.Royalty)
	assert.True(t, res.AverageUnitPrice.Equal(m("25")))
}

func TestResolveTiers_SpansTwoTiers(t *testing.T) {
	// GIVEN: 150 units at an average of 20.00
	res, err := royalty.ResolveTiers(twoTier(royalty.FormatPhysical), royalty.NewWindow(0, 150), m("3000"))
	require.NoError(t, err)

	// THEN: 100 units at 10% and 50 units at 15%
	require.Len(t, res.Breakdowns, 2)
	assert.Equal(t, int64(100), res.Breakdowns[0].QuantityInTier)
	assert.True(t, res.Breakdowns[0].RoyaltyEarned.Equal(m("200.00")))
	assert.Equal(t, int64(50), res.Breakdowns[1].QuantityInTier)
	assert.True(t, res.Breakdowns[1].RoyaltyEarned.Equal(m("150.00")))
	assert.Nil(t, res.Breakdowns[1].TierMaxQuantity)
	assert.True(t, res.Royalty.Equal(m("350.00")))
}

func TestResolveTiers_LifetimeWindowSkipsExhaustedTiers(t *testing.T) {
	// GIVEN: 120 units already sold before the period
	res, err := royalty.ResolveTiers(twoTier(royalty.FormatEbook), royalty.NewWindow(120, 10), m("100"))
	require.NoError(t, err)

	// THEN: only the top tier is touched
	require.Len(t, res.Breakdowns, 1)
	assert.Equal(t, int64(100), res.Breakdowns[0].TierMinQuantity)
	assert.True(t, res.Royalty.Equal(m("15.00")))
}

func TestResolveTiers_RoundsEachSlice(t *testing.T) {
	// GIVEN: two units at 0.10 where each slice lands on a half cent
	tiers := []royalty.RoyaltyTier{
		tier(royalty.FormatPhysical, 0, bound(1), "0.05"),
		tier(royalty.FormatPhysical, 1, nil, "0.25"),
	}

	// WHEN: resolving
	res, err := royalty.ResolveTiers(tiers, royalty.NewWindow(0, 2), m("0.20"))
	require.NoError(t, err)

	// THEN: 0.005 and 0.025 round to 0.01 and 0.03 before summing, not 0.03 overall
	assert.True(t, res.Breakdowns[0].RoyaltyEarned.Equal(m("0.01")))
	assert.True(t, res.Breakdowns[1].RoyaltyEarned.Equal(m("0.03")))
	assert.True(t, res.Royalty.Equal(m("0.04")), "got %s", res.Royalty)
}

func TestResolveTiers_ZeroQuantity_NoRows(t *testing.T) {
	res, err := royalty.ResolveTiers(twoTier(royalty.FormatPhysical), royalty.NewWindow(0, 0), m("0"))
	require.NoError(t, err)
	assert.Empty(t, res.Breakdowns)
	assert.True(t, res.Royalty.IsZero())
}

func TestResolveTiers_UnsortedInput(t *testing.T) {
	tiers := twoTier(royalty.FormatPhysical)
	tiers[0], tiers[1] = tiers[1], tiers[0]

	res, err := royalty.ResolveTiers(tiers, royalty.NewWindow(0, 150), m("3000"))
	require.NoError(t, err)
	require.Len(t, res.Breakdowns, 2)
	assert.Equal(t, int64(0), res.Breakdowns[0].TierMinQuantity)
}

func TestResolveTiers_RoundsEachRowToCents(t *testing.T) {
	// GIVEN: 3 units for 10.00, average 3.3333333333
	tiers := []royalty.RoyaltyTier{tier(royalty.FormatPhysical, 0, nil, "0.10")}
	res, err := royalty.ResolveTiers(tiers, royalty.NewWindow(0, 3), m("10"))
	require.NoError(t, err)

	// THEN: 3 x 0.10 x 3.3333333333 = 0.99999999999 -> 1.00
	assert.Equal(t, "1", res.Royalty.String())
}

func TestResolveTiers_Coverage(t *testing.T) {
	// Every unit of every window lands in exactly one tier
	tiers := []royalty.RoyaltyTier{
		tier(royalty.FormatAudiobook, 0, bound(50), "0.08"),
		tier(royalty.FormatAudiobook, 50, bound(500), "0.10"),
		tier(royalty.FormatAudiobook, 500, nil, "0.125"),
	}
	for _, start := range []int64{0, 1, 49, 50, 51, 499, 500, 10_000} {
		for _, qty := range []int64{0, 1, 2, 49, 50, 451, 5_000} {
			res, err := royalty.ResolveTiers(tiers, royalty.NewWindow(start, qty), m("1000"))
			require.NoError(t, err)

			var covered int64
			for _, b := range res.Breakdowns {
				assert.Positive(t, b.QuantityInTier)
				covered += b.QuantityInTier
			}
			assert.Equal(t, qty, covered, "window [%d,%d)", start, start+qty)
		}
	}
}

func TestResolveTiers_MalformedWindow(t *testing.T) {
	_, err := royalty.ResolveTiers(twoTier(royalty.FormatPhysical), royalty.QuantityWindow{Start: 10, End: 5}, m("1"))
	assert.ErrorIs(t, err, royalty.ErrInvariantViolation)
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestValidateTiers(t *testing.T) {
	f := royalty.FormatPhysical
	tests := []struct {
		name      string
		tiers     []royalty.RoyaltyTier
		tierIndex int
	}{
		{"no tiers", nil, -1},
		{"first tier not at zero", []royalty.RoyaltyTier{tier(f, 10, nil, "0.1")}, 0},
		{"gap", []royalty.RoyaltyTier{tier(f, 0, bound(100), "0.1"), tier(f, 120, nil, "0.15")}, 1},
		{"overlap", []royalty.RoyaltyTier{tier(f, 0, bound(100), "0.1"), tier(f, 90, nil, "0.15")}, 1},
		{"last tier bounded", []royalty.RoyaltyTier{tier(f, 0, bound(100), "0.1")}, 0},
		{"unbounded not last", []royalty.RoyaltyTier{tier(f, 0, nil, "0.1"), tier(f, 100, nil, "0.15")}, 0},
		{"max not above min", []royalty.RoyaltyTier{tier(f, 0, bound(0), "0.1"), tier(f, 0, nil, "0.15")}, 0},
		{"rate above one", []royalty.RoyaltyTier{tier(f, 0, nil, "1.5")}, 0},
		{"negative rate", []royalty.RoyaltyTier{tier(f, 0, nil, "-0.1")}, 0},
		{"wrong format", []royalty.RoyaltyTier{tier(royalty.FormatEbook, 0, nil, "0.1")}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := royalty.ValidateTiers(f, tt.tiers)
			require.Error(t, err)

			var cfg *royalty.ConfigurationError
			require.ErrorAs(t, err, &cfg)
			assert.Equal(t, tt.tierIndex, cfg.TierIndex)
			assert.Equal(t, f, cfg.Format)
			assert.True(t, royalty.IsConfiguration(err))
		})
	}
}

func TestValidateTiers_Valid(t *testing.T) {
	assert.NoError(t, royalty.ValidateTiers(royalty.FormatPhysical, twoTier(royalty.FormatPhysical)))
	assert.NoError(t, royalty.ValidateTiers(royalty.FormatEbook, []royalty.RoyaltyTier{tier(royalty.FormatEbook, 0, nil, "0")}))
	assert.NoError(t, royalty.ValidateTiers(royalty.FormatEbook, []royalty.RoyaltyTier{tier(royalty.FormatEbook, 0, nil, "1")}))
}

func TestResolveTiers_FailsFastOnMalformedTiers(t *testing.T) {
	f := royalty.FormatPhysical
	tiers := []royalty.RoyaltyTier{tier(f, 0, bound(100), "0.1"), tier(f, 90, nil, "0.15")}

	_, err := royalty.ResolveTiers(tiers, royalty.NewWindow(0, 150), m("3000"))
	assert.ErrorIs(t, err, royalty.ErrConfiguration)
}

func TestTierAt(t *testing.T) {
	tiers := twoTier(royalty.FormatPhysical)

	got, ok := royalty.TierAt(tiers, 99)
	require.True(t, ok)
	assert.True(t, got.Rate.Equal(m("0.10")))

	got, ok = royalty.TierAt(tiers, 100)
	require.True(t, ok)
	assert.True(t, got.Rate.Equal(m("0.15")))
}
