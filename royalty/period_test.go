package royalty_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/royalty-engine/royalty"
)

func TestPeriodConfig_Semiannual(t *testing.T) {
	pc := royalty.PeriodConfig{Type: royalty.PeriodSemiannual}

	p := pc.PeriodFor(royalty.NewDate(2025, time.March, 14))
	assert.Equal(t, "2025-01-01", p.StartDate.String())
	assert.Equal(t, "2025-06-30", p.EndDate.String())

	next := pc.Next(p)
	assert.Equal(t, "2025-07-01", next.StartDate.String())
	assert.Equal(t, "2025-12-31", next.EndDate.String())
	assert.True(t, pc.Previous(next).Equal(p))
}

func TestPeriodConfig_FiscalYearQuarters(t *testing.T) {
	// Reporting year starting in April
	pc := royalty.PeriodConfig{Type: royalty.PeriodQuarterly, YearStartMonth: time.April}

	p := pc.PeriodFor(royalty.NewDate(2025, time.February, 2))
	assert.Equal(t, "2025-01-01", p.StartDate.String())
	assert.Equal(t, "2025-03-31", p.EndDate.String())

	p = pc.PeriodFor(royalty.NewDate(2025, time.May, 20))
	assert.Equal(t, "2025-04-01", p.StartDate.String())
}

func TestPeriodConfig_PeriodsBetween_Chronological(t *testing.T) {
	pc := royalty.PeriodConfig{Type: royalty.PeriodSemiannual}

	periods := pc.PeriodsBetween(royalty.NewDate(2024, time.May, 1), royalty.NewDate(2025, time.August, 1))
	require.Len(t, periods, 4)
	assert.Equal(t, "2024-01-01", periods[0].StartDate.String())
	assert.Equal(t, "2025-07-01", periods[3].StartDate.String())
	for i := 1; i < len(periods); i++ {
		assert.True(t, periods[i-1].Before(periods[i]))
	}

	assert.Empty(t, pc.PeriodsBetween(royalty.NewDate(2025, time.May, 1), royalty.NewDate(2024, time.May, 1)))
}

func TestNewPeriod_RejectsReversedRange(t *testing.T) {
	_, err := royalty.NewPeriod(royalty.NewDate(2025, time.June, 30), royalty.NewDate(2025, time.January, 1))
	assert.ErrorIs(t, err, royalty.ErrInvalidPeriod)
}

func TestSortFormats_RegisteredFirst(t *testing.T) {
	royalty.RegisterFormat("large_print")
	formats := []royalty.Format{"zine", "large_print", royalty.FormatAudiobook, "comic", royalty.FormatPhysical}

	royalty.SortFormats(formats)

	assert.Equal(t, []royalty.Format{royalty.FormatPhysical, royalty.FormatAudiobook, "large_print", "comic", "zine"}, formats)
}
