package royalty

import (
	"encoding/json"
	"fmt"
	"time"
)

// =============================================================================
// DATE - Calendar day (statements never need finer granularity)
// =============================================================================

const dateLayout = "2006-01-02"

// Date is a calendar day in UTC.
type Date struct {
	Time time.Time
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its UTC calendar day.
func DateOf(t time.Time) Date {
	t = t.UTC()
	return NewDate(t.Year(), t.Month(), t.Day())
}

// ParseDate parses YYYY-MM-DD.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q (use YYYY-MM-DD): %w", s, err)
	}
	return DateOf(t), nil
}

func (d Date) Before(o Date) bool        { return d.Time.Before(o.Time) }
func (d Date) After(o Date) bool         { return d.Time.After(o.Time) }
func (d Date) Equal(o Date) bool         { return d.Time.Equal(o.Time) }
func (d Date) BeforeOrEqual(o Date) bool { return !d.After(o) }
func (d Date) AfterOrEqual(o Date) bool  { return !d.Before(o) }
func (d Date) AddDays(n int) Date        { return Date{Time: d.Time.AddDate(0, 0, n)} }
func (d Date) AddMonths(n int) Date      { return Date{Time: d.Time.AddDate(0, n, 0)} }
func (d Date) IsZero() bool              { return d.Time.IsZero() }
func (d Date) String() string            { return d.Time.Format(dateLayout) }

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// =============================================================================
// PERIOD - Statement date range
// =============================================================================

// Period is an inclusive statement date range [StartDate, EndDate].
type Period struct {
	StartDate Date `json:"startDate"`
	EndDate   Date `json:"endDate"`
}

// NewPeriod validates that end is not before start.
func NewPeriod(start, end Date) (Period, error) {
	if end.Before(start) {
		return Period{}, ErrInvalidPeriod
	}
	return Period{StartDate: start, EndDate: end}, nil
}

// Contains returns true if d is within [StartDate, EndDate].
func (p Period) Contains(d Date) bool {
	return d.AfterOrEqual(p.StartDate) && d.BeforeOrEqual(p.EndDate)
}

// Overlaps returns true if the two periods share at least one day.
func (p Period) Overlaps(o Period) bool {
	return p.StartDate.BeforeOrEqual(o.EndDate) && o.StartDate.BeforeOrEqual(p.EndDate)
}

// Equal returns true if both periods cover the same days.
func (p Period) Equal(o Period) bool {
	return p.StartDate.Equal(o.StartDate) && p.EndDate.Equal(o.EndDate)
}

// Before returns true if p ends before o starts.
func (p Period) Before(o Period) bool {
	return p.EndDate.Before(o.StartDate)
}

func (p Period) String() string {
	return "[" + p.StartDate.String() + ", " + p.EndDate.String() + "]"
}

// =============================================================================
// PERIOD CALENDAR - How a contract's statement periods are laid out
// =============================================================================

// PeriodType is the length of a statement period.
type PeriodType string

const (
	PeriodMonthly    PeriodType = "monthly"
	PeriodQuarterly  PeriodType = "quarterly"
	PeriodSemiannual PeriodType = "semiannual"
	PeriodAnnual     PeriodType = "annual"
)

func (t PeriodType) months() int {
	switch t {
	case PeriodMonthly:
		return 1
	case PeriodQuarterly:
		return 3
	case PeriodAnnual:
		return 12
	default:
		return 6
	}
}

// PeriodConfig lays out contiguous statement periods.
// Most publishers report semiannually on a calendar year.
type PeriodConfig struct {
	Type PeriodType

	// First month of the reporting year (1-12). Zero means January.
	YearStartMonth time.Month
}

// PeriodFor returns the statement period containing d.
func (pc PeriodConfig) PeriodFor(d Date) Period {
	startMonth := pc.YearStartMonth
	if startMonth == 0 {
		startMonth = time.January
	}
	length := pc.Type.months()

	yearStart := NewDate(d.Time.Year(), startMonth, 1)
	if d.Before(yearStart) {
		yearStart = yearStart.AddMonths(-12)
	}

	monthsIn := (d.Time.Year()-yearStart.Time.Year())*12 + int(d.Time.Month()) - int(yearStart.Time.Month())
	start := yearStart.AddMonths((monthsIn / length) * length)
	end := start.AddMonths(length).AddDays(-1)
	return Period{StartDate: start, EndDate: end}
}

// Next returns the period following p.
func (pc PeriodConfig) Next(p Period) Period {
	return pc.PeriodFor(p.EndDate.AddDays(1))
}

// Previous returns the period before p.
func (pc PeriodConfig) Previous(p Period) Period {
	return pc.PeriodFor(p.StartDate.AddDays(-1))
}

// PeriodsBetween returns consecutive periods from the one containing from up
// to and including the one containing to, in chronological order.
func (pc PeriodConfig) PeriodsBetween(from, to Date) []Period {
	var periods []Period
	if to.Before(from) {
		return periods
	}
	current := pc.PeriodFor(from)
	for current.StartDate.BeforeOrEqual(to) {
		periods = append(periods, current)
		current = pc.Next(current)
	}
	return periods
}
