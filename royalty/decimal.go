/*
Package royalty provides the royalty statement calculation engine.

PURPOSE:
  Turns raw sales, returns and advance data into a financial statement per
  author, contract and period. The engine is pure: the same inputs always
  produce the same StatementCalculations, byte for byte.

KEY CONCEPTS IN THIS FILE (decimal.go):
  - Money: exact base-10 value used for every amount, rate and percentage
  - InternalPrecision: fractional digits kept by division
  - Rounding to cents happens once, on statement line items

DESIGN PRINCIPLES:
  1. Precision: Money wraps decimal.Decimal, never a binary float
  2. One type end to end: parsed from input, stored as TEXT, encoded as JSON
  3. Division by zero yields zero (rate-per-unit with no units sold)

USAGE:
  price := royalty.MustMoney("24.99")
  earned := price.Mul(royalty.MoneyFromInt(100)).Mul(royalty.MustMoney("0.10")).Round2()

SEE ALSO:
  - tiers.go: Tier resolution, the main consumer of Money arithmetic
  - composer.go: Statement orchestration
*/
package royalty

import (
	"database/sql/driver"
	"fmt"

	"github.com/shopspring/decimal"
)

// InternalPrecision is the number of fractional digits kept when dividing.
const InternalPrecision int32 = 10

// =============================================================================
// MONEY - Exact decimal value
// =============================================================================

// Money is an exact decimal value. The zero value is 0.
type Money struct {
	d decimal.Decimal
}

var (
	Zero    = Money{}
	hundred = Money{d: decimal.NewFromInt(100)}
)

// NewMoney parses a decimal string such as "2500.00".
func NewMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, fmt.Errorf("invalid decimal %q: %w", s, err)
	}
	return Money{d: d}, nil
}

// MustMoney parses s or panics. Use for constants and tests.
func MustMoney(s string) Money {
	m, err := NewMoney(s)
	if err != nil {
		panic(err)
	}
	return m
}

// MoneyFromInt returns v as an exact decimal.
func MoneyFromInt(v int64) Money { return Money{d: decimal.NewFromInt(v)} }

// MoneyFromDecimal wraps d without rounding.
func MoneyFromDecimal(d decimal.Decimal) Money { return Money{d: d} }

// Arithmetic and comparisons below are exact. Only Round2 cuts precision.
func (m Money) Decimal() decimal.Decimal         { return m.d }
func (m Money) Add(o Money) Money                { return Money{d: m.d.Add(o.d)} }
func (m Money) Sub(o Money) Money                { return Money{d: m.d.Sub(o.d)} }
func (m Money) Mul(o Money) Money                { return Money{d: m.d.Mul(o.d)} }
func (m Money) MulInt(n int64) Money             { return Money{d: m.d.Mul(decimal.NewFromInt(n))} }
func (m Money) Neg() Money                       { return Money{d: m.d.Neg()} }
func (m Money) Round2() Money                    { return Money{d: m.d.Round(2)} }
func (m Money) Cmp(o Money) int                  { return m.d.Cmp(o.d) }
func (m Money) Equal(o Money) bool               { return m.d.Equal(o.d) }
func (m Money) LessThan(o Money) bool            { return m.d.LessThan(o.d) }
func (m Money) LessThanOrEqual(o Money) bool     { return m.d.LessThanOrEqual(o.d) }
func (m Money) GreaterThan(o Money) bool         { return m.d.GreaterThan(o.d) }
func (m Money) GreaterThanOrEqual(o Money) bool  { return m.d.GreaterThanOrEqual(o.d) }
func (m Money) IsZero() bool                     { return m.d.IsZero() }
func (m Money) IsNegative() bool                 { return m.d.IsNegative() }
func (m Money) IsPositive() bool                 { return m.d.IsPositive() }
func (m Money) Abs() Money                       { return Money{d: m.d.Abs()} }

// Min returns the smaller of m and o.
func (m Money) Min(o Money) Money {
	if m.LessThan(o) {
		return m
	}
	return o
}

// Max returns the larger of m and o.
func (m Money) Max(o Money) Money {
	if m.GreaterThan(o) {
		return m
	}
	return o
}

// DivRound divides by o keeping InternalPrecision fractional digits.
// Division by zero returns Zero: callers use it for per-unit rates where
// zero units means zero rate.
func (m Money) DivRound(o Money) Money {
	if o.IsZero() {
		return Zero
	}
	return Money{d: m.d.DivRound(o.d, InternalPrecision)}
}

// Percent returns m * pct / 100 exactly.
func (m Money) Percent(pct Money) Money {
	return Money{d: m.d.Mul(pct.d).Shift(-2)}
}

// Sum adds values in order. Decimal addition is exact, so order does not matter.
func Sum(values ...Money) Money {
	total := Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// String returns the exact value without trailing zeros.
func (m Money) String() string { return m.d.String() }

// StringFixed2 formats m rounded to cents, for display.
func (m Money) StringFixed2() string { return m.d.StringFixed(2) }

// canonical keeps at least two fractional digits so cents read as cents
// ("250.00") while finer values stay exact ("83.3333333333").
func (m Money) canonical() string {
	if m.d.Equal(m.d.Round(2)) {
		return m.d.StringFixed(2)
	}
	return m.d.String()
}

// =============================================================================
// ENCODING
// =============================================================================

func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.canonical() + `"`), nil
}

func (m *Money) UnmarshalJSON(b []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(b); err != nil {
		return err
	}
	m.d = d
	return nil
}

// Value stores Money as exact TEXT.
func (m Money) Value() (driver.Value, error) {
	return m.canonical(), nil
}

// Scan reads Money from TEXT, INTEGER or REAL columns.
func (m *Money) Scan(src any) error {
	var d decimal.Decimal
	if err := d.Scan(src); err != nil {
		return err
	}
	m.d = d
	return nil
}
