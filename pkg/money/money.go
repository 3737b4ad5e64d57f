// Package money holds the rounding and comparison rules shared by the payment
// and settlement code. Item level amounts are whole currency units; settlement
// aggregates carry two decimal places.
package money

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// AggregatePlaces is the precision of settlement level totals.
const AggregatePlaces int32 = 2

var ErrInvalidAmount = errors.New("invalid_amount")

// RoundUnit rounds to a whole currency unit, half away from zero.
func RoundUnit(d decimal.Decimal) int64 {
	return d.Round(0).IntPart()
}

// RoundAggregate rounds to AggregatePlaces, half away from zero.
func RoundAggregate(d decimal.Decimal) decimal.Decimal {
	return d.Round(AggregatePlaces)
}

// ApplyRate returns amount × rate rounded to a whole unit.
func ApplyRate(amount int64, rate decimal.Decimal) int64 {
	return RoundUnit(decimal.NewFromInt(amount).Mul(rate))
}

// NonNegative clamps v at zero.
func NonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

// Parse reads a gateway amount string ("50000", "50,000", " 50000.00 ").
func Parse(raw string) (decimal.Decimal, error) {
	value := strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	if value == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// EqualsUnits reports whether the gateway amount string equals a whole unit amount.
// Unparseable strings never match.
func EqualsUnits(raw string, units int64) bool {
	d, err := Parse(raw)
	if err != nil {
		return false
	}
	return d.Equal(decimal.NewFromInt(units))
}

// EqualStrings compares two amount strings numerically. Two blank values are equal.
func EqualStrings(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" {
		return a == b
	}
	da, errA := Parse(a)
	db, errB := Parse(b)
	if errA != nil || errB != nil {
		return false
	}
	return da.Equal(db)
}

// FormatUnits renders a whole unit amount the way the gateway expects it.
func FormatUnits(units int64) string {
	return decimal.NewFromInt(units).String()
}
