package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestRoundUnitHalfUp(t *testing.T) {
	assert.Equal(t, int64(1), RoundUnit(decimal.RequireFromString("0.5")))
	assert.Equal(t, int64(2), RoundUnit(decimal.RequireFromString("1.5")))
	assert.Equal(t, int64(2), RoundUnit(decimal.RequireFromString("2.4999")))
	assert.Equal(t, int64(-1), RoundUnit(decimal.RequireFromString("-0.5")))
}

func TestApplyRate(t *testing.T) {
	assert.Equal(t, int64(750), ApplyRate(50000, decimal.RequireFromString("0.015")))
	assert.Equal(t, int64(850), ApplyRate(50000, decimal.RequireFromString("0.017")))
	// 333 * 0.015 = 4.995
	assert.Equal(t, int64(5), ApplyRate(333, decimal.RequireFromString("0.015")))
}

func TestRoundAggregate(t *testing.T) {
	got := RoundAggregate(decimal.RequireFromString("10.005"))
	assert.True(t, got.Equal(decimal.RequireFromString("10.01")), got.String())
}

func TestEqualsUnits(t *testing.T) {
	assert.True(t, EqualsUnits("50000", 50000))
	assert.True(t, EqualsUnits("50,000", 50000))
	assert.True(t, EqualsUnits(" 50000.00 ", 50000))
	assert.False(t, EqualsUnits("49999", 50000))
	assert.False(t, EqualsUnits("", 50000))
	assert.False(t, EqualsUnits("abc", 50000))
}

func TestEqualStrings(t *testing.T) {
	assert.True(t, EqualStrings("", " "))
	assert.True(t, EqualStrings("4545", "4545.0"))
	assert.False(t, EqualStrings("4545", ""))
	assert.False(t, EqualStrings("4545", "4546"))
}
