package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFeeRate(t *testing.T) {
	_, err := NewFeeRate(decimal.RequireFromString("-0.01"))
	assert.ErrorIs(t, err, ErrInvalidFeeRate)

	_, err = NewFeeRate(decimal.RequireFromString("1.01"))
	assert.ErrorIs(t, err, ErrInvalidFeeRate)

	for _, raw := range []string{"0", "0.01", "1"} {
		_, err := NewFeeRate(decimal.RequireFromString(raw))
		assert.NoError(t, err, raw)
	}
}

func TestFeeRateRoundsHalfUp(t *testing.T) {
	rate, err := NewFeeRate(decimal.RequireFromString("0.015"))
	require.NoError(t, err)
	assert.Equal(t, "0.02", rate.Decimal().StringFixed(2))

	rate, err = NewFeeRate(decimal.RequireFromString("0.025"))
	require.NoError(t, err)
	assert.Equal(t, "0.03", rate.Decimal().StringFixed(2))
}

func TestCalculateFee(t *testing.T) {
	rate := MustFeeRate("0.01")
	assert.Equal(t, "10000.00", rate.CalculateFee(FromInt(1_000_000)).String())
	// 0.01 * 12.50 = 0.125 rounds half-to-even to 0.12
	assert.Equal(t, "0.12", rate.CalculateFee(MustParse("12.50")).String())
	assert.True(t, MustFeeRate("0").CalculateFee(FromInt(500)).Equal(Zero))
	assert.Equal(t, "1%", rate.String())
}
