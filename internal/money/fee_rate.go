package money

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var ErrInvalidFeeRate = errors.New("invalid fee rate")

var maxFeeRate = decimal.NewFromInt(1)

// FeeRate is a fraction of the transferred amount: 0.01 is one percent.
// Valid rates lie in [0, 1].
type FeeRate struct {
	rate decimal.Decimal
}

func NewFeeRate(rate decimal.Decimal) (FeeRate, error) {
	if rate.IsNegative() {
		return FeeRate{}, fmt.Errorf("%w: must not be negative", ErrInvalidFeeRate)
	}
	if rate.GreaterThan(maxFeeRate) {
		return FeeRate{}, fmt.Errorf("%w: must not exceed 100%%", ErrInvalidFeeRate)
	}
	return FeeRate{rate: rate.Round(scale)}, nil
}

func MustFeeRate(raw string) FeeRate {
	rate, err := NewFeeRate(decimal.RequireFromString(raw))
	if err != nil {
		panic(err)
	}
	return rate
}

func (f FeeRate) CalculateFee(amount Money) Money {
	return amount.Multiply(f.rate)
}

func (f FeeRate) Decimal() decimal.Decimal {
	return f.rate
}

func (f FeeRate) Equal(other FeeRate) bool {
	return f.rate.Equal(other.rate)
}

func (f FeeRate) String() string {
	return f.rate.Mul(decimal.NewFromInt(100)).String() + "%"
}
