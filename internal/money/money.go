package money

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const scale = 2

var (
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrTooManyDecimals = errors.New("amount has too many decimal places")
)

// Money is a fixed-point amount kept at two decimal places. Every result is
// rounded half-to-even.
type Money struct {
	amount decimal.Decimal
}

var Zero = Money{}

func New(amount decimal.Decimal) Money {
	return Money{amount: amount.RoundBank(scale)}
}

func FromInt(value int64) Money {
	return New(decimal.NewFromInt(value))
}

// MustParse is meant for constants and tests.
func MustParse(raw string) Money {
	m, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return m
}

func Parse(raw string) (Money, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Zero, ErrInvalidAmount
	}
	if !isNumeric(trimmed) {
		return Zero, ErrInvalidAmount
	}
	amount, err := decimal.NewFromString(trimmed)
	if err != nil {
		return Zero, ErrInvalidAmount
	}
	if amount.Exponent() < -scale && !amount.Equal(amount.Truncate(scale)) {
		return Zero, ErrTooManyDecimals
	}
	return New(amount), nil
}

func (m Money) Add(other Money) Money {
	return New(m.amount.Add(other.amount))
}

func (m Money) Subtract(other Money) Money {
	return New(m.amount.Sub(other.amount))
}

func (m Money) Multiply(multiplier decimal.Decimal) Money {
	return New(m.amount.Mul(multiplier))
}

func (m Money) Negate() Money {
	return New(m.amount.Neg())
}

func (m Money) IsGreaterThan(other Money) bool {
	return m.amount.GreaterThan(other.amount)
}

func (m Money) IsGreaterThanZero() bool {
	return m.amount.IsPositive()
}

func (m Money) IsNegative() bool {
	return m.amount.IsNegative()
}

// Equal compares numeric value, so 1.0 equals 1.00.
func (m Money) Equal(other Money) bool {
	return m.amount.Equal(other.amount)
}

func (m Money) Decimal() decimal.Decimal {
	return m.amount
}

func (m Money) String() string {
	return m.amount.StringFixedBank(scale)
}

func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

func (m *Money) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		return ErrInvalidAmount
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return ErrInvalidAmount
		}
		raw = s
	}
	parsed, err := Parse(raw)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

func (m Money) Value() (driver.Value, error) {
	return m.String(), nil
}

func (m *Money) Scan(value any) error {
	var d decimal.Decimal
	if err := d.Scan(value); err != nil {
		return fmt.Errorf("scan money: %w", err)
	}
	*m = New(d)
	return nil
}

func isNumeric(value string) bool {
	body := value
	if body[0] == '-' || body[0] == '+' {
		body = body[1:]
	}
	if body == "" {
		return false
	}
	dots := 0
	digits := 0
	for _, r := range body {
		switch {
		case r == '.':
			dots++
		case r >= '0' && r <= '9':
			digits++
		default:
			return false
		}
	}
	return dots <= 1 && digits > 0
}
