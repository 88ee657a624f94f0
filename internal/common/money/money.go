// Package money provides exact integer arithmetic on minor-currency-unit
// amounts. All settlement math stays in int64 minor units; floats never touch
// a total.
package money

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
)

// Currency represents an ISO 4217 code or a crypto token symbol.
type Currency string

const (
	USD Currency = "USD"
	EUR Currency = "EUR"
	GBP Currency = "GBP"

	ETH Currency = "ETH"
	DAI Currency = "DAI"
)

// Money represents a monetary amount in minor units (cents, pence, wei-scaled).
type Money struct {
	AmountMinor int64    `json:"amount_minor"`
	Currency    Currency `json:"currency"`
}

// New creates a Money value from minor units.
func New(amountMinor int64, currency Currency) Money {
	return Money{AmountMinor: amountMinor, Currency: currency}
}

// Zero returns a zero amount for a currency.
func Zero(currency Currency) Money {
	return Money{AmountMinor: 0, Currency: currency}
}

// IsZero returns true if the amount is zero.
func (m Money) IsZero() bool {
	return m.AmountMinor == 0
}

// IsPositive returns true if the amount is positive.
func (m Money) IsPositive() bool {
	return m.AmountMinor > 0
}

// IsNegative returns true if the amount is negative.
func (m Money) IsNegative() bool {
	return m.AmountMinor < 0
}

// Add adds two money values (must be same currency).
func (m Money) Add(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("currency mismatch: %s vs %s", m.Currency, other.Currency)
	}
	return Money{AmountMinor: m.AmountMinor + other.AmountMinor, Currency: m.Currency}, nil
}

// Sub subtracts two money values (must be same currency).
func (m Money) Sub(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("currency mismatch: %s vs %s", m.Currency, other.Currency)
	}
	return Money{AmountMinor: m.AmountMinor - other.AmountMinor, Currency: m.Currency}, nil
}

// Equal checks equality of amount and currency.
func (m Money) Equal(other Money) bool {
	return m.AmountMinor == other.AmountMinor && m.Currency == other.Currency
}

// Compare returns -1, 0, or 1.
func (m Money) Compare(other Money) (int, error) {
	if m.Currency != other.Currency {
		return 0, fmt.Errorf("currency mismatch: %s vs %s", m.Currency, other.Currency)
	}
	switch {
	case m.AmountMinor < other.AmountMinor:
		return -1, nil
	case m.AmountMinor > other.AmountMinor:
		return 1, nil
	}
	return 0, nil
}

// String returns a wire-friendly representation.
func (m Money) String() string {
	return fmt.Sprintf("%d %s", m.AmountMinor, m.Currency)
}

// MarshalJSON implements json.Marshaler.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		AmountMinor int64  `json:"amount_minor"`
		Currency    string `json:"currency"`
	}{m.AmountMinor, string(m.Currency)})
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *Money) UnmarshalJSON(data []byte) error {
	var v struct {
		AmountMinor int64  `json:"amount_minor"`
		Currency    string `json:"currency"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	m.AmountMinor = v.AmountMinor
	m.Currency = Currency(v.Currency)
	return nil
}

// Scan implements sql.Scanner.
func (m *Money) Scan(src interface{}) error {
	if src == nil {
		*m = Money{}
		return nil
	}
	switch v := src.(type) {
	case int64:
		m.AmountMinor = v
		return nil
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return errors.New("cannot scan into Money")
	}
}

// Value implements driver.Valuer.
func (m Money) Value() (driver.Value, error) {
	return json.Marshal(m)
}

// CeilDiv divides a by b rounding toward positive infinity. Both operands
// must be non-negative; b must be non-zero.
func CeilDiv(a, b int64) int64 {
	if b == 0 {
		panic("division by zero")
	}
	return (a + b - 1) / b
}

// RoundDiv divides a by b rounding half away from zero. Percentage discounts
// round this way. Both operands must be non-negative; b must be non-zero.
func RoundDiv(a, b int64) int64 {
	if b == 0 {
		panic("division by zero")
	}
	return (a + b/2) / b
}

// Max returns the larger of two amounts.
func Max(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// Min returns the smaller of two amounts.
func Min(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
