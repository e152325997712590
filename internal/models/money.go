package models

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Money is a coin amount with exactly two fraction digits. It rides on
// shopspring/decimal so repeated edits never drift the way binary floats
// would, and it serializes the way the API promises: as a "10.00" style
// string, matching the numeric(10,2) columns underneath.
type Money struct {
	decimal.Decimal
}

// NewMoney parses a decimal string ("12.5", "-3.00") into Money rounded to
// two fraction digits. Non-numeric input is an error.
func NewMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return Money{}, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return Money{d.Round(2)}, nil
}

// MoneyFromInt converts a whole number of coins (e.g. game days at the
// 1 day = 1 coin rate) into Money.
func MoneyFromInt(n int64) Money {
	return Money{decimal.NewFromInt(n)}
}

func (m Money) Add(other Money) Money { return Money{m.Decimal.Add(other.Decimal).Round(2)} }

func (m Money) Sub(other Money) Money { return Money{m.Decimal.Sub(other.Decimal).Round(2)} }

// String always renders two fraction digits.
func (m Money) String() string { return m.Decimal.StringFixed(2) }

func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.Decimal.StringFixed(2) + `"`), nil
}

// UnmarshalJSON accepts both a JSON number and a quoted decimal string; the
// original clients send either.
func (m *Money) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		m.Decimal = decimal.Zero
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", s, err)
	}
	m.Decimal = d.Round(2)
	return nil
}

// Value implements driver.Valuer so Money binds to numeric(10,2) columns.
func (m Money) Value() (driver.Value, error) {
	return m.Decimal.StringFixed(2), nil
}

// Scan implements sql.Scanner.
func (m *Money) Scan(value any) error {
	if value == nil {
		m.Decimal = decimal.Zero
		return nil
	}
	var s string
	switch v := value.(type) {
	case []byte:
		s = string(v)
	case string:
		s = v
	case int64:
		m.Decimal = decimal.NewFromInt(v)
		return nil
	case float64:
		m.Decimal = decimal.NewFromFloat(v).Round(2)
		return nil
	default:
		return errors.New("unsupported type for Money")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return err
	}
	m.Decimal = d.Round(2)
	return nil
}
