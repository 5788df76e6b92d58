package values

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Money represents a bid amount in USD with exact two-decimal semantics.
// All bid arithmetic in the exchange goes through Money; native floats are
// never used for amounts.
type Money struct {
	amount decimal.Decimal
}

// ParseError reports a non-empty input that is not a well-formed decimal.
type ParseError struct {
	Input string
	Cause error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid money amount %q: %v", e.Input, e.Cause)
}

func (e *ParseError) Unwrap() error {
	return e.Cause
}

// Zero is the zero bid amount.
func Zero() Money {
	return Money{amount: decimal.Zero}
}

// NewMoney creates Money from a decimal amount, rounded to cents.
func NewMoney(amount decimal.Decimal) Money {
	return Money{amount: amount.Round(2)}
}

// NewMoneyFromString parses a decimal string into Money.
func NewMoneyFromString(s string) (Money, error) {
	dec, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, &ParseError{Input: s, Cause: err}
	}
	return NewMoney(dec), nil
}

// MustMoney parses a decimal string and panics on error (fixtures/tests).
func MustMoney(s string) Money {
	m, err := NewMoneyFromString(s)
	if err != nil {
		panic(err)
	}
	return m
}

// NewMoneyFromCents creates Money from integer cents.
func NewMoneyFromCents(cents int64) Money {
	return Money{amount: decimal.NewFromInt(cents).Div(decimal.NewFromInt(100))}
}

// From coerces an arbitrary value into Money. Nil and empty strings are zero;
// a malformed non-empty value is a ParseError.
func From(v any) (Money, error) {
	switch val := v.(type) {
	case nil:
		return Zero(), nil
	case Money:
		return val, nil
	case decimal.Decimal:
		return NewMoney(val), nil
	case string:
		if val == "" {
			return Zero(), nil
		}
		return NewMoneyFromString(val)
	case float64:
		return NewMoney(decimal.NewFromFloat(val)), nil
	case float32:
		return NewMoney(decimal.NewFromFloat32(val)), nil
	case int:
		return NewMoney(decimal.NewFromInt(int64(val))), nil
	case int64:
		return NewMoney(decimal.NewFromInt(val)), nil
	case json.Number:
		return NewMoneyFromString(val.String())
	default:
		return Money{}, &ParseError{
			Input: fmt.Sprintf("%v", v),
			Cause: fmt.Errorf("unsupported type %T", v),
		}
	}
}

// Amount returns the underlying decimal.
func (m Money) Amount() decimal.Decimal {
	return m.amount
}

// String returns the canonical two-decimal form, e.g. "150.00".
func (m Money) String() string {
	return m.amount.StringFixed(2)
}

// FormatUSD returns the display form, e.g. "$150.00".
func (m Money) FormatUSD() string {
	return "$" + m.amount.StringFixed(2)
}

// Cents returns the amount as integer cents, rounded to the nearest cent.
func (m Money) Cents() int64 {
	return m.amount.Round(2).Mul(decimal.NewFromInt(100)).IntPart()
}

// IsZero checks if the amount is zero.
func (m Money) IsZero() bool {
	return m.amount.IsZero()
}

// IsPositive checks if the amount is strictly positive.
func (m Money) IsPositive() bool {
	return m.amount.IsPositive()
}

// Equal reports amount equality after canonical rounding.
func (m Money) Equal(other Money) bool {
	return m.amount.Round(2).Equal(other.amount.Round(2))
}

// Cmp returns -1, 0, or 1 comparing against other.
func (m Money) Cmp(other Money) int {
	return m.amount.Round(2).Cmp(other.amount.Round(2))
}

// LessThan reports m < other.
func (m Money) LessThan(other Money) bool {
	return m.Cmp(other) < 0
}

// GreaterThan reports m > other.
func (m Money) GreaterThan(other Money) bool {
	return m.Cmp(other) > 0
}

// Add returns m + other.
func (m Money) Add(other Money) Money {
	return Money{amount: m.amount.Add(other.amount)}
}

// Min returns the smaller of a and b.
func Min(a, b Money) Money {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max(a, b Money) Money {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}

// Sum totals a list of amounts.
func Sum(amounts []Money) Money {
	total := decimal.Zero
	for _, m := range amounts {
		total = total.Add(m.amount)
	}
	return Money{amount: total}
}

// Avg returns the mean of a list of amounts rounded to cents, or zero for an
// empty list.
func Avg(amounts []Money) Money {
	if len(amounts) == 0 {
		return Zero()
	}
	return NewMoney(Sum(amounts).amount.Div(decimal.NewFromInt(int64(len(amounts)))))
}

// Clamp constrains m to [lo, hi].
func (m Money) Clamp(lo, hi Money) Money {
	if m.Cmp(lo) < 0 {
		return lo
	}
	if m.Cmp(hi) > 0 {
		return hi
	}
	return m
}

// InRange reports lo <= m <= hi. Both bounds are inclusive.
func (m Money) InRange(lo, hi Money) bool {
	return m.Cmp(lo) >= 0 && m.Cmp(hi) <= 0
}

// RoundToCents rounds to 2 decimal places.
func (m Money) RoundToCents() Money {
	return Money{amount: m.amount.Round(2)}
}

// MarshalJSON emits the canonical string form so stored amounts round-trip
// bit-for-bit.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

func (m *Money) UnmarshalJSON(data []byte) error {
	// Buyer responses carry amounts as either "150.00" or bare 150.
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s == "" {
			*m = Zero()
			return nil
		}
		parsed, perr := NewMoneyFromString(s)
		if perr != nil {
			return perr
		}
		*m = parsed
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return &ParseError{Input: string(data), Cause: err}
	}
	parsed, err := NewMoneyFromString(n.String())
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Scan implements sql.Scanner for NUMERIC/text columns.
func (m *Money) Scan(value interface{}) error {
	if value == nil {
		*m = Zero()
		return nil
	}

	switch v := value.(type) {
	case []byte:
		parsed, err := NewMoneyFromString(string(v))
		if err != nil {
			return err
		}
		*m = parsed
		return nil
	case string:
		parsed, err := NewMoneyFromString(v)
		if err != nil {
			return err
		}
		*m = parsed
		return nil
	default:
		return fmt.Errorf("cannot scan %T into Money", value)
	}
}

// Value implements driver.Valuer; amounts are stored as canonical strings.
func (m Money) Value() (driver.Value, error) {
	return m.String(), nil
}
