package pricing

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"
)

// ErrInvalidAmount is returned for amounts that cannot be represented.
var ErrInvalidAmount = errors.New("invalid amount")

var hundred = decimal.NewFromInt(100)

// FromFloat converts a rupee amount to Money, rounding to the nearest paisa.
func FromFloat(rupees float64) Money {
	return decimal.NewFromFloat(rupees).Mul(hundred).Round(0).IntPart()
}

// Parse converts a decimal rupee string such as "1234.5" to Money.
func Parse(s string) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return d.Mul(hundred).Round(0).IntPart(), nil
}

// Float returns m in rupees.
func Float(m Money) float64 {
	f, _ := decimal.New(m, -2).Float64()
	return f
}

// Plain renders m with two decimals and no grouping, e.g. "1234.50".
func Plain(m Money) string {
	return decimal.New(m, -2).StringFixed(2)
}

// Format renders m as "Rs. 1,234.50".
func Format(m Money) string {
	sign := ""
	if m < 0 {
		sign = "-"
		m = -m
	}
	whole := humanize.Comma(m / 100)
	return "Rs. " + sign + whole + "." + pad2(m%100)
}

func pad2(n int64) string {
	s := strconv.FormatInt(n, 10)
	if len(s) < 2 {
		return "0" + s
	}
	return s
}

// Amount is Money that encodes as a decimal rupee JSON number, the shape
// used by stored documents. Quoted numbers are accepted on read.
type Amount Money

// MarshalJSON implements json.Marshaler.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(Plain(Money(a))), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (a *Amount) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if raw == "" || raw == "null" {
		*a = 0
		return nil
	}
	m, err := Parse(raw)
	if err != nil {
		return err
	}
	*a = Amount(m)
	return nil
}
