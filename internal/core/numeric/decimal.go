package numeric

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Parse reads a decimal from text, tolerating surrounding whitespace and a
// decimal comma ("1.234,56" or "45,5"). Empty input is an error.
func Parse(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("empty numeric value")
	}

	if strings.Contains(s, ",") {
		// Comma is the decimal separator; dots are thousands separators.
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid numeric value %q: %w", s, err)
	}
	return d, nil
}

// FromAny converts a loosely typed value (YAML/JSON decoded) into a decimal.
// Floats go through NewFromFloat so 1.1 stays 1.1 rather than its binary expansion.
func FromAny(v interface{}) (decimal.Decimal, error) {
	switch val := v.(type) {
	case nil:
		return decimal.Zero, fmt.Errorf("missing numeric value")
	case decimal.Decimal:
		return val, nil
	case float64:
		return decimal.NewFromFloat(val), nil
	case float32:
		return decimal.NewFromFloat32(val), nil
	case int:
		return decimal.NewFromInt(int64(val)), nil
	case int64:
		return decimal.NewFromInt(val), nil
	case int32:
		return decimal.NewFromInt(int64(val)), nil
	case string:
		return Parse(val)
	}
	return decimal.Zero, fmt.Errorf("unsupported numeric type %T", v)
}

// PercentChange returns (cur - prev) / prev × 100 rounded to 2 places.
// A zero baseline yields zero rather than an infinite change.
func PercentChange(cur, prev decimal.Decimal) decimal.Decimal {
	if prev.IsZero() {
		return decimal.Zero
	}
	return cur.Sub(prev).Div(prev).Mul(decimal.NewFromInt(100)).Round(2)
}

// Share returns part / total × 100 rounded to 2 places, zero when total is zero.
func Share(part, total decimal.Decimal) decimal.Decimal {
	if total.IsZero() {
		return decimal.Zero
	}
	return part.Div(total).Mul(decimal.NewFromInt(100)).Round(2)
}
