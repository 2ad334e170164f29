// Package normalize turns heterogeneous spreadsheet and model output values
// into canonical decimals and comparable labels.
package normalize

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// currencyReplacer drops currency symbols, thousands separators and whitespace.
var currencyReplacer = strings.NewReplacer(
	"$", "", "€", "", "£", "", "¥", "",
	",", "",
	" ", "", "\t", "", "\n", "", "\r", "", "\u00a0", "",
)

// ParseNumeric converts a raw cell value into a decimal. The second result is
// false for empty or unparseable input; callers treat that as "skip", never
// as a failure.
//
// Rules, in order: strip currency and separators, "(123)" -> -123, strip "%"
// and divide by 100 only when the magnitude exceeds 1, strip a trailing "x".
func ParseNumeric(v any) (decimal.Decimal, bool) {
	switch t := v.(type) {
	case nil:
		return decimal.Zero, false
	case decimal.Decimal:
		return t, true
	case *decimal.Decimal:
		if t == nil {
			return decimal.Zero, false
		}
		return *t, true
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return decimal.Zero, false
		}
		return decimal.NewFromFloat(t), true
	case float32:
		return ParseNumeric(float64(t))
	case int:
		return decimal.NewFromInt(int64(t)), true
	case int64:
		return decimal.NewFromInt(t), true
	case int32:
		return decimal.NewFromInt(int64(t)), true
	case bool:
		return decimal.Zero, false
	case string:
		return parseNumericString(t)
	}
	return decimal.Zero, false
}

func parseNumericString(raw string) (decimal.Decimal, bool) {
	s := currencyReplacer.Replace(strings.TrimSpace(raw))
	if s == "" {
		return decimal.Zero, false
	}

	if strings.HasPrefix(s, "(") {
		s = "-" + strings.TrimPrefix(s, "(")
	}
	s = strings.ReplaceAll(s, ")", "")

	isPercent := strings.Contains(s, "%")
	s = strings.ReplaceAll(s, "%", "")
	s = strings.TrimRight(s, "xX")

	if s == "" || s == "-" {
		return decimal.Zero, false
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}

	if isPercent && d.Abs().GreaterThan(decimal.NewFromInt(1)) {
		d = d.Div(hundred)
	}
	return d, true
}

// ParseFloat is ParseNumeric for callers that work in float64.
func ParseFloat(v any) (float64, bool) {
	d, ok := ParseNumeric(v)
	if !ok {
		return 0, false
	}
	f, _ := d.Float64()
	return f, true
}

// NonZero reports whether v parses to a non-zero value.
func NonZero(v any) (decimal.Decimal, bool) {
	d, ok := ParseNumeric(v)
	if !ok || d.IsZero() {
		return decimal.Zero, false
	}
	return d, true
}
