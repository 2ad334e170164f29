package normalize

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNumeric(t *testing.T) {
	tests := []struct {
		name   string
		input  any
		want   string
		wantOK bool
	}{
		{"currency with separators", "$1,234,567", "1234567", true},
		{"parenthesized negative", "(500)", "-500", true},
		{"parenthesized currency", "($2,500.50)", "-2500.5", true},
		{"percent above one", "19.6%", "0.196", true},
		{"percent at or below one is kept", "0.5%", "0.5", true},
		{"fraction left unchanged", 0.196, "0.196", true},
		{"multiplier suffix", "2.1x", "2.1", true},
		{"upper multiplier suffix", "1.85X", "1.85", true},
		{"integer", 42, "42", true},
		{"padded string", "  7,500 ", "7500", true},
		{"euro", "€ 900", "900", true},
		{"empty", "", "", false},
		{"nil", nil, "", false},
		{"text", "n/a", "", false},
		{"dash only", "-", "", false},
		{"bool", true, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseNumeric(tt.input)
			require.Equal(t, tt.wantOK, ok)
			if !tt.wantOK {
				return
			}
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "got %s want %s", got, tt.want)
		})
	}
}

func TestNonZero(t *testing.T) {
	_, ok := NonZero("0")
	assert.False(t, ok)
	_, ok = NonZero("$0.00")
	assert.False(t, ok)
	d, ok := NonZero("(3)")
	require.True(t, ok)
	assert.Equal(t, "-3", d.String())
}

func TestParseFloat(t *testing.T) {
	f, ok := ParseFloat("12.5%")
	require.True(t, ok)
	assert.InDelta(t, 0.125, f, 1e-12)
}

func TestNormalizeLabel(t *testing.T) {
	assert.Equal(t, "sources & uses", NormalizeLabel("  Sources  &\tUses "))
	assert.Equal(t, "", NormalizeLabel("   "))
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("returns", "returns"))
	assert.Equal(t, 0.0, Similarity("abc", "xyz"))
	assert.Equal(t, 1.0, Similarity("", ""))
	// "abcd" vs "bcde": block "bcd" -> 2*3/8
	assert.InDelta(t, 0.75, Similarity("abcd", "bcde"), 1e-9)
	assert.GreaterOrEqual(t, Similarity("cash flows", "cashflows"), 0.7)
	assert.Less(t, Similarity("rent roll", "returns"), 0.7)
	assert.InDelta(t, 0.4, Similarity("rent roll", "return"), 1e-9)
	assert.InDelta(t, 0.8, Similarity("abcab", "bcabc"), 1e-9)
}
