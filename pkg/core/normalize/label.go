package normalize

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// NormalizeLabel lowercases, trims and collapses inner whitespace.
func NormalizeLabel(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Similarity returns the Ratcliff/Obershelp ratio 2*M/T of a and b over
// their characters. Identical strings score 1, disjoint strings 0.
func Similarity(a, b string) float64 {
	return difflib.NewMatcher(runes(a), runes(b)).Ratio()
}

func runes(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}
