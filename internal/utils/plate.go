package utils

import (
	"strings"
	"unicode"
)

// NormalizePlate upper-cases a plate and strips everything but letters and
// digits, so "wp cab-1234" and "WP-CAB-1234" map to the same key.
func NormalizePlate(plate string) string {
	var b strings.Builder
	b.Grow(len(plate))
	for _, r := range strings.ToUpper(plate) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
