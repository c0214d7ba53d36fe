// Package tokens estimates token counts with the character-based proxy used
// throughout this service (ceil(runes/4)). The figure is a budgeting heuristic,
// not a provider-exact count.
package tokens

import (
	"math"
	"strings"
	"unicode/utf8"
)

// Estimate returns the approximate token count for text.
func Estimate(text string) int {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}
	return int(math.Ceil(float64(utf8.RuneCountInString(text)) / 4.0))
}

// Chars converts a token budget back into its character (rune) equivalent.
func Chars(tokenCount int) int {
	if tokenCount <= 0 {
		return 0
	}
	return tokenCount * 4
}
