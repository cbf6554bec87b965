// Package strings holds small string helpers shared across packages.
package strings

import (
	"strings"
)

// DefaultDescriptionMaxLen is the maximum length for tool descriptions in
// the aggregated catalog. Longer descriptions from downstream servers are
// truncated before the catalog is exposed.
const DefaultDescriptionMaxLen = 500

// MinTruncateLen is the minimum maxLen value for TruncateDescription.
// Smaller values would not leave room for content plus "...".
const MinTruncateLen = 4

// TruncateDescription truncates a string to maxLen characters and ensures
// single-line output. Newlines become spaces, runs of whitespace collapse to
// one space, and "..." marks a truncation. Operates on runes so multi-byte
// characters are never split.
func TruncateDescription(s string, maxLen int) string {
	if maxLen < MinTruncateLen {
		maxLen = MinTruncateLen
	}

	s = strings.Join(strings.Fields(s), " ")

	runes := []rune(s)
	if len(runes) > maxLen {
		return string(runes[:maxLen-3]) + "..."
	}
	return s
}
