// Package strings provides small string helpers for formatted output.
package strings

import (
	"strings"
)

// DefaultDescriptionMaxLen is the default maximum length for descriptions in
// formatted output.
const DefaultDescriptionMaxLen = 60

// MinTruncateLen is the minimum maxLen for TruncateDescription. Anything
// smaller leaves no room for content plus "...".
const MinTruncateLen = 4

// TruncateDescription flattens a string to a single line and truncates it to
// maxLen characters, appending "..." when content was cut. Slicing is
// rune-based so multi-byte characters are never split.
func TruncateDescription(s string, maxLen int) string {
	if maxLen < MinTruncateLen {
		maxLen = MinTruncateLen
	}

	// Collapses all whitespace runs, including newlines, to single spaces.
	s = strings.Join(strings.Fields(s), " ")

	runes := []rune(s)
	if len(runes) > maxLen {
		return string(runes[:maxLen-3]) + "..."
	}
	return s
}
