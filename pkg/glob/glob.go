// Package glob implements a linear-time wildcard matcher for tool-name
// patterns. Only the `*` wildcard is supported; there is no character-class
// or regex syntax. Patterns come from stored authorization profiles, which
// are operator-supplied but still treated as untrusted input, so matching
// must never backtrack catastrophically.
package glob

import "strings"

// MaxPatternLen bounds accepted pattern length. Longer patterns are
// rejected outright rather than truncated.
const MaxPatternLen = 200

// Match reports whether name matches pattern. The pattern is split on `*`;
// the first segment must prefix the name, the last segment must suffix it,
// and every interior segment must occur in order between them.
func Match(pattern, name string) bool {
	if len(pattern) > MaxPatternLen {
		return false
	}
	if !strings.Contains(pattern, "*") {
		return pattern == name
	}

	segments := strings.Split(pattern, "*")

	first := segments[0]
	if !strings.HasPrefix(name, first) {
		return false
	}
	rest := name[len(first):]

	last := segments[len(segments)-1]

	// Interior segments must appear in order within what remains before
	// the suffix check.
	for _, seg := range segments[1 : len(segments)-1] {
		if seg == "" {
			continue
		}
		idx := strings.Index(rest, seg)
		if idx < 0 {
			return false
		}
		rest = rest[idx+len(seg):]
	}

	return strings.HasSuffix(rest, last)
}

// MatchAny reports whether name matches any of the given patterns and
// returns the first pattern that matched.
func MatchAny(patterns []string, name string) (string, bool) {
	for _, p := range patterns {
		if Match(p, name) {
			return p, true
		}
	}
	return "", false
}
