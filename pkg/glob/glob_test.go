package glob

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		input   string
		want    bool
	}{
		{"exact match", "echo.hello", "echo.hello", true},
		{"exact mismatch", "echo.hello", "echo.world", false},
		{"star alone matches everything", "*", "anything.at_all", true},
		{"star alone matches empty", "*", "", true},
		{"prefix wildcard", "github.*", "github.create_issue", true},
		{"prefix wildcard requires prefix", "github.*", "gitlab.create_issue", false},
		{"prefix wildcard matches empty tail", "github.*", "github.", true},
		{"suffix wildcard", "*.delete", "repo.delete", true},
		{"suffix wildcard mismatch", "*.delete", "repo.delete_all", false},
		{"interior segment", "github.*_repo", "github.delete_repo", true},
		{"interior segments in order", "a*b*c", "aXbYc", true},
		{"interior segments out of order", "a*b*c", "acb", false},
		{"segment cannot be reused", "ab*ab", "ab", false},
		{"overlapping occurrences", "ab*ab", "abab", true},
		{"double star", "github.**", "github.anything", true},
		{"empty pattern matches only empty", "", "", true},
		{"empty pattern rejects nonempty", "", "x", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Match(tt.pattern, tt.input))
		})
	}
}

func TestMatchRejectsOverlongPattern(t *testing.T) {
	pattern := strings.Repeat("a", MaxPatternLen+1)
	assert.False(t, Match(pattern, strings.Repeat("a", MaxPatternLen+1)))
}

// The matcher must stay linear on inputs engineered to make a backtracking
// regex engine blow up.
func TestMatchPathologicalInput(t *testing.T) {
	pattern := strings.Repeat("a*", 90)
	input := strings.Repeat("a", 120) + "b"
	// Result matters less than the fact this returns promptly.
	Match(pattern, input)
}

func TestMatchAny(t *testing.T) {
	patterns := []string{"slack.*", "github.read_*"}

	p, ok := MatchAny(patterns, "github.read_file")
	assert.True(t, ok)
	assert.Equal(t, "github.read_*", p)

	_, ok = MatchAny(patterns, "github.delete_repo")
	assert.False(t, ok)

	_, ok = MatchAny(nil, "anything")
	assert.False(t, ok)
}
