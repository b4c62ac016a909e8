// Package filter implements brace-aware pattern splitting and glob matching
// over series identifiers and logical paths.
package filter

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// MaxPatternLength bounds a single pattern.
const MaxPatternLength = 200

const allowedChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789./*{},_-"

var (
	// ErrEmptyPattern is returned for an empty pattern.
	ErrEmptyPattern = errors.New("filter: empty pattern")
	// ErrPatternTooLong is returned when a pattern exceeds MaxPatternLength.
	ErrPatternTooLong = errors.New("filter: pattern too long")
	// ErrInvalidCharacter is returned for characters outside the pattern alphabet.
	ErrInvalidCharacter = errors.New("filter: invalid character")
	// ErrUnmatchedClosingBrace is returned when depth would go negative.
	ErrUnmatchedClosingBrace = errors.New("filter: unmatched closing brace")
	// ErrUnclosedBrace is returned when a brace group is never closed.
	ErrUnclosedBrace = errors.New("filter: unclosed brace")
)

// PatternError reports a rejected pattern and echoes it back.
type PatternError struct {
	Pattern string
	Err     error
}

func (e *PatternError) Error() string {
	return fmt.Sprintf("invalid filter pattern %q: %v", e.Pattern, e.Err)
}

func (e *PatternError) Unwrap() error { return e.Err }

// Validation is the result form of ValidatePattern for request layers that
// report rather than fail.
type Validation struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// SplitPatterns splits input on top-level commas. Commas inside {...} groups
// are kept. Depth never drops below zero, so a stray '}' does not swallow
// later separators. Empty parts are dropped.
func SplitPatterns(input string) []string {
	var (
		parts []string
		depth int
		start int
	)
	flush := func(end int) {
		part := strings.TrimSpace(input[start:end])
		if part != "" {
			parts = append(parts, part)
		}
	}
	for i := 0; i < len(input); i++ {
		switch input[i] {
		case '{':
			depth++
		case '}':
			if depth > 0 {
				depth--
			}
		case ',':
			if depth == 0 {
				flush(i)
				start = i + 1
			}
		}
	}
	flush(len(input))
	return parts
}

// ValidatePattern checks a single pattern.
func ValidatePattern(pattern string) error {
	if pattern == "" {
		return &PatternError{Pattern: pattern, Err: ErrEmptyPattern}
	}
	if len(pattern) > MaxPatternLength {
		return &PatternError{Pattern: pattern, Err: fmt.Errorf("%w: %d > %d", ErrPatternTooLong, len(pattern), MaxPatternLength)}
	}
	depth := 0
	for i, r := range pattern {
		if !strings.ContainsRune(allowedChars, r) {
			return &PatternError{Pattern: pattern, Err: fmt.Errorf("%w %q at %d", ErrInvalidCharacter, r, i)}
		}
		switch r {
		case '{':
			depth++
		case '}':
			depth--
			if depth < 0 {
				return &PatternError{Pattern: pattern, Err: ErrUnmatchedClosingBrace}
			}
		}
	}
	if depth != 0 {
		return &PatternError{Pattern: pattern, Err: ErrUnclosedBrace}
	}
	return nil
}

// Validate wraps ValidatePattern into a Validation result.
func Validate(pattern string) Validation {
	if err := ValidatePattern(pattern); err != nil {
		return Validation{Valid: false, Error: err.Error()}
	}
	return Validation{Valid: true}
}

// ParsePatterns splits input and validates every part.
func ParsePatterns(input string) ([]string, error) {
	patterns := SplitPatterns(input)
	for _, p := range patterns {
		if err := ValidatePattern(p); err != nil {
			return nil, err
		}
	}
	return patterns, nil
}

// Matcher is a compiled set of patterns.
type Matcher struct {
	globs []glob.Glob
}

// Compile validates and compiles patterns. An empty set matches everything.
func Compile(patterns []string) (*Matcher, error) {
	m := &Matcher{globs: make([]glob.Glob, 0, len(patterns))}
	for _, p := range patterns {
		if err := ValidatePattern(p); err != nil {
			return nil, err
		}
		g, err := glob.Compile(p)
		if err != nil {
			return nil, &PatternError{Pattern: p, Err: err}
		}
		m.globs = append(m.globs, g)
	}
	return m, nil
}

// Match reports whether path matches any compiled pattern.
func (m *Matcher) Match(path string) bool {
	if m == nil || len(m.globs) == 0 {
		return true
	}
	target := StripSystemPrefix(path)
	for _, g := range m.globs {
		if g.Match(target) {
			return true
		}
	}
	return false
}

// MatchesAny reports whether path matches at least one pattern. Invalid
// patterns never match.
func MatchesAny(path string, patterns []string) bool {
	target := StripSystemPrefix(path)
	for _, p := range patterns {
		if ValidatePattern(p) != nil {
			continue
		}
		g, err := glob.Compile(p)
		if err != nil {
			continue
		}
		if g.Match(target) {
			return true
		}
	}
	return false
}

// StripSystemPrefix drops the leading "<systemID>/" of a series id.
// Logical paths carry exactly one '/', series ids carry two.
func StripSystemPrefix(path string) string {
	if strings.Count(path, "/") < 2 {
		return path
	}
	return path[strings.Index(path, "/")+1:]
}
