package domain

import "strings"

// Wildcard separates the prefix and suffix halves of a pattern.
const Wildcard = "*"

// Pattern is a parsed "<prefix>*<suffix>" filename template.
type Pattern struct {
	Prefix string
	Suffix string
}

// ParsePattern splits raw on its single wildcard. Patterns with zero or more
// than one wildcard are rejected.
func ParsePattern(raw string) (Pattern, error) {
	if strings.Count(raw, Wildcard) != 1 {
		return Pattern{}, invalidPatternError(raw)
	}
	prefix, suffix, _ := strings.Cut(raw, Wildcard)
	return Pattern{Prefix: prefix, Suffix: suffix}, nil
}

// Match reports whether name starts with the prefix and ends with the suffix.
// Matching is case-sensitive.
func (p Pattern) Match(name string) bool {
	return strings.HasPrefix(name, p.Prefix) && strings.HasSuffix(name, p.Suffix)
}

// String renders the pattern back in its configuration form.
func (p Pattern) String() string {
	return p.Prefix + Wildcard + p.Suffix
}
