package filter

import "strings"

// Spec captures the include/exclude substring patterns and the count cap applied
// to one class of candidates (workspace slugs or repository names).
type Spec struct {
	IncludePatterns []string
	ExcludePatterns []string
	MaximumCount    int
}

// Matches reports whether the candidate name passes the spec. Patterns use
// plain substring matching, not globs: the pattern "test" matches
// "latest-app". Exclusion always wins over inclusion; with no include
// patterns configured every non-excluded candidate passes.
func Matches(candidateName string, spec Spec) bool {
	for _, excludePattern := range spec.ExcludePatterns {
		if len(excludePattern) == 0 {
			continue
		}
		if strings.Contains(candidateName, excludePattern) {
			return false
		}
	}

	includeConfigured := false
	for _, includePattern := range spec.IncludePatterns {
		if len(includePattern) == 0 {
			continue
		}
		includeConfigured = true
		if strings.Contains(candidateName, includePattern) {
			return true
		}
	}

	return !includeConfigured
}

// SelectNames returns the candidates passing the spec in input order.
func SelectNames(candidateNames []string, spec Spec) []string {
	selected := make([]string, 0, len(candidateNames))
	for _, candidateName := range candidateNames {
		if Matches(candidateName, spec) {
			selected = append(selected, candidateName)
		}
	}
	return selected
}

// ApplyCap truncates the list to the spec's maximum count while preserving
// input order. A maximum of zero means unlimited and returns the input
// unchanged.
func ApplyCap[Element any](elements []Element, maximumCount int) []Element {
	if maximumCount <= 0 || len(elements) <= maximumCount {
		return elements
	}
	return elements[:maximumCount]
}

// ParsePatternList splits a comma-separated pattern list, trimming whitespace
// and dropping empty entries.
func ParsePatternList(rawPatterns string) []string {
	if len(strings.TrimSpace(rawPatterns)) == 0 {
		return nil
	}
	segments := strings.Split(rawPatterns, ",")
	patterns := make([]string, 0, len(segments))
	for _, segment := range segments {
		trimmed := strings.TrimSpace(segment)
		if len(trimmed) == 0 {
			continue
		}
		patterns = append(patterns, trimmed)
	}
	return patterns
}
