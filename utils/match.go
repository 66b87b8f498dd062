package utils

import "strings"

// MatchArea reports whether value matches pattern. Patterns are compared
// case-insensitively; '*' matches any run of characters (including none) and
// '_' separated segments are literal. "*" alone matches everything.
func MatchArea(value, pattern string) bool {
	if pattern == "*" {
		return true
	}
	return matchPattern(strings.ToUpper(value), strings.ToUpper(pattern))
}

// matchPattern is a two-pointer glob match with single-star backtracking.
func matchPattern(value, pattern string) bool {
	vIndex, pIndex := 0, 0
	star, mark := -1, 0
	for vIndex < len(value) {
		switch {
		case pIndex < len(pattern) && pattern[pIndex] == '*':
			star = pIndex
			mark = vIndex
			pIndex++
		case pIndex < len(pattern) && pattern[pIndex] == value[vIndex]:
			vIndex++
			pIndex++
		case star >= 0:
			// retry the last '*' consuming one more character
			pIndex = star + 1
			mark++
			vIndex = mark
		default:
			return false
		}
	}
	for pIndex < len(pattern) && pattern[pIndex] == '*' {
		pIndex++
	}
	return pIndex == len(pattern)
}

// ExpandPatterns returns the candidates matched by any of patterns, in candidate order.
func ExpandPatterns(candidates, patterns []string) []string {
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		for _, p := range patterns {
			if MatchArea(c, p) {
				out = append(out, c)
				break
			}
		}
	}
	return out
}
