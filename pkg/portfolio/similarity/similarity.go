// Package similarity scores how much two plain-text extractions of content
// have in common. The score decides whether an edit is minor (update the
// latest version in place) or major (snapshot a new version).
package similarity

import "strings"

// DefaultThreshold is the score at or above which an edit counts as minor.
const DefaultThreshold = 0.85

// Score returns the Jaccard similarity of the lowercase, whitespace-delimited
// word sets of a and b. The result is always in [0, 1].
//
// Identical inputs (including two empty strings) score 1.0. When exactly one
// side is empty the score is 0.0.
func Score(a, b string) float64 {
	if a == b {
		return 1.0
	}
	if a == "" || b == "" {
		return 0.0
	}

	setA := words(a)
	setB := words(b)

	intersection := 0
	for w := range setA {
		if _, ok := setB[w]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 1.0
	}
	return float64(intersection) / float64(union)
}

// IsMinorEdit reports whether score meets threshold. The comparison is inclusive.
func IsMinorEdit(score, threshold float64) bool {
	return score >= threshold
}

func words(s string) map[string]struct{} {
	fields := strings.Fields(strings.ToLower(s))
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}
