// Package diff computes line-level differences between two plain-text
// extractions using a longest-common-subsequence table.
package diff

import "strings"

// LineType classifies a diff line.
type LineType string

const (
	Added     LineType = "added"
	Removed   LineType = "removed"
	Unchanged LineType = "unchanged"
)

// Line is one entry of a diff.
type Line struct {
	Type    LineType `json:"type"`
	Content string   `json:"content"`
}

// Result is a computed diff with its statistics.
type Result struct {
	Lines []Line `json:"lines"`
	Stats Stats  `json:"stats"`
}

// Stats summarizes a diff.
type Stats struct {
	Added     int `json:"added"`
	Removed   int `json:"removed"`
	Unchanged int `json:"unchanged"`
}

// Empty reports whether the diff contains no additions or removals.
func (s Stats) Empty() bool {
	return s.Added == 0 && s.Removed == 0
}

// Bar splits width cells proportionally between added and removed lines.
// Cells left over when the diff is small relative to width stay neutral.
type Bar struct {
	Added   int `json:"added"`
	Removed int `json:"removed"`
	Neutral int `json:"neutral"`
}

// Bar renders the proportion bar for width cells.
func (s Stats) Bar(width int) Bar {
	if width <= 0 {
		return Bar{}
	}
	changed := s.Added + s.Removed
	if changed == 0 {
		return Bar{Neutral: width}
	}
	total := changed + s.Unchanged
	filled := width
	if total > changed {
		filled = (changed*width + total - 1) / total
	}
	added := (s.Added*filled + changed/2) / changed
	if s.Added > 0 && added == 0 {
		added = 1
	}
	if added > filled {
		added = filled
	}
	removed := filled - added
	if s.Removed > 0 && removed == 0 && added > 1 {
		added--
		removed = 1
	}
	return Bar{Added: added, Removed: removed, Neutral: width - added - removed}
}

// Compute diffs oldText against newText line by line. An empty string has
// no lines. When both directions of the backtrack have equal LCS length the
// new-side line is consumed first, so the result favors "added".
func Compute(oldText, newText string) Result {
	a := splitLines(oldText)
	b := splitLines(newText)
	m, n := len(a), len(b)

	table := make([][]int, m+1)
	for i := range table {
		table[i] = make([]int, n+1)
	}
	for i := 1; i <= m; i++ {
		for j := 1; j <= n; j++ {
			if a[i-1] == b[j-1] {
				table[i][j] = table[i-1][j-1] + 1
			} else {
				table[i][j] = max(table[i-1][j], table[i][j-1])
			}
		}
	}

	lines := make([]Line, 0, m+n)
	i, j := m, n
	for i > 0 || j > 0 {
		switch {
		case i > 0 && j > 0 && a[i-1] == b[j-1]:
			lines = append(lines, Line{Type: Unchanged, Content: a[i-1]})
			i--
			j--
		case j > 0 && (i == 0 || table[i][j-1] >= table[i-1][j]):
			lines = append(lines, Line{Type: Added, Content: b[j-1]})
			j--
		default:
			lines = append(lines, Line{Type: Removed, Content: a[i-1]})
			i--
		}
	}

	var stats Stats
	for l, r := 0, len(lines)-1; l < r; l, r = l+1, r-1 {
		lines[l], lines[r] = lines[r], lines[l]
	}
	for _, line := range lines {
		switch line.Type {
		case Added:
			stats.Added++
		case Removed:
			stats.Removed++
		default:
			stats.Unchanged++
		}
	}
	return Result{Lines: lines, Stats: stats}
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}
