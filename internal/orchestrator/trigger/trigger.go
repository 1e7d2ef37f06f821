// Package trigger decides whether a recognized frame is worth extracting.
package trigger

import "strings"

// Detector matches a keyword case-insensitively against recognized text.
type Detector struct {
	keyword string
}

// New creates a detector for keyword. An empty keyword never matches.
func New(keyword string) Detector {
	return Detector{keyword: strings.ToLower(strings.TrimSpace(keyword))}
}

// Keyword returns the normalized keyword.
func (d Detector) Keyword() string { return d.keyword }

// Match reports whether the keyword occurs in the lines joined by newline.
func (d Detector) Match(lines []string) bool {
	if d.keyword == "" || len(lines) == 0 {
		return false
	}
	return strings.Contains(strings.ToLower(strings.Join(lines, "\n")), d.keyword)
}
