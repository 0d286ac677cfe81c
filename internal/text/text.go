// Package text cleans up scraped comment and post bodies.
package text

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	multiNewlinePattern = regexp.MustCompile(`\n{3,}`)
	multiSpacePattern   = regexp.MustCompile(`[ \t\r\f\v]{2,}`)
)

// Normalize collapses runs of blank lines and spaces, trims every line and
// the result. Paragraph breaks survive as a single blank line.
func Normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = multiSpacePattern.ReplaceAllString(s, " ")

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	s = strings.Join(lines, "\n")

	s = multiNewlinePattern.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// Truncate shortens s to at most n runes
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
