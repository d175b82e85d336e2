package search

import (
	"strings"
	"unicode"
)

const maxQueryLength = 100

// SanitizeQuery trims and length-limits user input and drops characters
// bleve's query string syntax would interpret. Queries are built from match
// and prefix clauses, so the result is only ever treated as literal text.
func SanitizeQuery(input string) string {
	input = strings.TrimSpace(input)
	if len(input) > maxQueryLength {
		input = input[:maxQueryLength]
	}
	input = strings.Map(func(r rune) rune {
		switch r {
		case '+', '-', '=', '&', '|', '>', '<', '!', '(', ')', '{', '}', '[', ']', '^', '"', '~', '*', '?', ':', '\\', '/':
			return ' '
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, input)
	return strings.Join(strings.Fields(input), " ")
}
