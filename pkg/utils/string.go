package utils

import (
	"strings"

	"github.com/charmbracelet/x/ansi"
)

// Truncate shortens s to at most maxWidth terminal cells, ending in "..."
// when anything was cut. Wide characters and ANSI styling are respected.
func Truncate(s string, maxWidth int) string {
	return ansi.Truncate(s, max(maxWidth, 4), "...")
}

// OneLine collapses all whitespace runs, newlines included, to single spaces.
func OneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Plural returns word with an "s" appended unless n is 1.
func Plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}
