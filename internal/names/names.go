// Package names normalizes student names for lookup.
package names

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold removes diacritical marks from a string (e.g., "Jiří" -> "Jiri").
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, _ := transform.String(t, s)
	return result
}

// Normalize returns the comparison key of a student name: no diacritics,
// lowercase, dashes as spaces, whitespace runs collapsed.
// The SQL backends compute the same key in their FindStudentsByName queries.
func Normalize(name string) string {
	name = strings.ToLower(Fold(name))
	name = strings.ReplaceAll(name, "-", " ")
	return strings.Join(strings.Fields(name), " ")
}
