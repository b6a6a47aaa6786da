package utils

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// CleanText collapses runs of whitespace (non-breaking spaces included) into single spaces.
func CleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// FoldText lowercases s and strips diacritics, so "París" and "paris" compare equal.
func FoldText(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(CleanText(folded))
}

// FoldRune is FoldText for a single rune: the lower case base letter of r.
// Unlike FoldText it never removes or merges runes, so positions in a folded
// rune slice match the original.
func FoldRune(r rune) rune {
	for _, base := range norm.NFD.String(string(r)) {
		if !unicode.Is(unicode.Mn, base) {
			return unicode.ToLower(base)
		}
	}
	return unicode.ToLower(r)
}
