package textutil

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// CollapseSpace trims s and replaces every run of whitespace with a single space.
func CollapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Fold lowercases s, strips diacritics and collapses whitespace so that
// "Não  Cobrar" and "nao cobrar" compare equal.
func Fold(s string) string {
	foldAccents := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(foldAccents, s)
	if err != nil {
		folded = s
	}
	return CollapseSpace(strings.ToLower(folded))
}

// ContainsAny reports whether the folded form of s contains any of the
// (already folded) markers.
func ContainsAny(s string, markers []string) bool {
	s = Fold(s)
	for _, m := range markers {
		if m != "" && strings.Contains(s, m) {
			return true
		}
	}
	return false
}
