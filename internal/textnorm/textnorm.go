// Package textnorm canonicalizes transcript text before matching.
package textnorm

import "strings"

// Normalize lowercases s, trims it and collapses every run of whitespace to a
// single space. Normalize(Normalize(s)) == Normalize(s).
func Normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Contains reports whether the normalized form of phrase occurs in text.
// text is expected to be normalized already. An empty phrase never matches.
func Contains(text, phrase string) bool {
	p := Normalize(phrase)
	if p == "" {
		return false
	}
	return strings.Contains(text, p)
}
