// Package match scores provider candidates against a target track and
// derives the cache keys used for resolution outcomes.
package match

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Typographic variants folded to their ASCII counterparts before punctuation
// is stripped, so "Don’t" and "Don't" normalize identically.
var quoteFolder = strings.NewReplacer(
	"‘", "'", "’", "'", "‚", "'", "‛", "'", "′", "'", "´", "'", "`", "'",
	"“", `"`, "”", `"`, "„", `"`, "‟", `"`, "″", `"`,
	"‐", "-", "‑", "-", "‒", "-", "–", "-", "—", "-", "―", "-", "−", "-",
)

// Normalize canonicalizes an artist, title or album string for comparison
// and key derivation: lowercase, no diacritics, full-width forms folded to
// ASCII, apostrophes dropped, other punctuation replaced by spaces, and
// whitespace collapsed. Normalize(Normalize(s)) == Normalize(s).
func Normalize(s string) string {
	s = quoteFolder.Replace(s)
	s = strings.ToLower(s)

	// NFKD folds full-width and compatibility forms; the chain is built per
	// call because transformers carry state.
	folded, _, err := transform.String(transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn))), s)
	if err == nil {
		s = strings.ToLower(folded)
	}

	var b strings.Builder
	b.Grow(len(s))
	space := true
	for _, r := range s {
		switch {
		case r == '\'':
			continue
		case unicode.IsLetter(r), unicode.IsDigit(r), unicode.IsMark(r) && !unicode.Is(unicode.Mn, r):
			b.WriteRune(r)
			space = false
		default:
			if !space {
				b.WriteByte(' ')
				space = true
			}
		}
	}
	return strings.TrimRight(b.String(), " ")
}

// PrimaryArtist returns the part of a raw artist credit before the first
// comma or ampersand: "Artist A, Artist B" and "Artist A & Artist B" both
// yield "Artist A".
func PrimaryArtist(artist string) string {
	if i := strings.IndexAny(artist, ",&"); i >= 0 {
		artist = artist[:i]
	}
	return strings.TrimSpace(artist)
}
