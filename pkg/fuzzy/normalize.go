// Package fuzzy provides string normalisation for catalog queries and name comparison.
package fuzzy

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var (
	whitespaceRegex = regexp.MustCompile(`\s+`)
	punctRegex      = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)

	quoteReplacer = strings.NewReplacer(
		"‘", "'", "’", "'", "‛", "'", "′", "'",
		"“", `"`, "”", `"`, "″", `"`,
		"‐", "-", "‑", "-", "‒", "-", "–", "-", "—", "-",
	)
)

type Normalizer struct{}

func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// CleanQuery prepares free text for a catalog search: compatibility-normalised,
// typographic quotes and dashes flattened, whitespace collapsed. Case and
// punctuation are kept since catalogs rank on them.
func (n *Normalizer) CleanQuery(text string) string {
	text = norm.NFKC.String(text)
	text = quoteReplacer.Replace(text)
	text = whitespaceRegex.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// Key returns an aggressive comparison key: accents stripped, punctuation removed, case folded.
func (n *Normalizer) Key(text string) string {
	text = norm.NFKD.String(text)

	var result strings.Builder
	for _, r := range text {
		if !unicode.IsMark(r) {
			result.WriteRune(r)
		}
	}
	text = result.String()

	text = punctRegex.ReplaceAllString(text, " ")
	text = whitespaceRegex.ReplaceAllString(text, " ")
	return strings.TrimSpace(cases.Fold().String(text))
}

// SameTitle reports whether two titles are equal ignoring case, Unicode form
// and surrounding whitespace. Punctuation and featured-artist suffixes still count.
func SameTitle(a, b string) bool {
	return fold(a) == fold(b)
}

// SameArtist applies the SameTitle comparison to artist names.
func SameArtist(a, b string) bool {
	return fold(a) == fold(b)
}

func fold(s string) string {
	s = norm.NFC.String(strings.TrimSpace(s))
	s = quoteReplacer.Replace(s)
	return cases.Fold().String(s)
}
