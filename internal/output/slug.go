package output

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	nonSlugRe  = regexp.MustCompile(`[^a-z0-9-]`)
	dashRunRe  = regexp.MustCompile(`-+`)
	stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
)

// Slugify converts a string to a path-safe ASCII slug. Vietnamese
// diacritics are dropped and đ becomes d.
func Slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if folded, _, err := transform.String(stripMarks, s); err == nil {
		s = folded
	}
	s = strings.ReplaceAll(s, "đ", "d")
	s = nonSlugRe.ReplaceAllString(s, "-")
	s = dashRunRe.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > 50 {
		s = strings.TrimRight(s[:50], "-")
	}
	return s
}
