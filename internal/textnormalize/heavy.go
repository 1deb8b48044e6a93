package textnormalize

import (
	"strings"
	"unicode"

	"github.com/mozillazg/go-unidecode"
	"golang.org/x/text/unicode/norm"
)

// Heavy normalizes a label for use as a grouping key:
// - Unicode NFKC
// - transliteration to ASCII (best-effort)
// - lowercase
// - punctuation collapse to spaces
// - whitespace collapse
//
// Catalog genre labels arrive in mixed case, scripts and punctuation
// ("Hip-Hop", "hip hop", "HIPHOP"); grouping on the heavy form keeps them in
// one bucket.
func Heavy(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	s = norm.NFKC.String(s)
	s = unidecode.Unidecode(s)
	s = strings.ToLower(s)

	var b strings.Builder
	b.Grow(len(s))

	space := false
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
			continue
		}
		space = true
	}

	out := strings.TrimSpace(b.String())
	if out == "" {
		return ""
	}
	// Final collapse in case of leading/trailing spaces.
	return strings.Join(strings.Fields(out), " ")
}
