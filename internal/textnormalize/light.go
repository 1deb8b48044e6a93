package textnormalize

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Light normalizes text for neural model input: Unicode NFKC plus
// whitespace collapse. Unlike Heavy it preserves case, punctuation and
// non-Latin scripts, which cross-encoders handle natively.
func Light(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	s = norm.NFKC.String(s)
	return strings.Join(strings.Fields(s), " ")
}
