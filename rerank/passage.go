package rerank

import (
	"strconv"
	"strings"

	"github.com/doujins-org/rankkit/internal/textnormalize"
	"github.com/doujins-org/rankkit/retrieve"
)

// DefaultPassageRunes caps passage length; cross-encoders truncate anyway,
// shipping less keeps request bodies small.
const DefaultPassageRunes = 1024

// Passage flattens a candidate into cross-encoder input text: title, then
// catalog facets, then description, normalized and capped at maxRunes
// (<=0 means DefaultPassageRunes).
func Passage(c retrieve.Candidate, maxRunes int) string {
	if maxRunes <= 0 {
		maxRunes = DefaultPassageRunes
	}

	parts := make([]string, 0, 3)
	if t := textnormalize.Light(c.Title); t != "" {
		parts = append(parts, t)
	}

	facets := make([]string, 0, 4)
	for _, f := range []string{c.Genre, c.Mood, c.Format} {
		if f = textnormalize.Light(f); f != "" {
			facets = append(facets, f)
		}
	}
	if c.BPM > 0 {
		facets = append(facets, strconv.Itoa(c.BPM)+" bpm")
	}
	if len(facets) > 0 {
		parts = append(parts, strings.Join(facets, ", "))
	}

	if d := textnormalize.Light(c.Description); d != "" {
		parts = append(parts, d)
	}

	out := strings.Join(parts, ". ")
	if runes := []rune(out); len(runes) > maxRunes {
		out = strings.TrimSpace(string(runes[:maxRunes]))
	}
	return out
}

// Documents builds the cross-encoder batch for a candidate slice.
func Documents(candidates []retrieve.Candidate, maxRunes int) []Document {
	docs := make([]Document, len(candidates))
	for i, c := range candidates {
		docs[i] = Document{ItemID: c.ItemID, Text: Passage(c, maxRunes)}
	}
	return docs
}
