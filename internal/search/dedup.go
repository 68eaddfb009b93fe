package search

import (
	"crypto/sha256"
	"strings"
)

// dedupe collapses results with near-identical text, keeping the first
// (highest-ranked) instance of each. Input order is preserved.
func dedupe(results []Result) []Result {
	seen := make(map[[32]byte]bool, len(results))
	out := results[:0]
	for _, r := range results {
		key := sha256.Sum256([]byte(normalizeText(r.Entry.Text)))
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, r)
	}
	return out
}

// normalizeText lowercases and collapses whitespace so trivially
// reformatted copies of the same text dedupe together.
func normalizeText(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}
