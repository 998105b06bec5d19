package retrieval

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

// DedupKey derives the deduplication key for candidate text: punctuation
// stripped, lowercased, whitespace collapsed, then hashed. Near-identical
// content retrieved from two sources collapses onto one key.
func DedupKey(text string) string {
	sum := sha256.Sum256([]byte(normalizeText(text)))
	return hex.EncodeToString(sum[:16])
}

// normalizeText lowercases, drops punctuation, and collapses whitespace.
func normalizeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
		// Punctuation and symbols are dropped entirely.
	}
	return strings.TrimRight(b.String(), " ")
}

// merge collapses duplicate candidates, keeping for each dedup key the
// candidate with the highest source precedence; ties keep the higher raw
// score. Order of first appearance is preserved for the survivors.
func merge(groups ...[]Candidate) []Candidate {
	byKey := make(map[string]int) // dedup key -> index in out
	var out []Candidate

	for _, group := range groups {
		for _, c := range group {
			key := DedupKey(c.Text)
			idx, seen := byKey[key]
			if !seen {
				byKey[key] = len(out)
				out = append(out, c)
				continue
			}
			kept := out[idx]
			if c.SourceKind.Precedence() > kept.SourceKind.Precedence() ||
				(c.SourceKind.Precedence() == kept.SourceKind.Precedence() && c.RawScore > kept.RawScore) {
				out[idx] = c
			}
		}
	}
	return out
}
