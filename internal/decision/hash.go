package decision

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/twinforge/twincore/internal/cache"
)

// ConsistencyHash fingerprints the scoring inputs and the structural outputs
// of one decision. Two identical inputs against an unchanged persona spec
// must hash identically, which is what the repeatability tests assert.
//
// The hash is a pure function over a normalized tuple: query text is
// normalized, evidence identifiers are sorted, and only the integer dimension
// scores enter the digest. Free-text reasoning and confidences come from the
// generative step and are excluded so ordinary phrasing variance does not
// raise false inconsistency alarms.
func ConsistencyHash(query string, evidenceIDs []string, personaVersion string, mode Mode, scores []DimensionScore) string {
	ids := make([]string, len(evidenceIDs))
	copy(ids, evidenceIDs)
	sort.Strings(ids)

	parts := make([]string, 0, len(scores))
	for _, s := range scores {
		parts = append(parts, fmt.Sprintf("%s=%d", s.Dimension, s.Score))
	}
	sort.Strings(parts)

	var b strings.Builder
	b.WriteString("q:")
	b.WriteString(cache.NormalizeQuery(query))
	b.WriteString("|ev:")
	b.WriteString(strings.Join(ids, ","))
	b.WriteString("|pv:")
	b.WriteString(personaVersion)
	b.WriteString("|mode:")
	b.WriteString(string(mode))
	b.WriteString("|scores:")
	b.WriteString(strings.Join(parts, ","))

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
