// Package cache provides the TTL-bounded memoization used by the query
// rewriter, plus deterministic user bucketing for staged rollouts.
//
// Two implementations of TurnCache exist: Memory (in-process, go-cache backed,
// bounded entry count) and Redis (shared across replicas). Both are explicit,
// injectable components so tests can construct isolated instances and assert
// eviction behavior deterministically.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// ErrNotFound is returned when a key is absent or its entry has expired.
var ErrNotFound = errors.New("cache: entry not found")

// TurnCache memoizes serialized per-turn artifacts (rewrite results) with a
// TTL. Values are opaque bytes; callers own the encoding.
type TurnCache interface {
	// Get returns the cached value for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key for the cache's configured TTL.
	// Set is a no-op when ctx is already canceled: a canceled turn must not
	// leave cache writes behind.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key if present.
	Delete(ctx context.Context, key string) error
}

// Key builds the canonical cache key for a rewrite lookup:
// (twin, normalized query, history fingerprint). The query is lowercased and
// whitespace-collapsed before hashing so trivially different spellings of the
// same utterance share an entry.
func Key(twinID, query, historyFingerprint string) string {
	norm := NormalizeQuery(query)
	sum := sha256.Sum256([]byte(norm))
	return "rw:" + twinID + ":" + hex.EncodeToString(sum[:16]) + ":" + historyFingerprint
}

// NormalizeQuery lowercases and collapses interior whitespace. Shared by the
// cache key and the consistency hash so both see the same canonical form.
func NormalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}

// HistoryFingerprint derives a short stable fingerprint from the most recent
// turn texts. Two sessions at the same point in an identical exchange share a
// fingerprint, which is what makes rewrite memoization safe.
func HistoryFingerprint(texts []string) string {
	if len(texts) == 0 {
		return "empty"
	}
	h := sha256.New()
	for _, t := range texts {
		h.Write([]byte(NormalizeQuery(t)))
		h.Write([]byte{0}) // field separator
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}
