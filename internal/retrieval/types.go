// Package retrieval gathers grounding evidence for a standalone query from
// the verified-answer store, the vector index, and registered tool sources.
//
// Sub-queries run concurrently with independent timeouts; a failed source
// never fails the turn. Verified answers take precedence over vector hits by
// rule, not by score — once an owner corrects an answer it must never be
// displaced by freshly retrieved similar content.
package retrieval

import "sort"

// SourceKind identifies where a candidate came from.
type SourceKind string

const (
	// SourceVerified is the curated, owner-approved answer store.
	SourceVerified SourceKind = "verified"

	// SourceVector is the embedding similarity index.
	SourceVector SourceKind = "vector"

	// SourceTool is an external tool result.
	SourceTool SourceKind = "tool"
)

// Precedence orders source kinds for deduplication and ranking. Higher wins.
func (k SourceKind) Precedence() int {
	switch k {
	case SourceVerified:
		return 3
	case SourceTool:
		return 2
	case SourceVector:
		return 1
	default:
		return 0
	}
}

// Candidate is one piece of retrieved evidence.
type Candidate struct {
	SourceKind  SourceKind `json:"source_kind"`
	SourceID    string     `json:"source_id"`
	Text        string     `json:"text"`
	RawScore    float64    `json:"raw_score"`
	RerankScore *float64   `json:"rerank_score,omitempty"` // nil until reranked
	CitationRef string     `json:"citation_ref,omitempty"`
}

// EvidenceSet is an ordered set of candidates. Ordering invariant: all
// verified-source candidates come before any non-verified candidate,
// regardless of scores. Within each band, candidates sort by score
// descending (rerank score when present, raw score otherwise).
type EvidenceSet struct {
	Candidates []Candidate `json:"candidates"`

	// Partial is true when at least one sub-retrieval failed and the set
	// was assembled from the sources that succeeded.
	Partial bool `json:"partial,omitempty"`

	// FailedSources names the sub-retrievals that errored or timed out.
	FailedSources []string `json:"failed_sources,omitempty"`
}

// IDs returns the candidate source ids in order. Used for the consistency
// hash and telemetry.
func (e *EvidenceSet) IDs() []string {
	if e == nil {
		return nil
	}
	ids := make([]string, len(e.Candidates))
	for i, c := range e.Candidates {
		ids[i] = c.SourceID
	}
	return ids
}

// VerifiedCount returns how many candidates are verified-source.
func (e *EvidenceSet) VerifiedCount() int {
	n := 0
	for _, c := range e.Candidates {
		if c.SourceKind == SourceVerified {
			n++
		}
	}
	return n
}

// Sort enforces the ordering invariant: verified band first, then the rest,
// score-descending within each band. Stable so equal-scored candidates keep
// their merge order.
func (e *EvidenceSet) Sort() {
	sort.SliceStable(e.Candidates, func(i, j int) bool {
		a, b := e.Candidates[i], e.Candidates[j]
		av, bv := a.SourceKind == SourceVerified, b.SourceKind == SourceVerified
		if av != bv {
			return av
		}
		return effectiveScore(a) > effectiveScore(b)
	})
}

// Truncate keeps at most k candidates. Verified candidates are retained
// first; truncation never drops a verified candidate while keeping a
// non-verified one.
func (e *EvidenceSet) Truncate(k int) {
	if k <= 0 || len(e.Candidates) <= k {
		return
	}
	e.Sort()
	e.Candidates = e.Candidates[:k]
}

func effectiveScore(c Candidate) float64 {
	if c.RerankScore != nil {
		return *c.RerankScore
	}
	return c.RawScore
}
