package telemetry

import (
	"context"
	"log/slog"
)

// TurnTrace is the per-turn record emitted for offline evaluation and
// regression detection. One record per processed turn, degraded or not.
type TurnTrace struct {
	TwinID string `json:"twin_id"`
	UserID string `json:"user_id"`

	RewriteApplied    bool    `json:"rewrite_applied"`
	RewriteConfidence float64 `json:"rewrite_confidence"`
	Intent            string  `json:"intent"`

	EvidenceCount    int  `json:"evidence_count"`
	VerifiedCount    int  `json:"verified_count"`
	RetrievalPartial bool `json:"retrieval_partial"`
	RerankDegraded   bool `json:"rerank_degraded"`

	Mode             string         `json:"mode"`
	DimensionScores  map[string]int `json:"dimension_scores,omitempty"`
	OverallScore     float64        `json:"overall_score"`
	SafetyBlocked    bool           `json:"safety_blocked"`
	Escalated        bool           `json:"escalated"`
	DecisionDegraded bool           `json:"decision_degraded"`
	ConsistencyHash  string         `json:"consistency_hash"`

	RewriteMS   int64 `json:"rewrite_ms"`
	RetrievalMS int64 `json:"retrieval_ms"`
	RerankMS    int64 `json:"rerank_ms"`
	DecisionMS  int64 `json:"decision_ms"`
	TotalMS     int64 `json:"total_ms"`
}

// Sink receives completed turn traces. Emit must not block the turn; slow
// sinks should buffer internally.
type Sink interface {
	Emit(ctx context.Context, t TurnTrace)
}

// SlogSink writes turn traces as structured log records.
type SlogSink struct {
	Logger *slog.Logger
}

// Emit implements Sink.
func (s *SlogSink) Emit(_ context.Context, t TurnTrace) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("turn trace",
		"twin", t.TwinID,
		"rewrite_applied", t.RewriteApplied,
		"intent", t.Intent,
		"evidence_count", t.EvidenceCount,
		"verified_count", t.VerifiedCount,
		"retrieval_partial", t.RetrievalPartial,
		"rerank_degraded", t.RerankDegraded,
		"mode", t.Mode,
		"overall_score", t.OverallScore,
		"safety_blocked", t.SafetyBlocked,
		"escalated", t.Escalated,
		"decision_degraded", t.DecisionDegraded,
		"consistency_hash", t.ConsistencyHash,
		"total_ms", t.TotalMS,
	)
}

// NopSink discards traces. Tests.
type NopSink struct{}

// Emit implements Sink.
func (NopSink) Emit(context.Context, TurnTrace) {}
