package decision

import (
	"github.com/twinforge/twincore/internal/persona"
	"github.com/twinforge/twincore/internal/retrieval"
	"github.com/twinforge/twincore/internal/rewrite"
)

// Mode is the evaluation mode a query is classified into. The mode selects
// which cognitive heuristics apply and whether dimension scoring runs.
type Mode string

const (
	ModeEvaluation Mode = "evaluation"
	ModeAdvice     Mode = "advice"
	ModeFactual    Mode = "factual"
	ModeSmalltalk  Mode = "smalltalk"
)

// DimensionScore is one scored axis with its grounding.
type DimensionScore struct {
	Dimension  string  `json:"dimension"`
	Score      int     `json:"score"` // 1..5
	Reasoning  string  `json:"reasoning"`
	Confidence float64 `json:"confidence"` // 0..1
}

// Output is the structured decision for one turn. Immutable once returned;
// logged for audit.
type Output struct {
	DimensionScores   []DimensionScore `json:"dimension_scores"`
	OverallScore      float64          `json:"overall_score"`
	OverallConfidence float64          `json:"overall_confidence"`
	ValuesPrioritized []string         `json:"values_prioritized"`

	SafetyBlocked bool   `json:"safety_blocked"`
	SafetyReason  string `json:"safety_reason,omitempty"`
	// ResponseTemplate carries the refusal or escalation text when a safety
	// rule matched.
	ResponseTemplate string `json:"response_template,omitempty"`
	Escalated        bool   `json:"escalated"`

	Mode              Mode     `json:"mode"`
	HeuristicsApplied []string `json:"heuristics_applied,omitempty"`

	// Degraded marks heuristic-only scoring after the generative call failed
	// both attempts. The assembler adds a low-confidence disclaimer.
	Degraded bool `json:"degraded"`

	ConsistencyHash  string `json:"consistency_hash"`
	PersonaVersion   string `json:"persona_version"`
	ProcessingTimeMS int64  `json:"processing_time_ms"`
}

// Input carries everything the engine needs for one turn.
type Input struct {
	Spec     *persona.Spec
	Query    string // standalone query from the rewriter
	Intent   rewrite.Intent
	Evidence *retrieval.EvidenceSet
}
