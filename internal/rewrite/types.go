// Package rewrite turns a raw conversational utterance into a standalone,
// retrieval-ready query.
//
// The rewriter runs three passes: a fast self-containment check that skips
// all further work, a rule pass that resolves deictic pronouns against
// recent history, and a generative pass that produces the full structured
// rewrite (query, intent, entities, filters). Results are memoized per
// (twin, normalized query, history fingerprint) and the whole operation is
// bounded by a timeout — on timeout or low confidence the caller gets the
// original query back with RewriteApplied=false, never an error that would
// abort the turn.
package rewrite

import (
	"time"

	"github.com/twinforge/twincore/internal/conversation"
)

// Intent classifies what the user is trying to do with a query.
type Intent string

// The fixed intent taxonomy. Downstream components key behavior off these:
// the retrieval orchestrator only consults external tools for intents that
// benefit from them, and the decision engine maps intents to evaluation modes.
const (
	IntentFollowUp         Intent = "follow_up"
	IntentComparison       Intent = "comparison"
	IntentTemporalAnalysis Intent = "temporal_analysis"
	IntentCausalAnalysis   Intent = "causal_analysis"
	IntentProcedural       Intent = "procedural"
	IntentClarification    Intent = "clarification"
	IntentFactualLookup    Intent = "factual_lookup"
	IntentElaboration      Intent = "elaboration"
	IntentAggregation      Intent = "aggregation"
	IntentSmalltalk        Intent = "smalltalk"
)

// Valid reports whether the intent is part of the taxonomy.
func (i Intent) Valid() bool {
	switch i {
	case IntentFollowUp, IntentComparison, IntentTemporalAnalysis,
		IntentCausalAnalysis, IntentProcedural, IntentClarification,
		IntentFactualLookup, IntentElaboration, IntentAggregation,
		IntentSmalltalk:
		return true
	}
	return false
}

// Request carries one utterance plus the context needed to resolve it.
type Request struct {
	TwinID string
	UserID string
	Text   string
	// History holds prior turns, oldest first. Only the most recent
	// MaxHistoryTurns are considered.
	History []conversation.Turn
}

// Result is the outcome of a rewrite. Created once per turn, never mutated.
type Result struct {
	StandaloneQuery string              `json:"standalone_query"`
	Intent          Intent              `json:"intent"`
	Entities        map[string][]string `json:"entities,omitempty"`
	Filters         map[string]string   `json:"filters,omitempty"`
	Confidence      float64             `json:"confidence"`
	RewriteApplied  bool                `json:"rewrite_applied"`
	RequiresHistory bool                `json:"requires_history"`
}

// Config holds the rewriter's tunables. Zero values get defaults from
// the constructor.
type Config struct {
	// Enabled gates the generative pass entirely. When false every query
	// passes through with rule-based intent classification only.
	Enabled bool

	// ConfidenceThreshold is the minimum generative confidence to accept a
	// rewrite. Below it the original query is used. Default 0.7.
	ConfidenceThreshold float64

	// MaxHistoryTurns bounds how many recent turns feed the rewrite.
	// Default 5.
	MaxHistoryTurns int

	// Timeout bounds the whole rewrite including the generative call.
	// Default 3s.
	Timeout time.Duration

	// RolloutPercent stages the generative pass by user bucket, 0-100.
	// Users outside the rollout get the rule pass only. Taken literally:
	// 0 means nobody, so a staged rollout can be dialed all the way down.
	// The config loader owns the production default of 100.
	RolloutPercent int
}

func (c Config) withDefaults() Config {
	if c.ConfidenceThreshold <= 0 {
		c.ConfidenceThreshold = 0.7
	}
	if c.MaxHistoryTurns <= 0 {
		c.MaxHistoryTurns = 5
	}
	if c.Timeout <= 0 {
		c.Timeout = 3 * time.Second
	}
	if c.RolloutPercent > 100 {
		c.RolloutPercent = 100
	}
	return c
}
