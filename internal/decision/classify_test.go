package decision

import (
	"testing"

	"github.com/twinforge/twincore/internal/rewrite"
)

func TestClassifyMode(t *testing.T) {
	tests := []struct {
		query  string
		intent rewrite.Intent
		want   Mode
	}{
		{"What was the Q4 revenue?", rewrite.IntentFactualLookup, ModeFactual},
		{"hey, how's it going", rewrite.IntentSmalltalk, ModeSmalltalk},
		{"How do I file the annual report?", rewrite.IntentProcedural, ModeAdvice},
		{"Compare our churn to last year", rewrite.IntentComparison, ModeEvaluation},
		{"Why did revenue drop in Q2?", rewrite.IntentCausalAnalysis, ModeEvaluation},
		// Textual cues override the intent table.
		{"Should we hire a CFO now?", rewrite.IntentFactualLookup, ModeAdvice},
		{"Evaluate this acquisition target", rewrite.IntentFactualLookup, ModeEvaluation},
		{"What do you think of the new pricing?", rewrite.IntentElaboration, ModeEvaluation},
		// Unknown intent falls back to factual.
		{"anything", rewrite.Intent("mystery"), ModeFactual},
	}
	for _, tt := range tests {
		if got := ClassifyMode(tt.query, tt.intent); got != tt.want {
			t.Errorf("ClassifyMode(%q, %s) = %s, want %s", tt.query, tt.intent, got, tt.want)
		}
	}
}

func TestSelectHeuristics(t *testing.T) {
	spec := testSpec()

	eval := SelectHeuristics(spec, ModeEvaluation)
	if len(eval) != 2 {
		t.Errorf("evaluation heuristics = %d, want 2", len(eval))
	}

	// market-first is evaluation-only; the untagged rule applies everywhere.
	factual := SelectHeuristics(spec, ModeFactual)
	if len(factual) != 1 || factual[0].Name != "cite-numbers" {
		t.Errorf("factual heuristics = %+v", factual)
	}
}
