package decision

import (
	"regexp"

	"github.com/twinforge/twincore/internal/persona"
	"github.com/twinforge/twincore/internal/rewrite"
)

// intentModes maps the rewriter's intent taxonomy onto evaluation modes.
// Table-driven so the mapping stays auditable.
var intentModes = map[rewrite.Intent]Mode{
	rewrite.IntentSmalltalk:        ModeSmalltalk,
	rewrite.IntentProcedural:       ModeAdvice,
	rewrite.IntentComparison:       ModeEvaluation,
	rewrite.IntentCausalAnalysis:   ModeEvaluation,
	rewrite.IntentAggregation:      ModeEvaluation,
	rewrite.IntentFollowUp:         ModeFactual,
	rewrite.IntentTemporalAnalysis: ModeFactual,
	rewrite.IntentClarification:    ModeFactual,
	rewrite.IntentFactualLookup:    ModeFactual,
	rewrite.IntentElaboration:      ModeFactual,
}

var (
	adviceRe     = regexp.MustCompile(`(?i)\b(should (i|we)|would you|do you recommend|what would you do)\b`)
	evaluationRe = regexp.MustCompile(`(?i)\b(evaluate|assess|rate|how (good|strong|viable)|what do you think (of|about)|worth (it|pursuing|doing))\b`)
)

// ClassifyMode maps the rewritten query and its intent into one evaluation
// mode. Textual cues override the intent table: a factual-looking query that
// asks for a judgement still gets the full scoring path.
func ClassifyMode(query string, intent rewrite.Intent) Mode {
	if evaluationRe.MatchString(query) {
		return ModeEvaluation
	}
	if adviceRe.MatchString(query) {
		return ModeAdvice
	}
	if m, ok := intentModes[intent]; ok {
		return m
	}
	return ModeFactual
}

// scoredMode reports whether a mode runs dimension scoring.
func scoredMode(m Mode) bool {
	return m == ModeEvaluation || m == ModeAdvice
}

// SelectHeuristics returns the spec heuristics that apply in the given mode.
// A heuristic with no mode tags applies everywhere.
func SelectHeuristics(spec *persona.Spec, mode Mode) []persona.Heuristic {
	var out []persona.Heuristic
	for _, h := range spec.Heuristics {
		if len(h.Modes) == 0 {
			out = append(out, h)
			continue
		}
		for _, m := range h.Modes {
			if Mode(m) == mode {
				out = append(out, h)
				break
			}
		}
	}
	return out
}
