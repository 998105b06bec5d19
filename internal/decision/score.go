package decision

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/twinforge/twincore/internal/conversation"
	"github.com/twinforge/twincore/internal/persona"
	"github.com/twinforge/twincore/internal/retrieval"
)

// maxScoringResponseBytes bounds the model response before parsing (32 KB).
const maxScoringResponseBytes = 32 * 1024

// lowConfidenceCap is the ceiling applied to any dimension the model could
// not ground in retrieved evidence. The engine never reports a
// high-confidence score without grounding.
const lowConfidenceCap = 0.3

// scoringPrompt asks the model to score the persona's dimensions against the
// evidence. Evidence and query are wrapped in nonce delimiters so embedded
// instructions cannot steer the scoring. %s placeholders: (1) role,
// (2) reasoning style, (3) heuristics, (4) dimensions, (5) nonce,
// (6) evidence, (7) nonce, (8) query.
const scoringPrompt = `You are the reasoning core of a digital twin acting as %s. Reasoning style: %s.

Apply these reasoning rules, in order:
%s

Score each dimension below from 1 (very weak) to 5 (very strong) for the user's question, judged strictly from the evidence provided. For each dimension give a one-sentence reasoning grounded in the evidence and a confidence 0.0-1.0. If the evidence does not support a dimension, either omit it or set "grounded" to false with low confidence. Never invent facts.

Dimensions:
%s

Output format: a single JSON object.
Example: {"scores": [{"dimension": "market", "score": 4, "reasoning": "TAM of $2B cited in evidence [1]", "confidence": 0.8, "grounded": true}]}

===EVIDENCE_%s===
%s
===END_EVIDENCE_%s===

Question: %s

Score as JSON:`

// Generator abstracts the generative reasoning call so tests can substitute
// a deterministic implementation.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GenkitGenerator calls a Genkit-registered model by name.
type GenkitGenerator struct {
	G         *genkit.Genkit
	ModelName string
}

// Generate implements Generator.
func (g *GenkitGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := genkit.Generate(ctx, g.G,
		ai.WithModelName(g.ModelName),
		ai.WithPrompt(prompt),
	)
	if err != nil {
		return "", fmt.Errorf("generating scores: %w", err)
	}
	return resp.Text(), nil
}

// buildScoringPrompt renders the prompt for one turn.
func buildScoringPrompt(spec *persona.Spec, heuristics []persona.Heuristic, query string, ev *retrieval.EvidenceSet) (string, error) {
	nonce, err := scoringNonce()
	if err != nil {
		return "", err
	}

	var rules strings.Builder
	for i, h := range heuristics {
		fmt.Fprintf(&rules, "%d. %s", i+1, h.Rule)
		if h.VerificationRequired {
			rules.WriteString(" (conclusions must cite evidence)")
		}
		rules.WriteString("\n")
	}
	if rules.Len() == 0 {
		rules.WriteString("1. Judge strictly from the evidence.\n")
	}

	var dims strings.Builder
	for _, d := range spec.Dimensions {
		fmt.Fprintf(&dims, "- %s: %s\n", d.Name, d.Description)
	}

	var evidence strings.Builder
	if ev != nil {
		for i, c := range ev.Candidates {
			fmt.Fprintf(&evidence, "[%d] (%s) %s\n", i+1, c.SourceKind,
				conversation.SanitizeDelimiters(c.Text))
		}
	}
	if evidence.Len() == 0 {
		evidence.WriteString("(no evidence retrieved)\n")
	}

	return fmt.Sprintf(scoringPrompt,
		spec.Identity.Role, spec.Identity.ReasoningStyle,
		rules.String(), dims.String(),
		nonce, evidence.String(), nonce,
		conversation.SanitizeDelimiters(query)), nil
}

type rawDimensionScore struct {
	Dimension  string  `json:"dimension"`
	Score      float64 `json:"score"`
	Reasoning  string  `json:"reasoning"`
	Confidence float64 `json:"confidence"`
	Grounded   *bool   `json:"grounded"`
}

type rawScoringResponse struct {
	Scores []rawDimensionScore `json:"scores"`
}

// parseScoringResponse validates and normalizes the model's JSON output.
// Unknown dimensions are dropped, scores are clamped to 1..5, and any score
// the model flagged ungrounded (or produced with no evidence present) is
// capped at lowConfidenceCap.
func parseScoringResponse(raw string, spec *persona.Spec, hasEvidence bool) ([]DimensionScore, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil, fmt.Errorf("%w: empty response", ErrMalformedScoring)
	}
	if len(text) > maxScoringResponseBytes {
		return nil, fmt.Errorf("%w: response too large (%d bytes)", ErrMalformedScoring, len(text))
	}
	text = stripScoringFences(text)

	var resp rawScoringResponse
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedScoring, err)
	}
	if len(resp.Scores) == 0 {
		return nil, fmt.Errorf("%w: no scores", ErrMalformedScoring)
	}

	known := make(map[string]bool, len(spec.Dimensions))
	for _, d := range spec.Dimensions {
		known[d.Name] = true
	}

	seen := make(map[string]bool, len(resp.Scores))
	out := make([]DimensionScore, 0, len(resp.Scores))
	for _, rs := range resp.Scores {
		if !known[rs.Dimension] || seen[rs.Dimension] {
			continue
		}
		seen[rs.Dimension] = true

		score := int(rs.Score + 0.5)
		if score < 1 {
			score = 1
		} else if score > 5 {
			score = 5
		}

		conf := rs.Confidence
		if conf < 0 {
			conf = 0
		} else if conf > 1 {
			conf = 1
		}
		ungrounded := rs.Grounded != nil && !*rs.Grounded
		if (ungrounded || !hasEvidence) && conf > lowConfidenceCap {
			conf = lowConfidenceCap
		}

		out = append(out, DimensionScore{
			Dimension:  rs.Dimension,
			Score:      score,
			Reasoning:  rs.Reasoning,
			Confidence: conf,
		})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no scores matched spec dimensions", ErrMalformedScoring)
	}
	return out, nil
}

// heuristicScores is the degraded fallback when generative scoring fails
// both attempts. Every dimension gets a neutral midpoint score with low
// confidence, the reasoning naming the heuristics that would have applied.
func heuristicScores(spec *persona.Spec, heuristics []persona.Heuristic, hasEvidence bool) []DimensionScore {
	names := make([]string, len(heuristics))
	for i, h := range heuristics {
		names[i] = h.Name
	}
	reasoning := "heuristic-only fallback"
	if len(names) > 0 {
		reasoning += ": " + strings.Join(names, ", ")
	}

	conf := 0.2
	if !hasEvidence {
		conf = 0.1
	}

	out := make([]DimensionScore, len(spec.Dimensions))
	for i, d := range spec.Dimensions {
		out[i] = DimensionScore{
			Dimension:  d.Name,
			Score:      3,
			Reasoning:  reasoning,
			Confidence: conf,
		}
	}
	return out
}

func stripScoringFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		}
		if idx := strings.LastIndex(s, "```"); idx != -1 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	return s
}

// scoringNonce returns a random 16-byte hex string for prompt delimiters.
func scoringNonce() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}
