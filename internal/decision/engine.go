package decision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twinforge/twincore/internal/persona"
)

// Config holds the engine tunables.
type Config struct {
	// ScoringTimeout bounds each generative scoring attempt. Default 30s.
	ScoringTimeout time.Duration

	// RetryBackoff is the pause before the single retry. Default 500ms.
	RetryBackoff time.Duration

	// FlattenedFallback enables the legacy path for specs that carry only a
	// free-text persona description. Off by default; legacy twins opt in.
	FlattenedFallback bool
}

func (c Config) withDefaults() Config {
	if c.ScoringTimeout <= 0 {
		c.ScoringTimeout = 30 * time.Second
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 500 * time.Millisecond
	}
	return c
}

// Engine evaluates queries against a persona spec. Steps run strictly in
// sequence per turn: safety check, query classification, heuristic selection,
// per-dimension scoring, value-weighted aggregation, consistency hashing.
// The safety check completes (and may short-circuit) before any scoring work
// is attempted.
//
// Safe for concurrent use.
type Engine struct {
	cfg     Config
	checker *Checker
	gen     Generator
	breaker *Breaker
	logger  *slog.Logger
}

// NewEngine creates an Engine. breaker may be nil to disable the scoring
// circuit breaker.
func NewEngine(cfg Config, checker *Checker, gen Generator, breaker *Breaker, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:     cfg.withDefaults(),
		checker: checker,
		gen:     gen,
		breaker: breaker,
		logger:  logger,
	}
}

// Decide runs the full state machine for one turn. Recoverable scoring
// failures degrade to heuristic-only output rather than erroring; the only
// errors surfaced are a missing or unusable persona spec and caller
// cancellation.
func (e *Engine) Decide(ctx context.Context, in Input) (*Output, error) {
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if in.Spec == nil {
		return nil, ErrPersonaSpecMissing
	}

	out := &Output{
		PersonaVersion:    in.Spec.Version,
		ValuesPrioritized: in.Spec.Values.Prioritized(),
	}
	evidenceIDs := in.Evidence.IDs()

	// Safety boundary first. A refusal terminates the turn with zero scoring
	// work; an escalation flags the turn and proceeds best-effort.
	if e.checker != nil {
		if m := e.checker.Check(in.Query); m != nil {
			out.ResponseTemplate = m.Rule.ResponseTemplate
			switch m.Rule.Action {
			case ActionRefuse:
				out.SafetyBlocked = true
				out.SafetyReason = m.Rule.ID
				out.ConsistencyHash = ConsistencyHash(in.Query, evidenceIDs, in.Spec.Version, out.Mode, nil)
				out.ProcessingTimeMS = time.Since(start).Milliseconds()
				e.logger.Info("turn safety blocked",
					"twin", in.Spec.TwinID, "rule", m.Rule.ID)
				return out, nil
			case ActionEscalate:
				out.Escalated = true
				e.logger.Warn("turn escalated for review",
					"twin", in.Spec.TwinID, "rule", m.Rule.ID)
			}
		}
	}

	if in.Spec.IsFlattened() {
		if !e.cfg.FlattenedFallback {
			return nil, fmt.Errorf("%w: twin %q has only a flattened persona and the fallback is disabled",
				persona.ErrInvalidSpec, in.Spec.TwinID)
		}
		return e.flattenedOutput(in, out, evidenceIDs, start), nil
	}

	out.Mode = ClassifyMode(in.Query, in.Intent)
	heuristics := SelectHeuristics(in.Spec, out.Mode)
	for _, h := range heuristics {
		out.HeuristicsApplied = append(out.HeuristicsApplied, h.Name)
	}

	hasEvidence := in.Evidence != nil && len(in.Evidence.Candidates) > 0

	if scoredMode(out.Mode) {
		scores, degraded, err := e.scoreDimensions(ctx, in, heuristics, hasEvidence)
		if err != nil {
			return nil, err
		}
		out.DimensionScores = scores
		out.Degraded = degraded
		out.OverallScore, out.OverallConfidence = Aggregate(in.Spec, scores)
	} else if hasEvidence {
		out.OverallConfidence = 0.5
	}

	out.ConsistencyHash = ConsistencyHash(in.Query, evidenceIDs, in.Spec.Version, out.Mode, out.DimensionScores)
	out.ProcessingTimeMS = time.Since(start).Milliseconds()
	return out, nil
}

// scoreDimensions runs generative scoring with one retry, falling back to
// heuristic-only scores when both attempts fail or the breaker is open. The
// returned error is non-nil only for caller cancellation.
func (e *Engine) scoreDimensions(ctx context.Context, in Input, heuristics []persona.Heuristic, hasEvidence bool) ([]DimensionScore, bool, error) {
	if e.gen == nil {
		return heuristicScores(in.Spec, heuristics, hasEvidence), true, nil
	}

	if e.breaker != nil {
		if err := e.breaker.Allow(); err != nil {
			e.logger.Warn("scoring breaker open, heuristic fallback",
				"twin", in.Spec.TwinID)
			return heuristicScores(in.Spec, heuristics, hasEvidence), true, nil
		}
	}

	prompt, err := buildScoringPrompt(in.Spec, heuristics, in.Query, in.Evidence)
	if err != nil {
		return heuristicScores(in.Spec, heuristics, hasEvidence), true, nil
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, false, ctx.Err()
			case <-time.After(e.cfg.RetryBackoff):
			}
		}

		scores, err := e.scoreOnce(ctx, prompt, in.Spec, hasEvidence)
		if err == nil {
			if e.breaker != nil {
				e.breaker.Success()
			}
			return scores, false, nil
		}
		if errors.Is(err, context.Canceled) {
			// Caller went away: no retry, no fallback.
			return nil, false, context.Canceled
		}
		lastErr = err
		e.logger.Warn("generative scoring attempt failed",
			"twin", in.Spec.TwinID, "attempt", attempt+1, "error", err)
	}

	if e.breaker != nil {
		e.breaker.Failure()
	}
	e.logger.Warn("generative scoring degraded to heuristics",
		"twin", in.Spec.TwinID, "error", lastErr)
	return heuristicScores(in.Spec, heuristics, hasEvidence), true, nil
}

func (e *Engine) scoreOnce(ctx context.Context, prompt string, spec *persona.Spec, hasEvidence bool) ([]DimensionScore, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.ScoringTimeout)
	defer cancel()

	raw, err := e.gen.Generate(ctx, prompt)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%w: %w", ErrScoringTimeout, err)
		}
		if errors.Is(err, context.Canceled) {
			return nil, context.Canceled
		}
		return nil, err
	}
	return parseScoringResponse(raw, spec, hasEvidence)
}

// flattenedOutput handles legacy twins with only a free-text persona. No
// structured layers means no dimension scoring; the output is explicitly
// degraded so downstream adds a low-confidence disclaimer.
func (e *Engine) flattenedOutput(in Input, out *Output, evidenceIDs []string, start time.Time) *Output {
	out.Mode = ClassifyMode(in.Query, in.Intent)
	out.Degraded = true
	out.OverallConfidence = 0.2
	out.ConsistencyHash = ConsistencyHash(in.Query, evidenceIDs, in.Spec.Version, out.Mode, nil)
	out.ProcessingTimeMS = time.Since(start).Milliseconds()
	e.logger.Info("flattened persona fallback",
		"twin", in.Spec.TwinID, "version", in.Spec.Version)
	return out
}
