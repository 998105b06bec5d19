package rerank

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/twinforge/twincore/internal/retrieval"
)

// ErrAllScorersFailed indicates no strategy produced scores. The evidence
// set keeps its raw-score ordering in that case.
var ErrAllScorersFailed = errors.New("rerank: all scorers failed")

// Strategy pairs a scorer with its fusion weight and timeout.
type Strategy struct {
	Scorer  Scorer
	Weight  float64       // relative fusion weight, > 0
	Timeout time.Duration // per-strategy budget over the whole set
}

// Config holds the ensemble tunables.
type Config struct {
	// TopK truncates the reranked set. Default 8.
	TopK int
}

// Outcome reports how the rerank went for telemetry and the assembler's
// low-confidence disclaimer.
type Outcome struct {
	// Degraded is true when at least one strategy failed and fusion used a
	// reduced ensemble.
	Degraded bool

	// UsedScorers names the strategies whose scores made it into fusion.
	UsedScorers []string

	// FailedScorers names the strategies that errored or timed out.
	FailedScorers []string
}

// Ensemble fuses multiple scoring strategies into one ranking.
//
// Safe for concurrent use.
type Ensemble struct {
	cfg        Config
	strategies []Strategy
	logger     *slog.Logger
}

// New creates an Ensemble. Strategies are tried in order; typically the fast
// lexical scorer first, then the heavier model scorer with a larger weight.
func New(cfg Config, strategies []Strategy, logger *slog.Logger) *Ensemble {
	if cfg.TopK <= 0 {
		cfg.TopK = 8
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ensemble{cfg: cfg, strategies: strategies, logger: logger}
}

// Rerank populates RerankScore on each candidate, re-sorts the set (verified
// precedence intact), and truncates to top-K. Strategies run concurrently,
// each under its own timeout; failures shrink the ensemble instead of
// failing the turn. When every strategy fails the set keeps raw-score order
// and ErrAllScorersFailed is returned alongside the untruncated-by-score
// outcome so callers can flag degradation.
func (e *Ensemble) Rerank(ctx context.Context, query string, ev *retrieval.EvidenceSet) (*Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	outcome := &Outcome{}
	if len(ev.Candidates) == 0 || len(e.strategies) == 0 {
		return outcome, nil
	}

	type result struct {
		strategy int
		scores   []float64
	}

	var (
		mu      sync.Mutex
		results []result
	)

	g, gctx := errgroup.WithContext(ctx)
	for i, strat := range e.strategies {
		g.Go(func() error {
			sctx := gctx
			if strat.Timeout > 0 {
				var cancel context.CancelFunc
				sctx, cancel = context.WithTimeout(gctx, strat.Timeout)
				defer cancel()
			}

			scores := make([]float64, len(ev.Candidates))
			for j, c := range ev.Candidates {
				s, err := strat.Scorer.Score(sctx, query, c.Text)
				if err != nil {
					mu.Lock()
					outcome.FailedScorers = append(outcome.FailedScorers, strat.Scorer.Name())
					mu.Unlock()
					e.logger.Warn("scorer failed, dropping from ensemble",
						"scorer", strat.Scorer.Name(), "error", err)
					return nil
				}
				scores[j] = s
			}

			mu.Lock()
			results = append(results, result{strategy: i, scores: scores})
			outcome.UsedScorers = append(outcome.UsedScorers, strat.Scorer.Name())
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	outcome.Degraded = len(outcome.FailedScorers) > 0

	if len(results) == 0 {
		// Raw-score ordering stands; still enforce precedence + top-K.
		ev.Sort()
		ev.Truncate(e.cfg.TopK)
		return outcome, ErrAllScorersFailed
	}

	// Weighted sum over succeeded strategies, weights renormalized.
	var totalWeight float64
	for _, r := range results {
		totalWeight += e.strategies[r.strategy].Weight
	}
	for j := range ev.Candidates {
		var fused float64
		for _, r := range results {
			fused += e.strategies[r.strategy].Weight / totalWeight * r.scores[j]
		}
		score := fused
		ev.Candidates[j].RerankScore = &score
	}

	ev.Sort()
	ev.Truncate(e.cfg.TopK)
	return outcome, nil
}
