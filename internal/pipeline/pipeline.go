// Package pipeline composes the per-turn flow: query rewriting, retrieval,
// reranking, persona decision, and final assembly of the response contract
// consumed by the text-generation layer.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/twinforge/twincore/internal/conversation"
	"github.com/twinforge/twincore/internal/decision"
	"github.com/twinforge/twincore/internal/persona"
	"github.com/twinforge/twincore/internal/rerank"
	"github.com/twinforge/twincore/internal/retrieval"
	"github.com/twinforge/twincore/internal/rewrite"
	"github.com/twinforge/twincore/internal/telemetry"
)

// QueryRewriter produces a standalone query from a raw turn.
type QueryRewriter interface {
	Rewrite(ctx context.Context, req rewrite.Request) (*rewrite.Result, error)
}

// Retriever gathers evidence for a standalone query.
type Retriever interface {
	Retrieve(ctx context.Context, q retrieval.Query) (*retrieval.EvidenceSet, error)
}

// Reranker re-scores and truncates an evidence set in place.
type Reranker interface {
	Rerank(ctx context.Context, query string, ev *retrieval.EvidenceSet) (*rerank.Outcome, error)
}

// Decider evaluates the query against the persona spec.
type Decider interface {
	Decide(ctx context.Context, in decision.Input) (*decision.Output, error)
}

// Request is one raw conversational turn from the chat endpoint.
type Request struct {
	TwinID  string
	UserID  string
	Text    string
	History []conversation.Turn
}

// Response is the contract object handed to the downstream text generator.
type Response struct {
	StandaloneQuery string                 `json:"standalone_query"`
	Rewrite         *rewrite.Result        `json:"rewrite"`
	Evidence        *retrieval.EvidenceSet `json:"evidence"`
	Decision        *decision.Output       `json:"decision"`
}

// Pipeline wires the turn components together.
//
// Safe for concurrent use; each turn is independent except for the rewrite
// cache owned by the rewriter.
type Pipeline struct {
	rewriter  QueryRewriter
	retriever Retriever
	reranker  Reranker
	decider   Decider
	personas  persona.Store
	sink      telemetry.Sink
	tracer    trace.Tracer
	logger    *slog.Logger
}

// New creates a Pipeline. sink may be nil to disable turn traces; tracer may
// be nil to disable spans.
func New(rewriter QueryRewriter, retriever Retriever, reranker Reranker, decider Decider, personas persona.Store, sink telemetry.Sink, tracer trace.Tracer, logger *slog.Logger) *Pipeline {
	if sink == nil {
		sink = telemetry.NopSink{}
	}
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("twincore")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		rewriter:  rewriter,
		retriever: retriever,
		reranker:  reranker,
		decider:   decider,
		personas:  personas,
		sink:      sink,
		tracer:    tracer,
		logger:    logger,
	}
}

// ProcessTurn runs one turn end to end. Recoverable step failures degrade
// per their component contracts; the errors surfaced are a missing persona
// spec and caller cancellation. Cancellation aborts all in-flight work and
// skips the telemetry emit.
func (p *Pipeline) ProcessTurn(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	rec := telemetry.TurnTrace{TwinID: req.TwinID, UserID: req.UserID}

	ctx, span := p.tracer.Start(ctx, "turn.process")
	defer span.End()

	// Persona spec first: without it the turn cannot be decided and no
	// retrieval work should be spent.
	spec, err := p.personas.Get(ctx, req.TwinID)
	if err != nil {
		if errors.Is(err, persona.ErrNotFound) {
			return nil, fmt.Errorf("%w: %w", decision.ErrPersonaSpecMissing, err)
		}
		return nil, err
	}

	stepStart := time.Now()
	rw, err := p.rewriteStep(ctx, req)
	if err != nil {
		return nil, err
	}
	rec.RewriteMS = time.Since(stepStart).Milliseconds()
	rec.RewriteApplied = rw.RewriteApplied
	rec.RewriteConfidence = rw.Confidence
	rec.Intent = string(rw.Intent)

	stepStart = time.Now()
	ev, err := p.retriever.Retrieve(ctx, retrieval.Query{
		TwinID:  req.TwinID,
		Text:    rw.StandaloneQuery,
		Intent:  rw.Intent,
		Filters: rw.Filters,
	})
	if err != nil {
		return nil, err
	}
	rec.RetrievalMS = time.Since(stepStart).Milliseconds()
	rec.RetrievalPartial = ev.Partial

	stepStart = time.Now()
	if _, err := p.rerankStep(ctx, rw.StandaloneQuery, ev, &rec); err != nil {
		return nil, err
	}
	rec.RerankMS = time.Since(stepStart).Milliseconds()
	rec.EvidenceCount = len(ev.Candidates)
	rec.VerifiedCount = ev.VerifiedCount()

	stepStart = time.Now()
	out, err := p.decider.Decide(ctx, decision.Input{
		Spec:     spec,
		Query:    rw.StandaloneQuery,
		Intent:   rw.Intent,
		Evidence: ev,
	})
	if err != nil {
		return nil, err
	}
	rec.DecisionMS = time.Since(stepStart).Milliseconds()
	p.recordDecision(&rec, out)
	rec.TotalMS = time.Since(start).Milliseconds()

	if ctx.Err() == nil {
		p.sink.Emit(ctx, rec)
	}

	return &Response{
		StandaloneQuery: rw.StandaloneQuery,
		Rewrite:         rw,
		Evidence:        ev,
		Decision:        out,
	}, nil
}

func (p *Pipeline) rewriteStep(ctx context.Context, req Request) (*rewrite.Result, error) {
	ctx, span := p.tracer.Start(ctx, "turn.rewrite")
	defer span.End()
	return p.rewriter.Rewrite(ctx, rewrite.Request{
		TwinID:  req.TwinID,
		UserID:  req.UserID,
		Text:    req.Text,
		History: req.History,
	})
}

// rerankStep tolerates a fully failed ensemble: the evidence set keeps its
// raw-score order and the degradation is recorded for the trace.
func (p *Pipeline) rerankStep(ctx context.Context, query string, ev *retrieval.EvidenceSet, rec *telemetry.TurnTrace) (*rerank.Outcome, error) {
	ctx, span := p.tracer.Start(ctx, "turn.rerank")
	defer span.End()

	outcome, err := p.reranker.Rerank(ctx, query, ev)
	switch {
	case err == nil:
		rec.RerankDegraded = outcome.Degraded
		return outcome, nil
	case errors.Is(err, rerank.ErrAllScorersFailed):
		rec.RerankDegraded = true
		p.logger.Warn("rerank ensemble fully degraded, raw ordering kept")
		return outcome, nil
	default:
		return nil, err
	}
}

func (p *Pipeline) recordDecision(rec *telemetry.TurnTrace, out *decision.Output) {
	rec.Mode = string(out.Mode)
	rec.OverallScore = out.OverallScore
	rec.SafetyBlocked = out.SafetyBlocked
	rec.Escalated = out.Escalated
	rec.DecisionDegraded = out.Degraded
	rec.ConsistencyHash = out.ConsistencyHash
	if len(out.DimensionScores) > 0 {
		rec.DimensionScores = make(map[string]int, len(out.DimensionScores))
		for _, s := range out.DimensionScores {
			rec.DimensionScores[s.Dimension] = s.Score
		}
	}
}
