package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/twinforge/twincore/internal/conversation"
	"github.com/twinforge/twincore/internal/decision"
	"github.com/twinforge/twincore/internal/log"
	"github.com/twinforge/twincore/internal/persona"
	"github.com/twinforge/twincore/internal/rerank"
	"github.com/twinforge/twincore/internal/retrieval"
	"github.com/twinforge/twincore/internal/rewrite"
	"github.com/twinforge/twincore/internal/telemetry"
)

type fakeRewriter struct {
	result *rewrite.Result
	gotReq rewrite.Request
}

func (f *fakeRewriter) Rewrite(_ context.Context, req rewrite.Request) (*rewrite.Result, error) {
	f.gotReq = req
	return f.result, nil
}

type fakeRetriever struct {
	ev       *retrieval.EvidenceSet
	gotQuery retrieval.Query
	err      error
}

func (f *fakeRetriever) Retrieve(_ context.Context, q retrieval.Query) (*retrieval.EvidenceSet, error) {
	f.gotQuery = q
	return f.ev, f.err
}

type fakeReranker struct {
	outcome *rerank.Outcome
	err     error
}

func (f *fakeReranker) Rerank(context.Context, string, *retrieval.EvidenceSet) (*rerank.Outcome, error) {
	return f.outcome, f.err
}

type fakeDecider struct {
	out   *decision.Output
	gotIn decision.Input
	err   error
}

func (f *fakeDecider) Decide(_ context.Context, in decision.Input) (*decision.Output, error) {
	f.gotIn = in
	return f.out, f.err
}

type captureSink struct {
	mu     sync.Mutex
	traces []telemetry.TurnTrace
}

func (c *captureSink) Emit(_ context.Context, t telemetry.TurnTrace) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.traces = append(c.traces, t)
}

func testSpec() *persona.Spec {
	return &persona.Spec{
		TwinID:  "twin-1",
		Version: "v1",
		Values:  persona.ValueHierarchy{Values: []persona.Value{{Name: "honesty", Weight: 1}}},
		Dimensions: []persona.Dimension{
			{Name: "market", Description: "market", ValueRef: "honesty"},
		},
	}
}

func fixtures() (*fakeRewriter, *fakeRetriever, *fakeReranker, *fakeDecider, *captureSink) {
	rw := &fakeRewriter{result: &rewrite.Result{
		StandaloneQuery: "What was the Q4 revenue?",
		Intent:          rewrite.IntentFollowUp,
		Filters:         map[string]string{"time_range": "Q4"},
		Confidence:      0.9,
		RewriteApplied:  true,
	}}
	rt := &fakeRetriever{ev: &retrieval.EvidenceSet{Candidates: []retrieval.Candidate{
		{SourceKind: retrieval.SourceVerified, SourceID: "v1", Text: "Q4 revenue was $6.1M", RawScore: 0.8},
	}}}
	rr := &fakeReranker{outcome: &rerank.Outcome{}}
	d := &fakeDecider{out: &decision.Output{
		Mode:            decision.ModeFactual,
		ConsistencyHash: "abc",
	}}
	return rw, rt, rr, d, &captureSink{}
}

func TestPipeline_ProcessTurn(t *testing.T) {
	rw, rt, rr, d, sink := fixtures()
	p := New(rw, rt, rr, d, persona.NewStaticStore(testSpec()), sink, nil, log.NewNop())

	resp, err := p.ProcessTurn(context.Background(), Request{
		TwinID: "twin-1",
		UserID: "u1",
		Text:   "What about Q4?",
		History: []conversation.Turn{
			{Role: conversation.RoleUser, Text: "What's our Q3 revenue?"},
			{Role: conversation.RoleAssistant, Text: "Q3 revenue was $5.2M"},
		},
	})
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}

	if resp.StandaloneQuery != "What was the Q4 revenue?" {
		t.Errorf("StandaloneQuery = %q", resp.StandaloneQuery)
	}
	// The retriever sees the rewritten query and its filters, not the raw turn.
	if rt.gotQuery.Text != "What was the Q4 revenue?" {
		t.Errorf("retriever query = %q", rt.gotQuery.Text)
	}
	if rt.gotQuery.Filters["time_range"] != "Q4" {
		t.Errorf("filters not forwarded: %v", rt.gotQuery.Filters)
	}
	// The decider sees the same evidence the reranker processed.
	if d.gotIn.Query != "What was the Q4 revenue?" || d.gotIn.Evidence != rt.ev {
		t.Error("decider input not wired from earlier steps")
	}
	if d.gotIn.Spec.TwinID != "twin-1" {
		t.Errorf("decider spec = %+v", d.gotIn.Spec)
	}

	if len(sink.traces) != 1 {
		t.Fatalf("traces emitted = %d, want 1", len(sink.traces))
	}
	tr := sink.traces[0]
	if !tr.RewriteApplied || tr.Intent != "follow_up" {
		t.Errorf("trace rewrite fields = %+v", tr)
	}
	if tr.EvidenceCount != 1 || tr.VerifiedCount != 1 {
		t.Errorf("trace evidence counts = %+v", tr)
	}
	if tr.ConsistencyHash != "abc" {
		t.Errorf("trace hash = %q", tr.ConsistencyHash)
	}
}

func TestPipeline_PersonaSpecMissing(t *testing.T) {
	rw, rt, rr, d, sink := fixtures()
	p := New(rw, rt, rr, d, persona.NewStaticStore(), sink, nil, log.NewNop())

	_, err := p.ProcessTurn(context.Background(), Request{TwinID: "unknown", Text: "hi"})
	if !errors.Is(err, decision.ErrPersonaSpecMissing) {
		t.Fatalf("err = %v, want ErrPersonaSpecMissing", err)
	}
	if len(sink.traces) != 0 {
		t.Error("failed turn must not emit a trace")
	}
}

func TestPipeline_RerankFullyDegraded(t *testing.T) {
	rw, rt, _, d, sink := fixtures()
	rr := &fakeReranker{
		outcome: &rerank.Outcome{Degraded: true},
		err:     rerank.ErrAllScorersFailed,
	}
	p := New(rw, rt, rr, d, persona.NewStaticStore(testSpec()), sink, nil, log.NewNop())

	if _, err := p.ProcessTurn(context.Background(), Request{TwinID: "twin-1", Text: "q"}); err != nil {
		t.Fatalf("fully degraded rerank must not fail the turn: %v", err)
	}
	if len(sink.traces) != 1 || !sink.traces[0].RerankDegraded {
		t.Error("trace should record rerank degradation")
	}
}

func TestPipeline_SafetyBlockedRecorded(t *testing.T) {
	rw, rt, rr, _, sink := fixtures()
	d := &fakeDecider{out: &decision.Output{
		SafetyBlocked:    true,
		SafetyReason:     "financial-commitment",
		ResponseTemplate: "I can't advise on that.",
	}}
	p := New(rw, rt, rr, d, persona.NewStaticStore(testSpec()), sink, nil, log.NewNop())

	resp, err := p.ProcessTurn(context.Background(), Request{TwinID: "twin-1", Text: "should I invest $1?"})
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	if !resp.Decision.SafetyBlocked {
		t.Error("blocked decision should surface in the response")
	}
	if len(sink.traces) != 1 || !sink.traces[0].SafetyBlocked {
		t.Error("trace should record the safety block")
	}
}

func TestPipeline_CanceledContext(t *testing.T) {
	rw, rt, rr, d, sink := fixtures()
	p := New(rw, rt, rr, d, persona.NewStaticStore(testSpec()), sink, nil, log.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Components that honor cancellation return ctx.Err; the fakes don't, so
	// simulate by a retriever that checks its context.
	rt.err = context.Canceled

	if _, err := p.ProcessTurn(ctx, Request{TwinID: "twin-1", Text: "q"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(sink.traces) != 0 {
		t.Error("canceled turn must not emit a trace")
	}
}
