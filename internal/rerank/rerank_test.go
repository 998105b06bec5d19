package rerank

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/twinforge/twincore/internal/log"
	"github.com/twinforge/twincore/internal/retrieval"
)

type fixedScorer struct {
	name  string
	score float64
	err   error
	delay time.Duration
}

func (f *fixedScorer) Name() string { return f.name }
func (f *fixedScorer) Score(ctx context.Context, _, _ string) (float64, error) {
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	return f.score, f.err
}

func evidence() *retrieval.EvidenceSet {
	return &retrieval.EvidenceSet{Candidates: []retrieval.Candidate{
		{SourceKind: retrieval.SourceVector, SourceID: "d1", Text: "first", RawScore: 0.9},
		{SourceKind: retrieval.SourceVector, SourceID: "d2", Text: "second", RawScore: 0.8},
	}}
}

func TestLexical_Score(t *testing.T) {
	var lex Lexical

	same, err := lex.Score(context.Background(), "quarterly revenue growth", "quarterly revenue growth")
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if math.Abs(same-1.0) > 1e-9 {
		t.Errorf("identical texts score %v, want 1.0", same)
	}

	related, _ := lex.Score(context.Background(), "quarterly revenue growth", "revenue grew this quarter by 40%")
	unrelated, _ := lex.Score(context.Background(), "quarterly revenue growth", "the office coffee machine broke")
	if related <= unrelated {
		t.Errorf("related %.3f should outscore unrelated %.3f", related, unrelated)
	}

	empty, _ := lex.Score(context.Background(), "query", "")
	if empty != 0 {
		t.Errorf("empty text score = %v, want 0", empty)
	}
}

func TestEnsemble_WeightedFusion(t *testing.T) {
	fast := &fixedScorer{name: "fast", score: 0.4}
	heavy := &fixedScorer{name: "heavy", score: 0.8}

	e := New(Config{TopK: 5}, []Strategy{
		{Scorer: fast, Weight: 1},
		{Scorer: heavy, Weight: 3},
	}, log.NewNop())

	ev := evidence()
	outcome, err := e.Rerank(context.Background(), "q", ev)
	if err != nil {
		t.Fatalf("Rerank: %v", err)
	}
	if outcome.Degraded {
		t.Error("no failures expected")
	}

	// 0.25*0.4 + 0.75*0.8 = 0.7
	want := 0.7
	got := *ev.Candidates[0].RerankScore
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("fused score = %v, want %v", got, want)
	}
}

func TestEnsemble_DegradesToFastScorer(t *testing.T) {
	fast := &fixedScorer{name: "fast", score: 0.6}
	heavy := &fixedScorer{name: "heavy", err: errors.New("model unavailable")}

	e := New(Config{TopK: 5}, []Strategy{
		{Scorer: fast, Weight: 1},
		{Scorer: heavy, Weight: 3},
	}, log.NewNop())

	ev := evidence()
	outcome, err := e.Rerank(context.Background(), "q", ev)
	if err != nil {
		t.Fatalf("Rerank must not fail when one scorer degrades: %v", err)
	}
	if !outcome.Degraded {
		t.Error("Degraded should be true")
	}
	if len(outcome.UsedScorers) != 1 || outcome.UsedScorers[0] != "fast" {
		t.Errorf("UsedScorers = %v", outcome.UsedScorers)
	}

	// Weights renormalize to the surviving scorer alone.
	if got := *ev.Candidates[0].RerankScore; math.Abs(got-0.6) > 1e-9 {
		t.Errorf("score = %v, want fast-only 0.6", got)
	}
}

func TestEnsemble_SlowScorerTimesOut(t *testing.T) {
	fast := &fixedScorer{name: "fast", score: 0.5}
	slow := &fixedScorer{name: "slow", score: 0.9, delay: 500 * time.Millisecond}

	e := New(Config{TopK: 5}, []Strategy{
		{Scorer: fast, Weight: 1, Timeout: time.Second},
		{Scorer: slow, Weight: 3, Timeout: 20 * time.Millisecond},
	}, log.NewNop())

	ev := evidence()
	outcome, err := e.Rerank(context.Background(), "q", ev)
	if err != nil {
		t.Fatalf("Rerank: %v", err)
	}
	if !outcome.Degraded || len(outcome.FailedScorers) != 1 || outcome.FailedScorers[0] != "slow" {
		t.Errorf("slow scorer should be dropped, outcome=%+v", outcome)
	}
}

func TestEnsemble_AllScorersFailed(t *testing.T) {
	broken := &fixedScorer{name: "broken", err: errors.New("down")}
	e := New(Config{TopK: 1}, []Strategy{{Scorer: broken, Weight: 1}}, log.NewNop())

	ev := evidence()
	outcome, err := e.Rerank(context.Background(), "q", ev)
	if !errors.Is(err, ErrAllScorersFailed) {
		t.Fatalf("err = %v, want ErrAllScorersFailed", err)
	}
	if !outcome.Degraded {
		t.Error("Degraded should be true")
	}
	// Raw-score order survives, truncated to K.
	if len(ev.Candidates) != 1 || ev.Candidates[0].SourceID != "d1" {
		t.Errorf("expected raw-score fallback ordering, got %v", ev.IDs())
	}
	if ev.Candidates[0].RerankScore != nil {
		t.Error("no rerank scores should be set when fusion is empty")
	}
}

func TestEnsemble_VerifiedPrecedenceSurvivesRerank(t *testing.T) {
	// Scorer that loves vector content and hates the verified answer.
	biased := &fixedScorerByID{scores: map[string]float64{"v1": 0.1, "d1": 0.95}}

	e := New(Config{TopK: 5}, []Strategy{{Scorer: biased, Weight: 1}}, log.NewNop())

	ev := &retrieval.EvidenceSet{Candidates: []retrieval.Candidate{
		{SourceKind: retrieval.SourceVerified, SourceID: "v1", Text: "v1", RawScore: 0.4},
		{SourceKind: retrieval.SourceVector, SourceID: "d1", Text: "d1", RawScore: 0.95},
	}}

	if _, err := e.Rerank(context.Background(), "q", ev); err != nil {
		t.Fatalf("Rerank: %v", err)
	}
	if ev.Candidates[0].SourceKind != retrieval.SourceVerified {
		t.Errorf("verified candidate displaced by rerank: %v", ev.IDs())
	}
}

type fixedScorerByID struct{ scores map[string]float64 }

func (f *fixedScorerByID) Name() string { return "biased" }
func (f *fixedScorerByID) Score(_ context.Context, _, text string) (float64, error) {
	return f.scores[text], nil
}

func TestService_Score(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req["query"] == "" || req["text"] == "" {
			t.Error("missing fields in rerank request")
		}
		_, _ = w.Write([]byte(`{"score": 0.87}`))
	}))
	defer srv.Close()

	s := &Service{URL: srv.URL}
	got, err := s.Score(context.Background(), "q", "passage")
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if math.Abs(got-0.87) > 1e-9 {
		t.Errorf("score = %v, want 0.87", got)
	}
}

func TestService_ScoreErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	s := &Service{URL: srv.URL}
	if _, err := s.Score(context.Background(), "q", "p"); err == nil {
		t.Fatal("expected error on non-200 status")
	}
}

func TestParseScore(t *testing.T) {
	tests := []struct {
		raw     string
		want    float64
		wantErr bool
	}{
		{"0.85", 0.85, false},
		{"0.85\n", 0.85, false},
		{"1.7", 1.0, false}, // clamped
		{"-2", 0.0, false},  // clamped
		{"very relevant", 0, true},
	}
	for _, tt := range tests {
		got, err := parseScore(tt.raw)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseScore(%q) err = %v, wantErr %v", tt.raw, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("parseScore(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}
