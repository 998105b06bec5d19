package rewrite

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/twinforge/twincore/internal/cache"
	"github.com/twinforge/twincore/internal/conversation"
	"github.com/twinforge/twincore/internal/log"
)

// fakeGenerator returns canned responses and counts invocations.
type fakeGenerator struct {
	response string
	err      error
	delay    time.Duration
	calls    atomic.Int64
}

func (f *fakeGenerator) Generate(ctx context.Context, _ string) (string, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(f.delay):
		}
	}
	return f.response, f.err
}

func q3History() []conversation.Turn {
	return []conversation.Turn{
		{Role: conversation.RoleUser, Text: "What's our Q3 revenue?"},
		{Role: conversation.RoleAssistant, Text: "Q3 revenue was $5.2M"},
	}
}

func enabledConfig() Config {
	return Config{Enabled: true, ConfidenceThreshold: 0.7, Timeout: time.Second, RolloutPercent: 100}
}

func TestRewrite_FollowUpScenario(t *testing.T) {
	gen := &fakeGenerator{
		response: `{"standalone_query": "What was the Q4 revenue?", "intent": "follow_up", "entities": {"period": ["Q4"]}, "filters": {"time_range": "Q4"}, "confidence": 0.93}`,
	}
	r := New(enabledConfig(), gen, nil, nil, log.NewNop())

	got, err := r.Rewrite(context.Background(), Request{
		TwinID:  "twin-1",
		UserID:  "user-1",
		Text:    "What about Q4?",
		History: q3History(),
	})
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}

	if got.StandaloneQuery != "What was the Q4 revenue?" {
		t.Errorf("StandaloneQuery = %q", got.StandaloneQuery)
	}
	if got.Intent != IntentFollowUp {
		t.Errorf("Intent = %s, want follow_up", got.Intent)
	}
	if !got.RewriteApplied {
		t.Error("RewriteApplied should be true")
	}
	if !got.RequiresHistory {
		t.Error("RequiresHistory should be true")
	}
}

func TestRewrite_FastPathSkipsModel(t *testing.T) {
	gen := &fakeGenerator{response: `{}`}
	r := New(enabledConfig(), gen, nil, nil, log.NewNop())

	got, err := r.Rewrite(context.Background(), Request{
		TwinID: "twin-1",
		UserID: "user-1",
		Text:   "What was the total revenue for fiscal year 2024?",
	})
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}

	if gen.calls.Load() != 0 {
		t.Errorf("generative pass invoked %d times on a self-contained query", gen.calls.Load())
	}
	if got.RewriteApplied {
		t.Error("fast path must not mark a rewrite applied")
	}
	if got.Confidence != 1.0 {
		t.Errorf("fast path confidence = %v, want 1.0", got.Confidence)
	}
}

func TestRewrite_LowConfidenceFallsBack(t *testing.T) {
	gen := &fakeGenerator{
		response: `{"standalone_query": "Something different", "intent": "factual_lookup", "confidence": 0.2}`,
	}
	r := New(enabledConfig(), gen, nil, nil, log.NewNop())

	original := "What about Q4?"
	got, err := r.Rewrite(context.Background(), Request{
		TwinID: "twin-1", UserID: "user-1", Text: original, History: q3History(),
	})
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}

	if got.StandaloneQuery != original {
		t.Errorf("fallback must return the original query verbatim, got %q", got.StandaloneQuery)
	}
	if got.RewriteApplied {
		t.Error("fallback must mark rewrite_applied=false")
	}
}

func TestRewrite_TimeoutFallsBack(t *testing.T) {
	gen := &fakeGenerator{
		response: `{"standalone_query": "ignored", "confidence": 0.9}`,
		delay:    200 * time.Millisecond,
	}
	cfg := enabledConfig()
	cfg.Timeout = 20 * time.Millisecond
	r := New(cfg, gen, nil, nil, log.NewNop())

	start := time.Now()
	got, err := r.Rewrite(context.Background(), Request{
		TwinID: "twin-1", UserID: "user-1", Text: "What about Q4?", History: q3History(),
	})
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("rewrite blocked for %v despite timeout", elapsed)
	}
	if got.RewriteApplied || got.StandaloneQuery != "What about Q4?" {
		t.Errorf("timeout must fall back to the original query, got %+v", got)
	}
}

func TestRewrite_MalformedResponseFallsBack(t *testing.T) {
	gen := &fakeGenerator{response: "I cannot answer that."}
	r := New(enabledConfig(), gen, nil, nil, log.NewNop())

	got, err := r.Rewrite(context.Background(), Request{
		TwinID: "twin-1", UserID: "user-1", Text: "What about Q4?", History: q3History(),
	})
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if got.StandaloneQuery != "What about Q4?" || got.RewriteApplied {
		t.Errorf("malformed output must fall back, got %+v", got)
	}
}

func TestRewrite_CacheIdempotence(t *testing.T) {
	gen := &fakeGenerator{
		response: `{"standalone_query": "What was the Q4 revenue?", "intent": "follow_up", "confidence": 0.9}`,
	}
	turnCache := cache.NewMemory(cache.MemoryConfig{TTL: time.Minute, MaxEntries: 16})
	r := New(enabledConfig(), gen, turnCache, nil, log.NewNop())

	req := Request{TwinID: "twin-1", UserID: "user-1", Text: "What about Q4?", History: q3History()}

	first, err := r.Rewrite(context.Background(), req)
	if err != nil {
		t.Fatalf("first Rewrite: %v", err)
	}
	second, err := r.Rewrite(context.Background(), req)
	if err != nil {
		t.Fatalf("second Rewrite: %v", err)
	}

	if gen.calls.Load() != 1 {
		t.Errorf("generative pass invoked %d times, want 1 (cache hit)", gen.calls.Load())
	}
	if first.StandaloneQuery != second.StandaloneQuery || first.Intent != second.Intent {
		t.Errorf("cached result differs: %+v vs %+v", first, second)
	}
}

func TestRewrite_RolloutGatesGenerativePass(t *testing.T) {
	gen := &fakeGenerator{response: `{"standalone_query": "x", "confidence": 0.9}`}
	cfg := enabledConfig()
	cfg.RolloutPercent = 1

	r := New(cfg, gen, nil, nil, log.NewNop())

	// Find a user outside the 1% rollout (bucket >= 1).
	userID := "user-outside"
	for i := 0; cache.Bucket(userID) < 1 && i < 1000; i++ {
		userID = userID + "x"
	}

	got, err := r.Rewrite(context.Background(), Request{
		TwinID: "twin-1", UserID: userID, Text: "What about Q4?", History: q3History(),
	})
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if gen.calls.Load() != 0 {
		t.Error("user outside rollout must not hit the generative pass")
	}
	// Rule pass still resolves deixis/classifies intent.
	if got.Intent != IntentFollowUp {
		t.Errorf("Intent = %s, want follow_up from rule pass", got.Intent)
	}
}

func TestRewrite_ZeroRolloutDisablesGenerativePass(t *testing.T) {
	gen := &fakeGenerator{response: `{"standalone_query": "x", "confidence": 0.9}`}
	cfg := enabledConfig()
	cfg.RolloutPercent = 0

	r := New(cfg, gen, nil, nil, log.NewNop())

	for _, userID := range []string{"user-1", "user-2", "user-3"} {
		got, err := r.Rewrite(context.Background(), Request{
			TwinID: "twin-1", UserID: userID, Text: "What about Q4?", History: q3History(),
		})
		if err != nil {
			t.Fatalf("Rewrite(%s): %v", userID, err)
		}
		if got.RewriteApplied && got.StandaloneQuery == "x" {
			t.Errorf("user %s got a generative rewrite at 0%% rollout", userID)
		}
	}
	if gen.calls.Load() != 0 {
		t.Errorf("generative pass invoked %d times at 0%% rollout, want 0", gen.calls.Load())
	}
}

func TestRewrite_CanceledContext(t *testing.T) {
	gen := &fakeGenerator{response: `{}`}
	r := New(enabledConfig(), gen, nil, nil, log.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := r.Rewrite(ctx, Request{TwinID: "t", UserID: "u", Text: "What about Q4?"}); err == nil {
		t.Fatal("expected error for canceled context")
	}
}

func TestParseRewriteResponse_FencedJSON(t *testing.T) {
	raw := "```json\n{\"standalone_query\": \"q\", \"intent\": \"factual_lookup\", \"confidence\": 1.4}\n```"
	got, err := parseRewriteResponse(raw)
	if err != nil {
		t.Fatalf("parseRewriteResponse: %v", err)
	}
	if got.StandaloneQuery != "q" {
		t.Errorf("StandaloneQuery = %q", got.StandaloneQuery)
	}
	if got.Confidence != 1.0 {
		t.Errorf("Confidence = %v, want clamped to 1.0", got.Confidence)
	}
}

func TestParseRewriteResponse_InvalidIntentDefaults(t *testing.T) {
	got, err := parseRewriteResponse(`{"standalone_query": "q", "intent": "nonsense", "confidence": 0.8}`)
	if err != nil {
		t.Fatalf("parseRewriteResponse: %v", err)
	}
	if got.Intent != IntentFactualLookup {
		t.Errorf("Intent = %s, want factual_lookup default", got.Intent)
	}
}
