// Package rerank scores retrieved candidates against the standalone query
// using an ensemble of independent scorers, fusing their outputs into one
// ranking.
//
// Scorers form an ordered list of strategies, each with its own weight and
// timeout. Fusion is a weighted sum over the strategies that succeeded,
// with weights renormalized — the ensemble degrades gracefully to whatever
// subset is healthy instead of special-casing each failure combination.
// Verified-source candidates keep their precedence position regardless of
// rerank scores.
package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// Scorer computes a relevance score in [0, 1] for a candidate text against
// a query.
type Scorer interface {
	Name() string
	Score(ctx context.Context, query, text string) (float64, error)
}

// Lexical is the fast scorer: cosine similarity over term-frequency vectors
// of the query and candidate. No network, no model; it is the floor the
// ensemble can always fall back to.
type Lexical struct{}

// Name implements Scorer.
func (Lexical) Name() string { return "lexical" }

// Score implements Scorer.
func (Lexical) Score(_ context.Context, query, text string) (float64, error) {
	qv := termFreq(query)
	tv := termFreq(text)
	if len(qv) == 0 || len(tv) == 0 {
		return 0, nil
	}

	var dot, qnorm, tnorm float64
	for term, qf := range qv {
		qnorm += qf * qf
		if tf, ok := tv[term]; ok {
			dot += qf * tf
		}
	}
	for _, tf := range tv {
		tnorm += tf * tf
	}
	if dot == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(qnorm) * math.Sqrt(tnorm)), nil
}

func termFreq(s string) map[string]float64 {
	freq := make(map[string]float64)
	for _, f := range strings.Fields(strings.ToLower(s)) {
		term := strings.Trim(f, ".,;:!?\"'()[]{}")
		if len(term) < 2 {
			continue
		}
		freq[term]++
	}
	return freq
}

// relevancePrompt asks the model for a single relevance number.
// %s placeholders: query, passage.
const relevancePrompt = `Rate how relevant the passage is to the query on a scale from 0.0 (unrelated) to 1.0 (directly answers it).

Query: %s

Passage: %s

Respond with only the number:`

// Model is the heavy cross-encoder-style scorer: it asks a generative model
// to judge query/passage relevance. Higher quality, higher latency; the
// ensemble weights it above Lexical when it succeeds.
type Model struct {
	G         *genkit.Genkit
	ModelName string
}

// Name implements Scorer.
func (m *Model) Name() string { return "model" }

// Score implements Scorer.
func (m *Model) Score(ctx context.Context, query, text string) (float64, error) {
	resp, err := genkit.Generate(ctx, m.G,
		ai.WithModelName(m.ModelName),
		ai.WithPrompt(fmt.Sprintf(relevancePrompt, query, text)),
	)
	if err != nil {
		return 0, fmt.Errorf("model scorer: %w", err)
	}
	return parseScore(resp.Text())
}

// parseScore extracts the leading float from a model response and clamps it
// to [0, 1].
func parseScore(raw string) (float64, error) {
	s := strings.TrimSpace(raw)
	if i := strings.IndexAny(s, " \n\t"); i > 0 {
		s = s[:i]
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("unparseable score %q: %w", truncateForLog(raw), err)
	}
	return math.Max(0, math.Min(1, v)), nil
}

func truncateForLog(s string) string {
	if len(s) > 80 {
		return s[:80] + "..."
	}
	return s
}

// Service calls an external reranking endpoint:
// POST {"query": ..., "text": ...} -> {"score": 0.87}.
type Service struct {
	URL    string
	Client *http.Client
}

// Name implements Scorer.
func (s *Service) Name() string { return "service" }

// Score implements Scorer.
func (s *Service) Score(ctx context.Context, query, text string) (float64, error) {
	payload, err := json.Marshal(map[string]string{"query": query, "text": text})
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("rerank service request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("rerank service call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("rerank service status %d", resp.StatusCode)
	}

	var body struct {
		Score float64 `json:"score"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("rerank service decode: %w", err)
	}
	return math.Max(0, math.Min(1, body.Score)), nil
}
