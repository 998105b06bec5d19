package retrieval

import (
	"context"
	"fmt"

	"github.com/firebase/genkit/go/ai"

	"github.com/twinforge/twincore/internal/rewrite"
)

// Embedder produces a vector for a piece of text. The orchestrator embeds
// the query once and shares the vector across the verified and vector
// sub-queries.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VerifiedStore searches the curated question/answer store by semantic
// similarity.
type VerifiedStore interface {
	Search(ctx context.Context, twinID string, embedding []float32, limit int) ([]Candidate, error)
}

// VectorIndex searches pre-embedded content by similarity, optionally
// constrained by metadata filters from the rewrite step.
type VectorIndex interface {
	Search(ctx context.Context, twinID string, embedding []float32, filters map[string]string, limit int) ([]Candidate, error)
}

// ToolSource contributes external results for intents it supports (e.g. a
// web search tool for factual lookups). Implementations live outside this
// module; the orchestrator only consults sources whose Supports returns
// true for the turn's intent.
type ToolSource interface {
	Name() string
	Supports(intent rewrite.Intent) bool
	Fetch(ctx context.Context, twinID, query string) ([]Candidate, error)
}

// GenkitEmbedder adapts a Genkit ai.Embedder to the Embedder interface.
type GenkitEmbedder struct {
	Embedder ai.Embedder
}

// Embed implements Embedder.
func (g *GenkitEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := g.Embedder.Embed(ctx, &ai.EmbedRequest{
		Input: []*ai.Document{ai.DocumentFromText(text, nil)},
	})
	if err != nil {
		return nil, fmt.Errorf("embed failed: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return nil, fmt.Errorf("empty embedding returned")
	}
	return resp.Embeddings[0].Embedding, nil
}
