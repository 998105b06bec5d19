package retrieval

import (
	"context"
	"math"
	"testing"

	"github.com/firebase/genkit/go/genkit"

	"github.com/twinforge/twincore/internal/testutil"
)

// GenkitEmbedder against a registered mock embedder.
func TestGenkitEmbedderEmbed(t *testing.T) {
	ctx := context.Background()
	g := genkit.Init(ctx)
	if g == nil {
		t.Fatal("initializing genkit")
	}

	mock := testutil.NewMockEmbedder(VectorDimension)
	embedder := &GenkitEmbedder{Embedder: mock.RegisterEmbedder(g)}

	vec, err := embedder.Embed(ctx, "what did alex say about pricing")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != VectorDimension {
		t.Fatalf("dimension = %d, want %d", len(vec), VectorDimension)
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if math.Abs(math.Sqrt(norm)-1) > 1e-3 {
		t.Errorf("vector norm = %f, want unit", math.Sqrt(norm))
	}

	again, err := embedder.Embed(ctx, "what did alex say about pricing")
	if err != nil {
		t.Fatalf("Embed again: %v", err)
	}
	for i := range vec {
		if vec[i] != again[i] {
			t.Fatal("embedding not deterministic for identical content")
		}
	}
}
