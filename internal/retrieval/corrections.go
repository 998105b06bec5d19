package retrieval

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// VerifiedUpserter writes a single verified answer. Implemented by
// PostgresVerified.
type VerifiedUpserter interface {
	Upsert(ctx context.Context, twinID string, id uuid.UUID, question, answer, citation string, embedding []float32) error
}

// Corrections is the owner-correction path into the verified answer store.
// Recording a corrected pair embeds the question and upserts it, so every
// later semantically equivalent query surfaces the corrected answer ahead of
// vector hits instead of regressing to the old mistake.
type Corrections struct {
	embedder Embedder
	store    VerifiedUpserter
	logger   *slog.Logger
}

// NewCorrections creates a Corrections writer.
func NewCorrections(embedder Embedder, store VerifiedUpserter, logger *slog.Logger) *Corrections {
	if logger == nil {
		logger = slog.Default()
	}
	return &Corrections{embedder: embedder, store: store, logger: logger}
}

// Record embeds question and stores the verified pair, returning the new
// answer's id. Unlike retrieval, a failure here is surfaced, not degraded:
// a correction the owner believes saved but wasn't would defeat the
// precedence guarantee.
func (c *Corrections) Record(ctx context.Context, twinID, question, answer, citation string) (uuid.UUID, error) {
	embedding, err := c.embedder.Embed(ctx, question)
	if err != nil {
		return uuid.Nil, fmt.Errorf("embedding corrected question: %w", err)
	}

	id := uuid.New()
	if err := c.store.Upsert(ctx, twinID, id, question, answer, citation, embedding); err != nil {
		return uuid.Nil, err
	}

	c.logger.Info("verified answer recorded", "twin", twinID, "id", id)
	return id, nil
}
