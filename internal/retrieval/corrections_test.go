package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/twinforge/twincore/internal/log"
)

type stubUpserter struct {
	err       error
	twinID    string
	id        uuid.UUID
	question  string
	answer    string
	citation  string
	embedding []float32
}

func (s *stubUpserter) Upsert(_ context.Context, twinID string, id uuid.UUID, question, answer, citation string, embedding []float32) error {
	s.twinID, s.id, s.question, s.answer, s.citation, s.embedding = twinID, id, question, answer, citation, embedding
	return s.err
}

func TestCorrectionsRecord(t *testing.T) {
	store := &stubUpserter{}
	c := NewCorrections(&stubEmbedder{}, store, log.NewNop())

	id, err := c.Record(context.Background(), "twin-1", "What was the Q4 revenue?", "Q4 revenue was $6.1M", "board-deck-2025")
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if id == uuid.Nil {
		t.Fatal("Record returned nil id")
	}
	if store.id != id {
		t.Errorf("stored id = %s, want %s", store.id, id)
	}
	if store.twinID != "twin-1" || store.question != "What was the Q4 revenue?" || store.answer != "Q4 revenue was $6.1M" {
		t.Errorf("stored pair = %q/%q for %q", store.question, store.answer, store.twinID)
	}
	if store.citation != "board-deck-2025" {
		t.Errorf("stored citation = %q", store.citation)
	}
	if len(store.embedding) != VectorDimension {
		t.Errorf("stored embedding dimension = %d, want %d", len(store.embedding), VectorDimension)
	}
}

func TestCorrectionsRecordEmbedderFailure(t *testing.T) {
	embedErr := errors.New("embedding service down")
	store := &stubUpserter{}
	c := NewCorrections(&stubEmbedder{err: embedErr}, store, log.NewNop())

	if _, err := c.Record(context.Background(), "twin-1", "q", "a", ""); !errors.Is(err, embedErr) {
		t.Fatalf("Record error = %v, want wrapped embed error", err)
	}
	if store.twinID != "" {
		t.Error("upsert must not run when embedding fails")
	}
}

func TestCorrectionsRecordStoreFailure(t *testing.T) {
	storeErr := errors.New("pg down")
	c := NewCorrections(&stubEmbedder{}, &stubUpserter{err: storeErr}, log.NewNop())

	if _, err := c.Record(context.Background(), "twin-1", "q", "a", ""); !errors.Is(err, storeErr) {
		t.Fatalf("Record error = %v, want store error", err)
	}
}
