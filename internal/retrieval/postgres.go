package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// VectorDimension is the embedding width the schema expects. Must match the
// configured embedder model's output dimensionality (gemini-embedding-001
// truncated to 768 via OutputDimensionality).
const VectorDimension = 768

// minVerifiedSimilarity filters verified matches that are semantically
// unrelated to the query. Deliberately permissive: the precedence rule, not
// this threshold, decides ranking.
const minVerifiedSimilarity = 0.30

// PostgresVerified implements VerifiedStore over the verified_answers table.
// Safe for concurrent use.
type PostgresVerified struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresVerified creates a PostgresVerified store.
func NewPostgresVerified(pool *pgxpool.Pool, logger *slog.Logger) *PostgresVerified {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresVerified{pool: pool, logger: logger}
}

// Search implements VerifiedStore using cosine similarity over the stored
// question embeddings. The returned candidate text is "Q: ...\nA: ..." so
// rerankers and the decision engine see both sides of the pair.
func (s *PostgresVerified) Search(ctx context.Context, twinID string, embedding []float32, limit int) ([]Candidate, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, question, answer, citation,
		       1 - (question_embedding <=> $2) AS similarity
		FROM verified_answers
		WHERE twin_id = $1
		ORDER BY question_embedding <=> $2
		LIMIT $3`,
		twinID, pgvector.NewVector(embedding), limit)
	if err != nil {
		return nil, fmt.Errorf("verified search: %w", err)
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var (
			id         uuid.UUID
			question   string
			answer     string
			citation   *string
			similarity float64
		)
		if err := rows.Scan(&id, &question, &answer, &citation, &similarity); err != nil {
			return nil, fmt.Errorf("verified scan: %w", err)
		}
		if similarity < minVerifiedSimilarity {
			continue
		}
		c := Candidate{
			SourceKind: SourceVerified,
			SourceID:   id.String(),
			Text:       "Q: " + question + "\nA: " + answer,
			RawScore:   similarity,
		}
		if citation != nil {
			c.CitationRef = *citation
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("verified rows: %w", err)
	}
	return out, nil
}

// Upsert stores or replaces a verified answer. The ingestion pipeline owns
// bulk writes; this path exists for the correction flow where an owner
// approves a single answer.
func (s *PostgresVerified) Upsert(ctx context.Context, twinID string, id uuid.UUID, question, answer, citation string, embedding []float32) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO verified_answers (id, twin_id, question, answer, citation, question_embedding)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)
		ON CONFLICT (id) DO UPDATE SET
			question = EXCLUDED.question,
			answer = EXCLUDED.answer,
			citation = EXCLUDED.citation,
			question_embedding = EXCLUDED.question_embedding,
			updated_at = now()`,
		id, twinID, question, answer, citation, pgvector.NewVector(embedding))
	if err != nil {
		return fmt.Errorf("verified upsert: %w", err)
	}
	return nil
}

// PostgresVector implements VectorIndex over the twin_documents table.
// Safe for concurrent use.
type PostgresVector struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresVector creates a PostgresVector index.
func NewPostgresVector(pool *pgxpool.Pool, logger *slog.Logger) *PostgresVector {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresVector{pool: pool, logger: logger}
}

// Search implements VectorIndex. Filters are matched as JSONB containment
// against document metadata (e.g. {"time_range": "Q4"}).
func (s *PostgresVector) Search(ctx context.Context, twinID string, embedding []float32, filters map[string]string, limit int) ([]Candidate, error) {
	query := `
		SELECT id, content, citation, metadata,
		       1 - (embedding <=> $2) AS similarity
		FROM twin_documents
		WHERE twin_id = $1`
	args := []any{twinID, pgvector.NewVector(embedding)}

	if len(filters) > 0 {
		filterJSON, err := json.Marshal(filters)
		if err != nil {
			return nil, fmt.Errorf("marshal filters: %w", err)
		}
		query += fmt.Sprintf(" AND metadata @> $%d::jsonb", len(args)+1)
		args = append(args, filterJSON)
	}

	query += fmt.Sprintf(" ORDER BY embedding <=> $2 LIMIT $%d", len(args)+1)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var (
			id         uuid.UUID
			content    string
			citation   *string
			metadata   []byte
			similarity float64
		)
		if err := rows.Scan(&id, &content, &citation, &metadata, &similarity); err != nil {
			return nil, fmt.Errorf("vector scan: %w", err)
		}
		c := Candidate{
			SourceKind: SourceVector,
			SourceID:   id.String(),
			Text:       content,
			RawScore:   similarity,
		}
		if citation != nil {
			c.CitationRef = *citation
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("vector rows: %w", err)
	}
	return out, nil
}
