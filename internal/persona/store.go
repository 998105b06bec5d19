package persona

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store fetches the active persona spec for a twin. Read-only; writes
// belong to the external persona-management service.
type Store interface {
	Get(ctx context.Context, twinID string) (*Spec, error)
}

// PostgresStore implements Store over the persona_specs table, which holds
// one active versioned spec per twin as JSONB.
//
// Safe for concurrent use.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresStore creates a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{pool: pool, logger: logger}
}

// Get implements Store. Returns ErrNotFound when the twin has no active
// spec and ErrInvalidSpec when the stored document fails validation.
func (s *PostgresStore) Get(ctx context.Context, twinID string) (*Spec, error) {
	var (
		version string
		doc     []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT version, spec
		FROM persona_specs
		WHERE twin_id = $1 AND active
		ORDER BY created_at DESC
		LIMIT 1`, twinID).Scan(&version, &doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: twin %q", ErrNotFound, twinID)
	}
	if err != nil {
		return nil, fmt.Errorf("persona get %q: %w", twinID, err)
	}

	var spec Spec
	if err := json.Unmarshal(doc, &spec); err != nil {
		return nil, fmt.Errorf("%w: twin %q: %w", ErrInvalidSpec, twinID, err)
	}
	spec.TwinID = twinID
	spec.Version = version

	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("twin %q: %w", twinID, err)
	}

	s.logger.Debug("persona spec loaded", "twin", twinID, "version", version)
	return &spec, nil
}

// StaticStore serves specs from memory. Tests and single-tenant embeddings.
type StaticStore struct {
	specs map[string]*Spec
}

// NewStaticStore creates a StaticStore from the given specs.
func NewStaticStore(specs ...*Spec) *StaticStore {
	m := make(map[string]*Spec, len(specs))
	for _, s := range specs {
		m[s.TwinID] = s
	}
	return &StaticStore{specs: m}
}

// Get implements Store.
func (s *StaticStore) Get(_ context.Context, twinID string) (*Spec, error) {
	spec, ok := s.specs[twinID]
	if !ok {
		return nil, fmt.Errorf("%w: twin %q", ErrNotFound, twinID)
	}
	return spec, nil
}
