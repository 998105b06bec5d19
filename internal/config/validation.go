package config

import (
	"fmt"
	"log/slog"
	"os"
	"slices"
)

// Validate validates configuration values. Returns sentinel errors checkable
// with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	// API key required for all generative operations.
	if os.Getenv("GEMINI_API_KEY") == "" {
		return fmt.Errorf("%w: GEMINI_API_KEY environment variable is required",
			ErrMissingAPIKey)
	}

	if c.ModelName == "" {
		return fmt.Errorf("%w: model_name cannot be empty", ErrInvalidModelName)
	}
	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder_model cannot be empty", ErrInvalidEmbedderModel)
	}

	if t := c.Rewrite.ConfidenceThreshold; t < 0 || t > 1 {
		return fmt.Errorf("%w: rewrite.confidence_threshold must be in [0,1], got %.2f",
			ErrInvalidThreshold, t)
	}
	if p := c.Rewrite.RolloutPercent; p < 0 || p > 100 {
		return fmt.Errorf("%w: rewrite.rollout_percent must be in [0,100], got %d",
			ErrInvalidRolloutPercent, p)
	}

	if k := c.Rerank.TopK; k < 1 || k > 50 {
		return fmt.Errorf("%w: rerank.top_k must be in [1,50], got %d", ErrInvalidTopK, k)
	}
	if c.Rerank.LexicalWeight <= 0 || c.Rerank.ModelWeight < 0 {
		return fmt.Errorf("%w: lexical_weight must be positive, model_weight non-negative (got %.2f, %.2f)",
			ErrInvalidEnsembleWeights, c.Rerank.LexicalWeight, c.Rerank.ModelWeight)
	}

	if n := c.Cache.MaxEntries; n < 1 {
		return fmt.Errorf("%w: cache.max_entries must be positive, got %d", ErrInvalidCacheSize, n)
	}

	for name, d := range map[string]interface{ Seconds() float64 }{
		"rewrite.timeout":          c.Rewrite.Timeout,
		"retrieval.embed_timeout":  c.Retrieval.EmbedTimeout,
		"retrieval.source_timeout": c.Retrieval.SourceTimeout,
		"rerank.timeout":           c.Rerank.Timeout,
		"decision.scoring_timeout": c.Decision.ScoringTimeout,
		"cache.ttl":                c.Cache.TTL,
	} {
		if d.Seconds() <= 0 {
			return fmt.Errorf("%w: %s must be positive", ErrInvalidTimeout, name)
		}
	}

	// PostgreSQL configuration.
	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgresDBName)
	}
	if c.PostgresPassword == "" {
		return fmt.Errorf("%w: postgres_password must be set", ErrInvalidPostgresPassword)
	}
	if c.PostgresPassword == "twincore_dev_password" {
		slog.Warn("using default development password for PostgreSQL",
			"warning", "change postgres_password for production deployments")
	}
	if len(c.PostgresPassword) < 8 {
		return fmt.Errorf("%w: postgres_password must be at least 8 characters (got %d)",
			ErrInvalidPostgresPassword, len(c.PostgresPassword))
	}

	// Modern SSL modes only; allow/prefer are deprecated and MITM-vulnerable.
	validSSLModes := []string{"disable", "require", "verify-ca", "verify-full"}
	if !slices.Contains(validSSLModes, c.PostgresSSLMode) {
		return fmt.Errorf("%w: %q is not valid, must be one of: %v",
			ErrInvalidPostgresSSLMode, c.PostgresSSLMode, validSSLModes)
	}

	return nil
}
