// Package config provides application configuration with multi-source
// priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.twincore/config.yaml or ./config.yaml)
//  3. Default values
//
// Error handling uses sentinel errors checkable with errors.Is(); sensitive
// fields are masked in MarshalJSON.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidThreshold indicates a confidence threshold is out of range.
	ErrInvalidThreshold = errors.New("invalid confidence threshold")

	// ErrInvalidRolloutPercent indicates the rollout percentage is out of range.
	ErrInvalidRolloutPercent = errors.New("invalid rollout percent")

	// ErrInvalidEnsembleWeights indicates the reranker weights are unusable.
	ErrInvalidEnsembleWeights = errors.New("invalid ensemble weights")

	// ErrInvalidTopK indicates the rerank top-K is out of range.
	ErrInvalidTopK = errors.New("invalid top-k")

	// ErrInvalidCacheSize indicates the rewrite cache bound is out of range.
	ErrInvalidCacheSize = errors.New("invalid cache size")

	// ErrInvalidTimeout indicates a per-step timeout is non-positive.
	ErrInvalidTimeout = errors.New("invalid timeout")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresPassword indicates the PostgreSQL password is invalid.
	ErrInvalidPostgresPassword = errors.New("invalid PostgreSQL password")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")
)

// AI provider identifiers used in Config.Provider.
const (
	ProviderGemini   = "gemini"
	ProviderOllama   = "ollama"
	ProviderOpenAI   = "openai"
	ProviderGoogleAI = "googleai"
)

// DefaultEmbedderModel truncates to 768 dimensions to match the pgvector
// schema; see retrieval.VectorDimension.
const DefaultEmbedderModel = "gemini-embedding-001"

// RewriteSettings configures the query rewriter.
type RewriteSettings struct {
	Enabled             bool          `mapstructure:"enabled" json:"enabled"`
	ConfidenceThreshold float64       `mapstructure:"confidence_threshold" json:"confidence_threshold"`
	MaxHistoryTurns     int           `mapstructure:"max_history_turns" json:"max_history_turns"`
	Timeout             time.Duration `mapstructure:"timeout" json:"timeout"`
	RolloutPercent      int           `mapstructure:"rollout_percent" json:"rollout_percent"`
}

// RetrievalSettings configures the retrieval orchestrator.
type RetrievalSettings struct {
	PerSourceLimit int           `mapstructure:"per_source_limit" json:"per_source_limit"`
	MaxCandidates  int           `mapstructure:"max_candidates" json:"max_candidates"`
	EmbedTimeout   time.Duration `mapstructure:"embed_timeout" json:"embed_timeout"`
	SourceTimeout  time.Duration `mapstructure:"source_timeout" json:"source_timeout"`
}

// RerankSettings configures the reranking ensemble.
type RerankSettings struct {
	TopK          int           `mapstructure:"top_k" json:"top_k"`
	LexicalWeight float64       `mapstructure:"lexical_weight" json:"lexical_weight"`
	ModelWeight   float64       `mapstructure:"model_weight" json:"model_weight"`
	Timeout       time.Duration `mapstructure:"timeout" json:"timeout"`
	// ServiceURL points at an external cross-encoder scoring service. Empty
	// disables the service scorer.
	ServiceURL string `mapstructure:"service_url" json:"service_url"`
}

// DecisionSettings configures the persona decision engine.
type DecisionSettings struct {
	ScoringTimeout    time.Duration `mapstructure:"scoring_timeout" json:"scoring_timeout"`
	RetryBackoff      time.Duration `mapstructure:"retry_backoff" json:"retry_backoff"`
	FlattenedFallback bool          `mapstructure:"flattened_fallback" json:"flattened_fallback"`
}

// CacheSettings configures the rewrite cache. RedisAddr empty selects the
// in-process cache.
type CacheSettings struct {
	TTL           time.Duration `mapstructure:"ttl" json:"ttl"`
	MaxEntries    int           `mapstructure:"max_entries" json:"max_entries"`
	RedisAddr     string        `mapstructure:"redis_addr" json:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password" json:"redis_password"` // SENSITIVE: masked in MarshalJSON
}

// TelemetrySettings configures span export and turn traces.
type TelemetrySettings struct {
	Enabled     bool   `mapstructure:"enabled" json:"enabled"`
	Endpoint    string `mapstructure:"endpoint" json:"endpoint"`
	ServiceName string `mapstructure:"service_name" json:"service_name"`
	Environment string `mapstructure:"environment" json:"environment"`
}

// ServerSettings configures the HTTP API.
type ServerSettings struct {
	Addr        string   `mapstructure:"addr" json:"addr"`
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`
}

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON().
type Config struct {
	// AI provider and model configuration
	Provider      string `mapstructure:"provider" json:"provider"`
	ModelName     string `mapstructure:"model_name" json:"model_name"`
	EmbedderModel string `mapstructure:"embedder_model" json:"embedder_model"`

	Rewrite   RewriteSettings   `mapstructure:"rewrite" json:"rewrite"`
	Retrieval RetrievalSettings `mapstructure:"retrieval" json:"retrieval"`
	Rerank    RerankSettings    `mapstructure:"rerank" json:"rerank"`
	Decision  DecisionSettings  `mapstructure:"decision" json:"decision"`
	Cache     CacheSettings     `mapstructure:"cache" json:"cache"`
	Telemetry TelemetrySettings `mapstructure:"telemetry" json:"telemetry"`
	Server    ServerSettings    `mapstructure:"server" json:"server"`

	// Storage configuration (see storage.go)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".twincore")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// Config file not found is not an error; defaults apply.
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL overrides individual postgres_* settings.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	viper.SetDefault("provider", ProviderGemini)
	viper.SetDefault("model_name", "gemini-2.5-flash")
	viper.SetDefault("embedder_model", DefaultEmbedderModel)

	viper.SetDefault("rewrite.enabled", true)
	viper.SetDefault("rewrite.confidence_threshold", 0.7)
	viper.SetDefault("rewrite.max_history_turns", 5)
	viper.SetDefault("rewrite.timeout", "3s")
	viper.SetDefault("rewrite.rollout_percent", 100)

	viper.SetDefault("retrieval.per_source_limit", 10)
	viper.SetDefault("retrieval.max_candidates", 20)
	viper.SetDefault("retrieval.embed_timeout", "3s")
	viper.SetDefault("retrieval.source_timeout", "4s")

	viper.SetDefault("rerank.top_k", 8)
	viper.SetDefault("rerank.lexical_weight", 1.0)
	viper.SetDefault("rerank.model_weight", 3.0)
	viper.SetDefault("rerank.timeout", "4s")

	viper.SetDefault("decision.scoring_timeout", "30s")
	viper.SetDefault("decision.retry_backoff", "500ms")
	viper.SetDefault("decision.flattened_fallback", false)

	viper.SetDefault("cache.ttl", "5m")
	viper.SetDefault("cache.max_entries", 1000)

	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.endpoint", "localhost:4318")
	viper.SetDefault("telemetry.service_name", "twincore")
	viper.SetDefault("telemetry.environment", "dev")

	viper.SetDefault("server.addr", ":8080")
	viper.SetDefault("server.cors_origins", []string{"http://localhost:4200"})

	// PostgreSQL defaults (matching docker-compose.yml)
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "twincore")
	viper.SetDefault("postgres_password", "twincore_dev_password")
	viper.SetDefault("postgres_db_name", "twincore")
	viper.SetDefault("postgres_ssl_mode", "disable")
}

// bindEnvVariables binds runtime override environment variables explicitly.
// GEMINI_API_KEY is read directly by Genkit, not via Viper; its presence is
// checked in Validate().
func bindEnvVariables() {
	// Hardcoded keys cannot fail to bind; a panic here is a bug.
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("provider", "TWINCORE_PROVIDER")
	mustBind("model_name", "TWINCORE_MODEL_NAME")
	mustBind("rewrite.enabled", "TWINCORE_REWRITE_ENABLED")
	mustBind("rewrite.rollout_percent", "TWINCORE_REWRITE_ROLLOUT_PERCENT")
	mustBind("cache.redis_addr", "TWINCORE_REDIS_ADDR")
	mustBind("cache.redis_password", "TWINCORE_REDIS_PASSWORD")
	mustBind("telemetry.endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
	mustBind("server.addr", "TWINCORE_ADDR")
	mustBind("server.cors_origins", "TWINCORE_CORS_ORIGINS")
}

// maskedValue is the placeholder for masked sensitive data. Full-width
// blocks avoid substring matching against the real secret.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging. Secrets of 8 chars or
// fewer are fully masked; longer secrets keep the first and last 2 chars for
// debug utility. This defends against accidental logging, not log
// compromise.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit sensitive field
// masking. When adding new sensitive fields, update this method.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	a.Cache.RedisPassword = maskSecret(a.Cache.RedisPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// FullModelName returns the provider-qualified model name for Genkit.
// If ModelName already contains a "/", it is returned as-is.
func (c *Config) FullModelName() string {
	if strings.Contains(c.ModelName, "/") {
		return c.ModelName
	}
	switch c.Provider {
	case ProviderOllama:
		return ProviderOllama + "/" + c.ModelName
	case ProviderOpenAI:
		return ProviderOpenAI + "/" + c.ModelName
	default:
		return ProviderGoogleAI + "/" + c.ModelName
	}
}

// FullEmbedderName returns the provider-qualified embedder name for Genkit.
func (c *Config) FullEmbedderName() string {
	if strings.Contains(c.EmbedderModel, "/") {
		return c.EmbedderModel
	}
	return ProviderGoogleAI + "/" + c.EmbedderModel
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
