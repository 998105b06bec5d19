package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/twinforge/twincore/db"
	"github.com/twinforge/twincore/internal/api"
	"github.com/twinforge/twincore/internal/cache"
	"github.com/twinforge/twincore/internal/config"
	"github.com/twinforge/twincore/internal/decision"
	"github.com/twinforge/twincore/internal/persona"
	"github.com/twinforge/twincore/internal/pipeline"
	"github.com/twinforge/twincore/internal/rerank"
	"github.com/twinforge/twincore/internal/retrieval"
	"github.com/twinforge/twincore/internal/rewrite"
	"github.com/twinforge/twincore/internal/telemetry"
)

// Budget for generative rewrite calls across all turns on this replica.
const (
	rewriteCallsPerSecond = 5
	rewriteCallBurst      = 10
)

// Setup creates and initializes the application. On failure everything
// already initialized is released before returning.
func Setup(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, retErr error) {
	if cfg == nil {
		return nil, config.ErrConfigNil
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, logger: logger}

	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	tracer, otelShutdown, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.Telemetry.ServiceName,
	}, logger)
	if err != nil {
		return nil, err
	}
	a.otelShutdown = otelShutdown

	pool, err := provideDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.DBPool = pool

	g, err := provideGenkit(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	embedder := provideEmbedder(g, cfg)
	if embedder == nil {
		return nil, fmt.Errorf("embedder %q not found for provider %q", cfg.EmbedderModel, cfg.Provider)
	}

	gkEmbedder := &retrieval.GenkitEmbedder{Embedder: embedder}
	verifiedStore := retrieval.NewPostgresVerified(pool, logger)

	a.Pipeline = buildPipeline(ctx, cfg, g, gkEmbedder, verifiedStore, pool, tracer, logger)

	corrections := retrieval.NewCorrections(gkEmbedder, verifiedStore, logger.With("component", "corrections"))

	a.Server = api.NewServer(api.ServerConfig{
		Addr:        cfg.Server.Addr,
		CORSOrigins: cfg.Server.CORSOrigins,
	}, a.Pipeline, corrections, pool, logger)

	return a, nil
}

// provideDBPool runs pending migrations and opens the connection pool.
func provideDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}
	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

// provideGenkit initializes Genkit with the configured AI provider. Only
// Gemini is supported; config validation already requires its API key.
func provideGenkit(ctx context.Context, cfg *config.Config) (*genkit.Genkit, error) {
	switch cfg.Provider {
	case "", config.ProviderGemini, config.ProviderGoogleAI:
		g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with gemini provider")
		}
		return g, nil
	default:
		return nil, fmt.Errorf("unsupported provider %q", cfg.Provider)
	}
}

func provideEmbedder(g *genkit.Genkit, cfg *config.Config) ai.Embedder {
	return googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
}

// buildTurnCache selects Redis when an address is configured, otherwise the
// in-process cache. A Redis that fails its ping still gets used: it may be
// starting up, and every cache miss degrades to a generative call anyway.
func buildTurnCache(ctx context.Context, cfg *config.Config, logger *slog.Logger) cache.TurnCache {
	if cfg.Cache.RedisAddr == "" {
		return cache.NewMemory(cache.MemoryConfig{
			TTL:        cfg.Cache.TTL,
			MaxEntries: cfg.Cache.MaxEntries,
		})
	}

	r := cache.NewRedis(cache.RedisConfig{
		Addr:     cfg.Cache.RedisAddr,
		Password: cfg.Cache.RedisPassword,
		TTL:      cfg.Cache.TTL,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := r.Ping(pingCtx); err != nil {
		logger.Warn("redis unreachable at startup, cache calls will retry", "addr", cfg.Cache.RedisAddr, "error", err)
	}
	return r
}

func buildPipeline(ctx context.Context, cfg *config.Config, g *genkit.Genkit, embedder retrieval.Embedder, verified retrieval.VerifiedStore, pool *pgxpool.Pool, tracer trace.Tracer, logger *slog.Logger) *pipeline.Pipeline {
	modelName := cfg.FullModelName()

	rewriter := rewrite.New(rewrite.Config{
		Enabled:             cfg.Rewrite.Enabled,
		ConfidenceThreshold: cfg.Rewrite.ConfidenceThreshold,
		MaxHistoryTurns:     cfg.Rewrite.MaxHistoryTurns,
		Timeout:             cfg.Rewrite.Timeout,
		RolloutPercent:      cfg.Rewrite.RolloutPercent,
	},
		&rewrite.GenkitGenerator{G: g, ModelName: modelName},
		buildTurnCache(ctx, cfg, logger),
		rate.NewLimiter(rewriteCallsPerSecond, rewriteCallBurst),
		logger.With("component", "rewriter"),
	)

	orchestrator := retrieval.New(retrieval.Config{
		PerSourceLimit:  cfg.Retrieval.PerSourceLimit,
		MaxCandidates:   cfg.Retrieval.MaxCandidates,
		EmbedTimeout:    cfg.Retrieval.EmbedTimeout,
		VerifiedTimeout: cfg.Retrieval.SourceTimeout,
		VectorTimeout:   cfg.Retrieval.SourceTimeout,
		ToolTimeout:     cfg.Retrieval.SourceTimeout,
	},
		embedder,
		verified,
		retrieval.NewPostgresVector(pool, logger),
		nil,
		logger.With("component", "retrieval"),
	)

	ensemble := rerank.New(rerank.Config{TopK: cfg.Rerank.TopK}, buildScorers(cfg, g, modelName), logger.With("component", "rerank"))

	checker, err := decision.NewChecker(decision.DefaultRules())
	if err != nil {
		// Default rules are compile-time constants; a failure here is a bug.
		panic(fmt.Sprintf("compiling default safety rules: %v", err))
	}
	engine := decision.NewEngine(decision.Config{
		ScoringTimeout:    cfg.Decision.ScoringTimeout,
		RetryBackoff:      cfg.Decision.RetryBackoff,
		FlattenedFallback: cfg.Decision.FlattenedFallback,
	},
		checker,
		&decision.GenkitGenerator{G: g, ModelName: modelName},
		decision.NewBreaker(decision.BreakerConfig{}),
		logger.With("component", "decision"),
	)

	return pipeline.New(
		rewriter,
		orchestrator,
		ensemble,
		engine,
		persona.NewPostgresStore(pool, logger),
		&telemetry.SlogSink{Logger: logger},
		tracer,
		logger.With("component", "pipeline"),
	)
}

// buildScorers assembles the rerank ensemble: the cheap lexical scorer, the
// generative model scorer, and the external service scorer when configured.
func buildScorers(cfg *config.Config, g *genkit.Genkit, modelName string) []rerank.Strategy {
	strategies := []rerank.Strategy{
		{Scorer: rerank.Lexical{}, Weight: cfg.Rerank.LexicalWeight, Timeout: cfg.Rerank.Timeout},
		{Scorer: &rerank.Model{G: g, ModelName: modelName}, Weight: cfg.Rerank.ModelWeight, Timeout: cfg.Rerank.Timeout},
	}
	if cfg.Rerank.ServiceURL != "" {
		strategies = append(strategies, rerank.Strategy{
			Scorer:  &rerank.Service{URL: cfg.Rerank.ServiceURL},
			Weight:  cfg.Rerank.ModelWeight,
			Timeout: cfg.Rerank.Timeout,
		})
	}
	return strategies
}
