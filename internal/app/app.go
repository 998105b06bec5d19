// Package app initializes the application: configuration, database pool,
// Genkit, the turn pipeline, and the HTTP server. Entry points call Setup
// once and Close on shutdown.
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/twinforge/twincore/internal/api"
	"github.com/twinforge/twincore/internal/config"
	"github.com/twinforge/twincore/internal/pipeline"
)

// App is the application container. Fields are exported for entry points
// and integration tests.
type App struct {
	Config   *config.Config
	Genkit   *genkit.Genkit
	DBPool   *pgxpool.Pool
	Pipeline *pipeline.Pipeline
	Server   *api.Server

	logger       *slog.Logger
	otelShutdown func(context.Context) error
}

// Close releases resources in reverse initialization order. Safe to call
// on a partially initialized App after a Setup failure.
func (a *App) Close() error {
	if a.logger != nil {
		a.logger.Info("shutting down")
	}

	if a.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.otelShutdown(ctx); err != nil {
			slog.Warn("shutting down tracer provider", "error", err)
		}
	}

	if a.DBPool != nil {
		a.DBPool.Close()
	}
	return nil
}
