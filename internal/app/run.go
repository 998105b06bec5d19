package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// HTTP server timeout configuration. Write timeout covers a full turn
// including the decision engine's scoring retry.
const (
	readHeaderTimeout = 10 * time.Second
	readTimeout       = 30 * time.Second
	writeTimeout      = 2 * time.Minute
	idleTimeout       = 2 * time.Minute
	shutdownTimeout   = 30 * time.Second
)

// Run serves HTTP until ctx is canceled, then drains in-flight turns within
// the shutdown timeout.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.Server.Addr(),
		Handler:           a.Server.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	a.logger.Info("HTTP server ready",
		"addr", srv.Addr,
		"turn", "POST /api/v1/turn",
		"health", "/healthz, /readyz",
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down server: %w", err)
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("HTTP server: %w", err)
	}
}
