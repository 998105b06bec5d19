// Package api exposes the turn pipeline over HTTP.
package api

import (
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ServerConfig holds the HTTP surface settings.
type ServerConfig struct {
	Addr               string
	CORSOrigins        []string
	RateLimitPerSecond float64
	RateLimitBurst     int
	TrustProxy         bool
}

func (c ServerConfig) withDefaults() ServerConfig {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.RateLimitPerSecond <= 0 {
		c.RateLimitPerSecond = 10
	}
	if c.RateLimitBurst <= 0 {
		c.RateLimitBurst = 20
	}
	return c
}

// Server serves the turn and correction endpoints plus health probes.
type Server struct {
	cfg      ServerConfig
	proc     Processor
	verified VerifiedRecorder
	pool     *pgxpool.Pool
	limiter  *ipLimiter
	logger   *slog.Logger
}

// NewServer creates the HTTP server. pool may be nil, in which case the
// readiness probe skips the database check.
func NewServer(cfg ServerConfig, proc Processor, verified VerifiedRecorder, pool *pgxpool.Pool, logger *slog.Logger) *Server {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:      cfg,
		proc:     proc,
		verified: verified,
		pool:     pool,
		limiter:  newIPLimiter(cfg.RateLimitPerSecond, cfg.RateLimitBurst),
		logger:   logger,
	}
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.cfg.Addr
}

// Handler builds the routing tree. Health probes sit outside the middleware
// stack so load balancers are never rate limited or logged per hit.
func (s *Server) Handler() http.Handler {
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("POST /api/v1/turn", s.handleTurn)
	apiMux.HandleFunc("POST /api/v1/verified", s.handleVerified)

	stack := s.wrap(apiMux,
		recoveryMiddleware(s.logger),
		requestIDMiddleware(),
		loggingMiddleware(s.logger),
		corsMiddleware(s.cfg.CORSOrigins),
		rateLimitMiddleware(s.limiter, s.cfg.TrustProxy, s.logger),
	)

	root := http.NewServeMux()
	root.HandleFunc("GET /healthz", s.handleHealth)
	root.HandleFunc("GET /readyz", s.handleReady)
	root.Handle("/api/", stack)
	return root
}

// wrap applies middleware so the first listed runs outermost.
func (s *Server) wrap(h http.Handler, mw ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return h
}
