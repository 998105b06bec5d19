package api

import (
	"context"
	"net/http"
	"time"
)

// handleHealth reports process liveness.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	setSecurityHeaders(w)
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady reports readiness to serve turns. The database is the only
// hard dependency; LLM scorers degrade per component instead.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	setSecurityHeaders(w)

	if s.pool != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.pool.Ping(ctx); err != nil {
			s.logger.Warn("readiness check failed", "error", err)
			WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unavailable",
				"reason": "database unreachable",
			})
			return
		}
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
