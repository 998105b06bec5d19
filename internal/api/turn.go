package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"unicode/utf8"

	"github.com/twinforge/twincore/internal/conversation"
	"github.com/twinforge/twincore/internal/decision"
	"github.com/twinforge/twincore/internal/pipeline"
)

const (
	maxBodyBytes    = 1 << 20
	maxTextRunes    = 4000
	maxHistoryTurns = 50
)

// Processor runs one conversational turn end to end.
type Processor interface {
	ProcessTurn(ctx context.Context, req pipeline.Request) (*pipeline.Response, error)
}

// turnRequest is the POST /api/v1/turn body.
type turnRequest struct {
	TwinID  string              `json:"twin_id"`
	UserID  string              `json:"user_id"`
	Text    string              `json:"text"`
	History []conversation.Turn `json:"history,omitempty"`
}

func (tr *turnRequest) validate() (code, message string) {
	switch {
	case tr.TwinID == "":
		return "missing_twin_id", "twin_id is required"
	case tr.UserID == "":
		return "missing_user_id", "user_id is required"
	case tr.Text == "":
		return "missing_text", "text is required"
	case utf8.RuneCountInString(tr.Text) > maxTextRunes:
		return "text_too_long", "text exceeds maximum length"
	case len(tr.History) > maxHistoryTurns:
		return "history_too_long", "history exceeds maximum turns"
	}
	for _, turn := range tr.History {
		if !turn.Role.Valid() {
			return "invalid_history_role", "history roles must be user or assistant"
		}
	}
	return "", ""
}

// handleTurn processes one chat turn. A safety-blocked decision is still a
// successful turn and returns 200 with the blocked decision attached.
func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	setSecurityHeaders(w)

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req turnRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteError(w, http.StatusRequestEntityTooLarge, "body_too_large", "request body exceeds limit", s.logger)
			return
		}
		WriteError(w, http.StatusBadRequest, "invalid_json", "request body is not valid JSON", s.logger)
		return
	}
	if code, msg := req.validate(); code != "" {
		WriteError(w, http.StatusBadRequest, code, msg, s.logger)
		return
	}

	resp, err := s.proc.ProcessTurn(r.Context(), pipeline.Request{
		TwinID:  req.TwinID,
		UserID:  req.UserID,
		Text:    req.Text,
		History: req.History,
	})
	if err != nil {
		s.writeTurnError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) writeTurnError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, decision.ErrPersonaSpecMissing):
		WriteError(w, http.StatusNotFound, "persona_not_found", "no active persona spec for twin", s.logger)
	case errors.Is(err, context.Canceled) && r.Context().Err() != nil:
		// Client went away; nothing useful to write.
		s.logger.Debug("turn aborted by client", "request_id", requestIDFromContext(r.Context()))
	default:
		s.logger.Error("turn processing failed",
			"error", err,
			"request_id", requestIDFromContext(r.Context()),
		)
		WriteError(w, http.StatusInternalServerError, "internal_error", "turn processing failed", s.logger)
	}
}
