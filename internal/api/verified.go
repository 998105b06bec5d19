package api

import (
	"context"
	"encoding/json"
	"net/http"
	"unicode/utf8"

	"github.com/google/uuid"
)

// VerifiedRecorder stores an owner-approved answer so future semantically
// equivalent queries surface it with verified precedence.
type VerifiedRecorder interface {
	Record(ctx context.Context, twinID, question, answer, citation string) (uuid.UUID, error)
}

// verifiedRequest is the POST /api/v1/verified body.
type verifiedRequest struct {
	TwinID   string `json:"twin_id"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Citation string `json:"citation,omitempty"`
}

func (vr *verifiedRequest) validate() (code, message string) {
	switch {
	case vr.TwinID == "":
		return "missing_twin_id", "twin_id is required"
	case vr.Question == "":
		return "missing_question", "question is required"
	case vr.Answer == "":
		return "missing_answer", "answer is required"
	case utf8.RuneCountInString(vr.Question) > maxTextRunes:
		return "question_too_long", "question exceeds maximum length"
	case utf8.RuneCountInString(vr.Answer) > maxTextRunes:
		return "answer_too_long", "answer exceeds maximum length"
	}
	return "", ""
}

// handleVerified records a corrected answer in the verified store.
func (s *Server) handleVerified(w http.ResponseWriter, r *http.Request) {
	setSecurityHeaders(w)

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req verifiedRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_json", "request body is not valid JSON", s.logger)
		return
	}
	if code, msg := req.validate(); code != "" {
		WriteError(w, http.StatusBadRequest, code, msg, s.logger)
		return
	}

	id, err := s.verified.Record(r.Context(), req.TwinID, req.Question, req.Answer, req.Citation)
	if err != nil {
		s.logger.Error("recording verified answer failed",
			"error", err,
			"twin", req.TwinID,
			"request_id", requestIDFromContext(r.Context()),
		)
		WriteError(w, http.StatusInternalServerError, "internal_error", "recording verified answer failed", s.logger)
		return
	}

	WriteJSON(w, http.StatusCreated, map[string]string{"id": id.String()})
}
