// Package conversation defines the conversation turn model shared by the
// rewrite, retrieval, and decision components.
//
// A conversation is an ordered, append-only sequence of turns owned by the
// chat session upstream; components in this module receive the relevant
// turns per request and never mutate them.
package conversation

import (
	"fmt"
	"strings"
	"time"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	// RoleUser marks a turn written by the end user.
	RoleUser Role = "user"

	// RoleAssistant marks a turn produced by the twin.
	RoleAssistant Role = "assistant"
)

// Valid reports whether the role is one of the known values.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Turn is a single utterance in a conversation. Immutable once appended.
type Turn struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// FormatTranscript renders turns as a plain transcript for prompt assembly:
//
//	User: What's our Q3 revenue?
//	Assistant: Q3 revenue was $5.2M
//
// Turn text is sanitized so conversation content cannot mimic the nonce-bound
// delimiters used around prompts elsewhere in this module.
func FormatTranscript(turns []Turn) string {
	var b strings.Builder
	for i, turn := range turns {
		if i > 0 {
			b.WriteByte('\n')
		}
		label := "User"
		if turn.Role == RoleAssistant {
			label = "Assistant"
		}
		fmt.Fprintf(&b, "%s: %s", label, SanitizeDelimiters(turn.Text))
	}
	return b.String()
}
