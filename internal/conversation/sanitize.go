package conversation

import "regexp"

// delimiterRe matches runs of 3+ consecutive '=' characters. Such runs could
// resemble the ===CONTEXT_xxx=== nonce delimiters used in generative prompts.
var delimiterRe = regexp.MustCompile(`={3,}`)

// SanitizeDelimiters replaces runs of 3+ '=' with '--' so conversation
// content cannot mimic prompt delimiter boundaries. The nonce provides the
// primary protection (128-bit entropy); this is defense-in-depth.
func SanitizeDelimiters(s string) string {
	return delimiterRe.ReplaceAllString(s, "--")
}
