package decision

import (
	"fmt"
	"regexp"
)

// Action is what a matched safety rule does to the turn.
type Action string

const (
	// ActionRefuse blocks the turn before any scoring work runs.
	ActionRefuse Action = "refuse"
	// ActionEscalate flags the turn for human review but lets best-effort
	// scoring proceed.
	ActionEscalate Action = "escalate"
)

// Rule is one static safety boundary. Rules are evaluated in list order and
// the first match wins.
type Rule struct {
	ID               string `json:"id"`
	Pattern          string `json:"pattern"` // case-insensitive regex
	Action           Action `json:"action"`
	ResponseTemplate string `json:"response_template"`
}

// Match reports which rule fired.
type Match struct {
	Rule Rule
}

// Checker evaluates the safety boundary rules. Compiled once at construction;
// safe for concurrent use.
type Checker struct {
	rules    []Rule
	compiled []*regexp.Regexp
}

// NewChecker compiles the rule list. Patterns are matched case-insensitively.
func NewChecker(rules []Rule) (*Checker, error) {
	compiled := make([]*regexp.Regexp, len(rules))
	for i, r := range rules {
		if r.Action != ActionRefuse && r.Action != ActionEscalate {
			return nil, fmt.Errorf("safety rule %q: unknown action %q", r.ID, r.Action)
		}
		re, err := regexp.Compile("(?i)" + r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("safety rule %q: %w", r.ID, err)
		}
		compiled[i] = re
	}
	return &Checker{rules: rules, compiled: compiled}, nil
}

// Check returns the first matching rule, or nil when the text is clean.
func (c *Checker) Check(text string) *Match {
	for i, re := range c.compiled {
		if re.MatchString(text) {
			return &Match{Rule: c.rules[i]}
		}
	}
	return nil
}

// DefaultRules covers the financial and medical boundaries every twin ships
// with. Twin-specific rules are appended from configuration.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:               "financial-commitment",
			Pattern:          `should\s+i\s+(invest|put|buy|sell)\b.*\$|\binvest\s+\$?\d`,
			Action:           ActionRefuse,
			ResponseTemplate: "I can't advise on specific financial commitments. A licensed financial advisor can help you evaluate this decision.",
		},
		{
			ID:               "medical-advice",
			Pattern:          `\b(diagnos|prescri|dosage|medication)\w*\b.*\b(should|can|safe)\b|\bshould\s+i\s+(take|stop\s+taking)\b`,
			Action:           ActionRefuse,
			ResponseTemplate: "I can't give medical advice. Please consult a qualified healthcare professional.",
		},
		{
			ID:               "legal-exposure",
			Pattern:          `\b(sue|lawsuit|legal\s+action|is\s+it\s+legal)\b`,
			Action:           ActionEscalate,
			ResponseTemplate: "This touches on legal questions that need professional review.",
		},
		{
			ID:               "self-harm",
			Pattern:          `\b(hurt|harm|kill)\s+(myself|themselves)\b`,
			Action:           ActionRefuse,
			ResponseTemplate: "I'm not able to help with this, but you deserve support from someone who can. Please reach out to a crisis line or someone you trust.",
		},
	}
}
