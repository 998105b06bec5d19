package rewrite

import (
	"regexp"
	"strings"

	"github.com/twinforge/twincore/internal/conversation"
)

// Entity type keys used in Result.Entities.
const (
	EntityAmount = "amount"
	EntityDate   = "date"
	EntityQuoted = "quoted"
	EntityPeriod = "period"
)

// minSelfContainedWords is the word count below which a query is assumed to
// be elliptical ("What about Q4?") and in need of history.
const minSelfContainedWords = 4

var (
	amountRe = regexp.MustCompile(`\$\s?\d[\d,]*(?:\.\d+)?\s?(?:[kKmMbB]|million|billion|thousand)?`)
	dateRe   = regexp.MustCompile(`(?i)\b(?:\d{4}-\d{2}-\d{2}|\d{1,2}/\d{1,2}/\d{2,4}|(?:january|february|march|april|may|june|july|august|september|october|november|december)\s+\d{1,2}(?:,?\s+\d{4})?|\b(?:19|20)\d{2}\b)`)
	quotedRe = regexp.MustCompile(`"([^"]{1,120})"|'([^']{1,120})'`)
	periodRe = regexp.MustCompile(`(?i)\b(?:q[1-4](?:\s+\d{4})?|h[12](?:\s+\d{4})?|fy\s?\d{2,4}|last\s+(?:week|month|quarter|year)|this\s+(?:week|month|quarter|year))\b`)

	// deicticRe matches pronouns and demonstratives that point at something
	// said earlier. Word-bounded so "italy" does not match "it".
	deicticRe = regexp.MustCompile(`(?i)\b(it|that|this|those|these|they|them|he|she|him|her)\b`)

	// ellipticalLeadRe matches follow-up openers that only make sense with
	// prior context.
	ellipticalLeadRe = regexp.MustCompile(`(?i)^\s*(?:what|how|and what|and how)\s+about\b|^\s*and\s|^\s*same\s+for\b|^\s*also\b`)
)

// ExtractEntities pulls typed spans (amounts, dates, quoted terms, fiscal
// periods) out of text. Returns nil when nothing matches.
func ExtractEntities(text string) map[string][]string {
	entities := make(map[string][]string)

	add := func(key string, vals []string) {
		if len(vals) > 0 {
			entities[key] = append(entities[key], vals...)
		}
	}

	add(EntityAmount, amountRe.FindAllString(text, -1))
	add(EntityDate, dateRe.FindAllString(text, -1))
	add(EntityPeriod, periodRe.FindAllString(text, -1))

	for _, m := range quotedRe.FindAllStringSubmatch(text, -1) {
		if m[1] != "" {
			entities[EntityQuoted] = append(entities[EntityQuoted], m[1])
		} else if m[2] != "" {
			entities[EntityQuoted] = append(entities[EntityQuoted], m[2])
		}
	}

	if len(entities) == 0 {
		return nil
	}
	return entities
}

// SelfContained reports whether text can be interpreted without history:
// no deictic pronouns, no elliptical opener, and enough words to stand on
// its own. Queries that pass skip the generative rewrite entirely.
func SelfContained(text string) bool {
	if deicticRe.MatchString(text) {
		return false
	}
	if ellipticalLeadRe.MatchString(text) {
		return false
	}
	return len(strings.Fields(text)) >= minSelfContainedWords
}

// ResolveDeixis substitutes the most recent matching referent from history
// for each deictic pronoun in text. The referent is the newest entity span
// extracted from prior turns; when history carries no entities the text is
// returned unchanged with resolved=false.
func ResolveDeixis(text string, history []conversation.Turn) (resolved string, applied bool) {
	referent := latestReferent(history)
	if referent == "" || !deicticRe.MatchString(text) {
		return text, false
	}
	return deicticRe.ReplaceAllString(text, referent), true
}

// latestReferent scans history newest-first for the most recent entity span.
// Quoted terms win over periods, periods over amounts: a quoted term is
// almost always the topic, an amount almost never is.
func latestReferent(history []conversation.Turn) string {
	for i := len(history) - 1; i >= 0; i-- {
		entities := ExtractEntities(history[i].Text)
		if entities == nil {
			continue
		}
		for _, key := range []string{EntityQuoted, EntityPeriod, EntityDate, EntityAmount} {
			if spans := entities[key]; len(spans) > 0 {
				return spans[len(spans)-1]
			}
		}
	}
	return ""
}

// intentRules maps keyword patterns to intents, evaluated in order.
// First match wins; factual_lookup is the default.
var intentRules = []struct {
	re     *regexp.Regexp
	intent Intent
}{
	{regexp.MustCompile(`(?i)^\s*(?:hi|hey|hello|good\s+(?:morning|afternoon|evening)|thanks|thank you|how are you)\b`), IntentSmalltalk},
	{regexp.MustCompile(`(?i)\b(?:compare|versus|vs\.?|difference between|better than)\b`), IntentComparison},
	{regexp.MustCompile(`(?i)\b(?:trend|over time|growth|since|year over year|yoy|historically)\b`), IntentTemporalAnalysis},
	{regexp.MustCompile(`(?i)\b(?:why|cause[sd]?|reason|because of|due to|what led to)\b`), IntentCausalAnalysis},
	{regexp.MustCompile(`(?i)\b(?:how (?:do|can|should) (?:i|we)|how to|steps to|walk me through|procedure)\b`), IntentProcedural},
	{regexp.MustCompile(`(?i)\b(?:what do you mean|clarify|didn't (?:understand|follow)|can you explain that)\b`), IntentClarification},
	{regexp.MustCompile(`(?i)\b(?:tell me more|elaborate|more detail|expand on|go deeper)\b`), IntentElaboration},
	{regexp.MustCompile(`(?i)\b(?:total|sum|average|combined|overall|across all|in aggregate)\b`), IntentAggregation},
}

// ClassifyIntent assigns an intent using keyword rules. hasHistory biases
// short elliptical queries toward follow_up, which only exists relative to
// prior turns.
func ClassifyIntent(text string, hasHistory bool) Intent {
	for _, rule := range intentRules {
		if rule.re.MatchString(text) {
			return rule.intent
		}
	}
	if hasHistory && (ellipticalLeadRe.MatchString(text) || deicticRe.MatchString(text)) {
		return IntentFollowUp
	}
	return IntentFactualLookup
}

// BuildFilters derives retrieval filters from extracted entities. Currently
// only a time_range filter from fiscal periods and dates.
func BuildFilters(entities map[string][]string) map[string]string {
	if entities == nil {
		return nil
	}
	filters := make(map[string]string)
	if periods := entities[EntityPeriod]; len(periods) > 0 {
		filters["time_range"] = strings.ToUpper(periods[len(periods)-1])
	} else if dates := entities[EntityDate]; len(dates) > 0 {
		filters["time_range"] = dates[len(dates)-1]
	}
	if len(filters) == 0 {
		return nil
	}
	return filters
}
