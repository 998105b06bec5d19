// Package persona defines the five-layer persona specification that drives
// the decision engine, and its read-only store.
//
// A persona spec is versioned configuration owned by an external
// persona-management service. Heuristics, values, and dimensions are data,
// not code: the scoring logic stays static and auditable while persona
// content varies per twin.
package persona

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates no persona spec exists for the twin. Fatal for
	// the turn; there is no sensible default persona to substitute.
	ErrNotFound = errors.New("persona: spec not found")

	// ErrInvalidSpec indicates a stored spec failed validation.
	ErrInvalidSpec = errors.New("persona: invalid spec")
)

// IdentityFrame is layer 1: who the twin is.
type IdentityFrame struct {
	Role             string   `json:"role"`
	ExpertiseDomains []string `json:"expertise_domains"`
	ReasoningStyle   string   `json:"reasoning_style"`
}

// Heuristic is one named reasoning rule in layer 2. Heuristics apply only
// in the evaluation modes listed; VerificationRequired marks rules whose
// conclusions must cite evidence.
type Heuristic struct {
	Name                 string   `json:"name"`
	Rule                 string   `json:"rule"`
	Modes                []string `json:"modes,omitempty"`
	VerificationRequired bool     `json:"verification_required"`
}

// Value is one ranked entry in layer 3's value hierarchy.
type Value struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"` // priority weight, > 0
}

// ValueHierarchy is layer 3: ranked values with explicit tie-breaking.
type ValueHierarchy struct {
	// Values ordered highest priority first.
	Values []Value `json:"values"`

	// TieBreakOrder lists value names; when two values carry equal weight
	// the one appearing earlier here wins. Conflicts are resolved by this
	// configuration, never left to model discretion.
	TieBreakOrder []string `json:"tie_break_order,omitempty"`
}

// WeightFor returns the weight of the named value, or 0 when absent.
func (h ValueHierarchy) WeightFor(name string) float64 {
	for _, v := range h.Values {
		if v.Name == name {
			return v.Weight
		}
	}
	return 0
}

// Prioritized returns value names ordered by weight descending, ties broken
// by TieBreakOrder, then by original order. Deterministic for a fixed spec.
func (h ValueHierarchy) Prioritized() []string {
	type entry struct {
		name   string
		weight float64
		tie    int
		orig   int
	}
	tieRank := func(name string) int {
		for i, n := range h.TieBreakOrder {
			if n == name {
				return i
			}
		}
		return len(h.TieBreakOrder)
	}
	entries := make([]entry, len(h.Values))
	for i, v := range h.Values {
		entries[i] = entry{name: v.Name, weight: v.Weight, tie: tieRank(v.Name), orig: i}
	}
	// Insertion sort keeps this dependency-free and stable for tiny n.
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0; j-- {
			a, b := entries[j-1], entries[j]
			swap := false
			switch {
			case b.weight > a.weight:
				swap = true
			case b.weight == a.weight && b.tie < a.tie:
				swap = true
			case b.weight == a.weight && b.tie == a.tie && b.orig < a.orig:
				swap = true
			}
			if !swap {
				break
			}
			entries[j-1], entries[j] = b, a
		}
	}
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.name
	}
	return out
}

// CommunicationPattern is layer 4: how the twin speaks. Consumed by the
// downstream response synthesizer; carried here because it versions with
// the rest of the spec.
type CommunicationPattern struct {
	Tone              string   `json:"tone"`
	PhraseTemplates   []string `json:"phrase_templates,omitempty"`
	ForbiddenPatterns []string `json:"forbidden_patterns,omitempty"`
}

// MemoryAnchor is one tagged snippet of prior experience in layer 5.
type MemoryAnchor struct {
	Tag  string `json:"tag"`
	Text string `json:"text"`
}

// Dimension names one scored axis for evaluation-mode queries. ValueRef
// links the dimension to the value whose hierarchy weight applies during
// aggregation.
type Dimension struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	ValueRef    string `json:"value_ref"`
}

// Spec is the full five-layer persona specification for one twin.
// Read-only after load.
type Spec struct {
	TwinID  string `json:"twin_id"`
	Version string `json:"version"`

	Identity      IdentityFrame        `json:"identity"`
	Heuristics    []Heuristic          `json:"heuristics"`
	Values        ValueHierarchy       `json:"values"`
	Communication CommunicationPattern `json:"communication"`
	Anchors       []MemoryAnchor       `json:"anchors,omitempty"`

	// Dimensions scored in evaluation mode, typically five.
	Dimensions []Dimension `json:"dimensions"`

	// Flattened holds the legacy free-text persona description. Only
	// consulted when the engine's flattened-fallback flag is on and the
	// structured layers are absent.
	Flattened string `json:"flattened,omitempty"`
}

// IsFlattened reports whether this spec carries only the legacy free-text
// description.
func (s *Spec) IsFlattened() bool {
	return s.Flattened != "" && len(s.Dimensions) == 0
}

// Validate checks structural invariants of a loaded spec.
func (s *Spec) Validate() error {
	if s.TwinID == "" {
		return fmt.Errorf("%w: missing twin_id", ErrInvalidSpec)
	}
	if s.Version == "" {
		return fmt.Errorf("%w: missing version", ErrInvalidSpec)
	}
	if s.IsFlattened() {
		return nil
	}
	if len(s.Dimensions) == 0 {
		return fmt.Errorf("%w: no dimensions", ErrInvalidSpec)
	}
	if len(s.Values.Values) == 0 {
		return fmt.Errorf("%w: empty value hierarchy", ErrInvalidSpec)
	}
	for _, v := range s.Values.Values {
		if v.Weight <= 0 {
			return fmt.Errorf("%w: value %q has non-positive weight", ErrInvalidSpec, v.Name)
		}
	}
	for _, d := range s.Dimensions {
		if d.Name == "" {
			return fmt.Errorf("%w: unnamed dimension", ErrInvalidSpec)
		}
		if d.ValueRef != "" && s.Values.WeightFor(d.ValueRef) == 0 {
			return fmt.Errorf("%w: dimension %q references unknown value %q", ErrInvalidSpec, d.Name, d.ValueRef)
		}
	}
	return nil
}
