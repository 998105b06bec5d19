package persona

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func validSpec() *Spec {
	return &Spec{
		TwinID:  "twin-1",
		Version: "v3",
		Identity: IdentityFrame{
			Role:             "startup advisor",
			ExpertiseDomains: []string{"fundraising", "product"},
			ReasoningStyle:   "first-principles",
		},
		Heuristics: []Heuristic{
			{Name: "market-first", Rule: "assess market size before team", Modes: []string{"evaluation"}},
			{Name: "cite-numbers", Rule: "claims about metrics need evidence", VerificationRequired: true},
		},
		Values: ValueHierarchy{
			Values: []Value{
				{Name: "honesty", Weight: 5},
				{Name: "growth", Weight: 3},
				{Name: "caution", Weight: 3},
			},
			TieBreakOrder: []string{"caution", "growth"},
		},
		Dimensions: []Dimension{
			{Name: "market", Description: "market opportunity", ValueRef: "growth"},
			{Name: "team", Description: "founding team strength", ValueRef: "honesty"},
			{Name: "risk", Description: "downside exposure", ValueRef: "caution"},
		},
	}
}

func TestSpec_Validate(t *testing.T) {
	if err := validSpec().Validate(); err != nil {
		t.Fatalf("valid spec rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Spec)
	}{
		{"missing version", func(s *Spec) { s.Version = "" }},
		{"no dimensions", func(s *Spec) { s.Dimensions = nil }},
		{"empty values", func(s *Spec) { s.Values.Values = nil }},
		{"non-positive weight", func(s *Spec) { s.Values.Values[0].Weight = 0 }},
		{"dangling value ref", func(s *Spec) { s.Dimensions[0].ValueRef = "nonexistent" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validSpec()
			tt.mutate(s)
			if err := s.Validate(); !errors.Is(err, ErrInvalidSpec) {
				t.Errorf("Validate() = %v, want ErrInvalidSpec", err)
			}
		})
	}
}

func TestSpec_FlattenedLegacySpecIsValid(t *testing.T) {
	s := &Spec{TwinID: "twin-legacy", Version: "v1", Flattened: "A gruff but fair engineering mentor."}
	if !s.IsFlattened() {
		t.Error("IsFlattened should be true")
	}
	if err := s.Validate(); err != nil {
		t.Errorf("flattened legacy spec rejected: %v", err)
	}
}

func TestValueHierarchy_Prioritized(t *testing.T) {
	h := validSpec().Values

	// growth and caution tie at 3; tie-break order puts caution first.
	want := []string{"honesty", "caution", "growth"}
	if diff := cmp.Diff(want, h.Prioritized()); diff != "" {
		t.Errorf("Prioritized mismatch (-want +got):\n%s", diff)
	}

	// Deterministic across repeated calls.
	for i := 0; i < 5; i++ {
		if diff := cmp.Diff(want, h.Prioritized()); diff != "" {
			t.Fatalf("run %d diverged:\n%s", i, diff)
		}
	}
}

func TestValueHierarchy_WeightFor(t *testing.T) {
	h := validSpec().Values
	if got := h.WeightFor("honesty"); got != 5 {
		t.Errorf("WeightFor(honesty) = %v, want 5", got)
	}
	if got := h.WeightFor("unknown"); got != 0 {
		t.Errorf("WeightFor(unknown) = %v, want 0", got)
	}
}

func TestStaticStore_Get(t *testing.T) {
	store := NewStaticStore(validSpec())

	got, err := store.Get(context.Background(), "twin-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Version != "v3" {
		t.Errorf("Version = %q", got.Version)
	}

	if _, err := store.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) = %v, want ErrNotFound", err)
	}
}
