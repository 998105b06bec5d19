package decision

import (
	"errors"
	"testing"
	"time"
)

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 3, Cooldown: time.Hour})

	for i := 0; i < 2; i++ {
		b.Failure()
	}
	if err := b.Allow(); err != nil {
		t.Fatalf("breaker opened early: %v", err)
	}

	b.Failure()
	if err := b.Allow(); !errors.Is(err, ErrBreakerOpen) {
		t.Errorf("Allow() = %v, want ErrBreakerOpen", err)
	}
	if b.State() != "open" {
		t.Errorf("State() = %q, want open", b.State())
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 2, Cooldown: time.Hour})

	b.Failure()
	b.Success()
	b.Failure()
	if err := b.Allow(); err != nil {
		t.Errorf("interleaved success should reset the count: %v", err)
	}
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 1, SuccessThreshold: 2, Cooldown: 10 * time.Millisecond})

	b.Failure()
	if err := b.Allow(); !errors.Is(err, ErrBreakerOpen) {
		t.Fatalf("Allow() = %v, want open", err)
	}

	time.Sleep(20 * time.Millisecond)
	if err := b.Allow(); err != nil {
		t.Fatalf("probe after cooldown should be allowed: %v", err)
	}
	if b.State() != "half-open" {
		t.Fatalf("State() = %q, want half-open", b.State())
	}

	b.Success()
	b.Success()
	if b.State() != "closed" {
		t.Errorf("State() = %q, want closed after recovery", b.State())
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 1, Cooldown: 10 * time.Millisecond})

	b.Failure()
	time.Sleep(20 * time.Millisecond)
	if err := b.Allow(); err != nil {
		t.Fatalf("probe: %v", err)
	}

	b.Failure()
	if err := b.Allow(); !errors.Is(err, ErrBreakerOpen) {
		t.Errorf("Allow() = %v, want reopened", err)
	}
}
