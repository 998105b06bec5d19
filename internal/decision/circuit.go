package decision

import (
	"errors"
	"sync"
	"time"
)

// ErrBreakerOpen is returned by Allow while the breaker is rejecting calls.
var ErrBreakerOpen = errors.New("decision: scoring breaker open")

// breakerState is the classic three-state circuit breaker state.
type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case breakerClosed:
		return "closed"
	case breakerOpen:
		return "open"
	case breakerHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// BreakerConfig tunes the scoring circuit breaker.
type BreakerConfig struct {
	FailureThreshold int           // consecutive failures before opening
	SuccessThreshold int           // half-open successes needed to close
	Cooldown         time.Duration // open duration before probing
}

// Breaker protects the generative scoring service. When open, the engine
// skips straight to heuristic-only scoring instead of queueing doomed calls.
//
// Safe for concurrent use.
type Breaker struct {
	mu          sync.Mutex
	state       breakerState
	failures    int
	successes   int
	lastFailure time.Time
	cfg         BreakerConfig
}

// NewBreaker creates a Breaker, applying defaults for zero config values.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &Breaker{cfg: cfg}
}

// Allow reports whether a call may proceed. An open breaker transitions to
// half-open after the cooldown so a probe call can test recovery.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == breakerOpen {
		if time.Since(b.lastFailure) <= b.cfg.Cooldown {
			return ErrBreakerOpen
		}
		b.state = breakerHalfOpen
		b.successes = 0
	}
	return nil
}

// Success records a successful scoring call.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerHalfOpen:
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.state = breakerClosed
			b.failures = 0
			b.successes = 0
		}
	case breakerClosed:
		b.failures = 0
	}
}

// Failure records a failed scoring call. A failure during half-open reopens
// immediately.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = time.Now()

	switch b.state {
	case breakerClosed:
		if b.failures >= b.cfg.FailureThreshold {
			b.state = breakerOpen
		}
	case breakerHalfOpen:
		b.state = breakerOpen
		b.successes = 0
	}
}

// State returns the current state name for telemetry.
func (b *Breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.String()
}
