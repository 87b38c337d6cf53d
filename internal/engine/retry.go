package engine

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"time"
)

// RetryPolicy controls how retryable collaborator failures are retried.
type RetryPolicy struct {
	// MaxAttempts is the total number of calls, including the first.
	MaxAttempts int
	// BaseDelay is the wait before the first retry.
	BaseDelay time.Duration
	// MaxDelay caps the wait between attempts.
	MaxDelay time.Duration
	// Multiplier grows the delay after each retry.
	Multiplier float64
	// Jitter adds up to this fraction of the delay at random.
	Jitter float64
}

// DefaultRetryPolicy returns 3 attempts with 1s, 2s backoff capped at 30s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		Multiplier:  2,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	if p.Multiplier < 1 {
		p.Multiplier = 1
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	return p
}

// Backoff returns the wait after the given failed attempt (1-indexed).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 || p.BaseDelay <= 0 {
		return 0
	}
	// float64(math.MaxInt64) rounds up to 2^63, one past the largest Duration.
	const ceiling = float64(math.MaxInt64)

	delay := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if delay >= ceiling {
		return time.Duration(math.MaxInt64)
	}
	if p.Jitter > 0 {
		delay += delay * p.Jitter * rand.Float64()
		if delay >= ceiling {
			return time.Duration(math.MaxInt64)
		}
	}
	return time.Duration(delay)
}

// FailurePolicy decides how a failed task affects later tasks.
type FailurePolicy int

const (
	// PolicyContinue runs dependents of a failed task anyway.
	PolicyContinue FailurePolicy = iota
	// PolicySkipDependents fails tasks whose dependencies did not complete,
	// without calling the collaborator.
	PolicySkipDependents
	// PolicyAbortOnPhaseFailure cancels every later task once any task in a
	// phase fails.
	PolicyAbortOnPhaseFailure
)

// String returns the policy's configuration name.
func (p FailurePolicy) String() string {
	switch p {
	case PolicyContinue:
		return "continue"
	case PolicySkipDependents:
		return "skip-dependents"
	case PolicyAbortOnPhaseFailure:
		return "abort-phase"
	default:
		return "unknown"
	}
}

// ParseFailurePolicy parses a policy name as produced by String.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "continue":
		return PolicyContinue, nil
	case "skip-dependents", "skip":
		return PolicySkipDependents, nil
	case "abort-phase", "abort":
		return PolicyAbortOnPhaseFailure, nil
	default:
		return PolicyContinue, fmt.Errorf("unknown failure policy %q", s)
	}
}
