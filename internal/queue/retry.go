package queue

import (
	"time"

	"github.com/spec-kit/issue-bridge/internal/domain"
)

// RetryPolicy decides what a failed attempt turns into.
type RetryPolicy struct {
	Base time.Duration
	Cap  time.Duration
}

// NewRetryPolicy returns a policy with sane floors for zero values.
func NewRetryPolicy(base, maxDelay time.Duration) RetryPolicy {
	if base <= 0 {
		base = 30 * time.Second
	}
	if maxDelay < base {
		maxDelay = base
	}
	return RetryPolicy{Base: base, Cap: maxDelay}
}

// Delay returns base * 2^attempt capped at Cap.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := p.Base
	for i := 0; i < attempt; i++ {
		if delay >= p.Cap/2 {
			return p.Cap
		}
		delay *= 2
	}
	if delay > p.Cap {
		return p.Cap
	}
	return delay
}

// Next computes the state after one more failed attempt. attemptCount is the count before
// this failure.
func (p RetryPolicy) Next(attemptCount, maxAttempts int, forceDeadLetter bool, now time.Time) domain.QueueFailure {
	attempts := attemptCount + 1
	if forceDeadLetter || attempts >= maxAttempts {
		return domain.QueueFailure{
			Status:        domain.QueueStatusDeadLettered,
			AttemptCount:  attempts,
			NextAttemptAt: now,
		}
	}
	return domain.QueueFailure{
		Status:        domain.QueueStatusPending,
		AttemptCount:  attempts,
		NextAttemptAt: now.Add(p.Delay(attempts)),
	}
}
