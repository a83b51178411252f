package musicgen

import (
	"context"
	"time"
)

// Action is the outcome of a retry decision.
type Action struct {
	Retry bool
	Delay time.Duration
}

// GiveUp is the action that stops retrying.
var GiveUp = Action{}

// RetryPolicy decides whether a failed generator call is attempted again.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryPolicy returns the policy with 3 attempts and a 2s linear backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 2 * time.Second}
}

// NewRetryPolicy builds the policy described by cfg.
func NewRetryPolicy(cfg Config) RetryPolicy {
	return RetryPolicy{MaxAttempts: cfg.MaxAttempts, BaseDelay: cfg.BaseDelay}
}

// Next returns the action after attempt (1-based) failed with kind.
// Non-retryable kinds give up immediately; retryable kinds back off
// BaseDelay*attempt until MaxAttempts is reached.
func (p RetryPolicy) Next(kind ErrorKind, attempt int) Action {
	if !kind.Retryable() {
		return GiveUp
	}
	if attempt >= p.MaxAttempts {
		return GiveUp
	}
	return Action{Retry: true, Delay: p.BaseDelay * time.Duration(attempt)}
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
