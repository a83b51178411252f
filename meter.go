package musicgen

import "time"

// Meter observes generation events for monitoring/logging.
type Meter interface {
	// OnAttempt is called before each generator call.
	OnAttempt(event AttemptEvent)

	// OnResult is called when a generator call finishes.
	OnResult(event ResultEvent)
}

// AttemptEvent describes a generator call about to be made.
type AttemptEvent struct {
	Generator string
	UserID    string
	RequestID string
	Attempt   int
	Quality   Quality
}

// ResultEvent describes the outcome of a generator call.
type ResultEvent struct {
	Generator string
	UserID    string
	RequestID string
	Attempt   int
	Success   bool
	Kind      ErrorKind
	Retry     bool
	Delay     time.Duration // backoff before the next attempt
	Duration  time.Duration
	TaskID    string
	Error     error
}
