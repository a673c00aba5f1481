package backoff

import (
	"time"

	"github.com/soundpipe/soundpipe"
)

// Decision is the outcome of a retry policy evaluation.
type Decision struct {
	// Retry is true when the failed attempt should be re-queued.
	Retry bool
	// Delay is how long to wait before the item becomes eligible again.
	// Meaningful only when Retry is true.
	Delay time.Duration
	// Exhausted is true when a recoverable failure was settled as
	// terminal because the retry budget ran out. Behaviorally identical
	// to a terminal classification from the caller's view, but
	// distinguishable in logs.
	Exhausted bool
}

// Policy is the pure decision function for failure recovery. Given the
// attempt count, the failure classification, and the elapsed time since
// job submission, it returns either a retry-after decision or terminal.
type Policy struct {
	// MaxAttempts is the total execution budget per item. Once an item
	// has run MaxAttempts times, any further failure is terminal
	// regardless of classification.
	MaxAttempts int

	// Strategy computes the delay before each retry.
	Strategy Strategy

	// MaxElapsed, when non-zero, settles failures as terminal once the
	// job has been in flight longer than this duration.
	MaxElapsed time.Duration
}

// DefaultPolicy returns the engine default: three attempts with
// full-jitter exponential backoff (1s base, 1m cap).
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		Strategy:    DefaultStrategy(),
	}
}

// Decide evaluates a failed attempt. attempt is the 1-based count of
// executions so far, class the failure classification reported by the
// worker, and elapsed the time since the job was submitted.
//
// Terminal and cancelled classifications short-circuit: no retry budget
// is consumed and no delay computed.
func (p Policy) Decide(attempt int, class soundpipe.Class, elapsed time.Duration) Decision {
	switch class {
	case soundpipe.ClassTerminal, soundpipe.ClassCancelled, soundpipe.ClassInternal:
		return Decision{}
	}

	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		return Decision{Exhausted: true}
	}
	if p.MaxElapsed > 0 && elapsed >= p.MaxElapsed {
		return Decision{Exhausted: true}
	}

	strategy := p.Strategy
	if strategy == nil {
		strategy = DefaultStrategy()
	}
	return Decision{Retry: true, Delay: strategy.Delay(attempt)}
}
