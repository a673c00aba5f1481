package job

import "time"

// SubmitOptions configures per-job behavior such as priority, retry
// budget, and concurrency.
type SubmitOptions struct {
	// Priority determines dispatch ordering. Higher tiers are dispatched
	// first; within a tier, admission order is strict FIFO.
	Priority int

	// MaxAttempts is the per-item retry budget. Zero means the engine
	// default.
	MaxAttempts int

	// Timeout is the per-attempt execution deadline. Zero means the
	// engine default.
	Timeout time.Duration

	// InFlightLimit caps how many of this job's items run simultaneously,
	// preventing one large batch from starving others. Zero means the
	// engine default.
	InFlightLimit int

	// Retention overrides how long the record is kept after the job
	// settles. Zero means the engine default.
	Retention time.Duration
}

// SubmitOption is a functional option for configuring a submission.
type SubmitOption func(*SubmitOptions)

// WithPriority sets the priority tier. Higher values are dispatched first.
func WithPriority(p int) SubmitOption {
	return func(o *SubmitOptions) { o.Priority = p }
}

// WithMaxAttempts sets the per-item retry budget.
func WithMaxAttempts(n int) SubmitOption {
	return func(o *SubmitOptions) { o.MaxAttempts = n }
}

// WithTimeout sets the per-attempt execution deadline.
func WithTimeout(d time.Duration) SubmitOption {
	return func(o *SubmitOptions) { o.Timeout = d }
}

// WithInFlightLimit caps how many of the job's items run at once.
func WithInFlightLimit(n int) SubmitOption {
	return func(o *SubmitOptions) { o.InFlightLimit = n }
}

// WithRetention overrides the record retention period for this job.
func WithRetention(d time.Duration) SubmitOption {
	return func(o *SubmitOptions) { o.Retention = d }
}
