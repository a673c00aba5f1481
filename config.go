package soundpipe

import "time"

// Config holds engine-wide configuration.
type Config struct {
	// Workers is the number of worker goroutines executing items.
	Workers int

	// GlobalInFlight is the maximum number of items running
	// simultaneously across all jobs. Zero means equal to Workers.
	GlobalInFlight int

	// QueueCapacity is the admission queue capacity, counted in items
	// (a batch job with a thousand items consumes a thousand slots).
	QueueCapacity int

	// BlockOnFull selects the backpressure policy. When false, Submit
	// fails immediately with ErrQueueFull; when true, Submit blocks up
	// to SubmitTimeout waiting for capacity.
	BlockOnFull bool

	// SubmitTimeout bounds a blocking Submit. Zero means block until
	// the caller's context is done.
	SubmitTimeout time.Duration

	// MaxAttempts is the default retry budget per item. Individual jobs
	// may override it at submission.
	MaxAttempts int

	// ItemTimeout is the default per-attempt execution deadline.
	// Zero means unlimited.
	ItemTimeout time.Duration

	// PerJobInFlight is the default per-job concurrency cap, limiting
	// how many items of one batch run at once. Zero means no per-job cap.
	PerJobInFlight int

	// Retention is how long terminal jobs are kept before the janitor
	// purges them from the record store.
	Retention time.Duration

	// JanitorSchedule is a cron expression controlling retention sweeps.
	JanitorSchedule string

	// ShutdownTimeout is the maximum time to wait for running items
	// during graceful shutdown.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Workers:         10,
		QueueCapacity:   10_000,
		MaxAttempts:     3,
		ItemTimeout:     5 * time.Minute,
		Retention:       24 * time.Hour,
		JanitorSchedule: "@every 1m",
		ShutdownTimeout: 30 * time.Second,
	}
}
