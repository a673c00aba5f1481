// Package hook defines the lifecycle hook system for SoundPipe.
// Hooks are notified of lifecycle events (job submitted, item started,
// item retried, job finished, etc.) and can react to them — persistence,
// event streaming, notifications, metrics.
//
// Each lifecycle event is a separate interface so hooks opt in only to
// the events they care about.
package hook

import (
	"context"
	"time"

	"github.com/soundpipe/soundpipe"
	"github.com/soundpipe/soundpipe/job"
)

// Hook is the base interface all hooks must implement.
type Hook interface {
	// Name returns a unique human-readable name for the hook.
	Name() string
}

// ──────────────────────────────────────────────────
// Job lifecycle
// ──────────────────────────────────────────────────

// JobSubmitted is called after a job is admitted into the queue.
type JobSubmitted interface {
	OnJobSubmitted(ctx context.Context, j *job.Job) error
}

// JobFinished is called once when a job reaches a terminal status.
// The snapshot's Status is one of Completed, PartiallyFailed, Failed
// or Cancelled, and never changes afterwards.
type JobFinished interface {
	OnJobFinished(ctx context.Context, j *job.Job) error
}

// ──────────────────────────────────────────────────
// Item lifecycle
// ──────────────────────────────────────────────────

// ItemStarted is called when a worker begins an item attempt.
type ItemStarted interface {
	OnItemStarted(ctx context.Context, j *job.Job, it *job.Item) error
}

// ItemSucceeded is called after an item attempt succeeds.
type ItemSucceeded interface {
	OnItemSucceeded(ctx context.Context, j *job.Job, it *job.Item, elapsed time.Duration) error
}

// ItemRetrying is called when an item attempt fails recoverably and a
// further attempt is scheduled. attempt is the attempt that just failed.
type ItemRetrying interface {
	OnItemRetrying(ctx context.Context, j *job.Job, it *job.Item, attempt int, nextAttemptAt time.Time) error
}

// ItemFailed is called when an item fails terminally, either because its
// error was classified terminal or because its attempt budget ran out.
type ItemFailed interface {
	OnItemFailed(ctx context.Context, j *job.Job, it *job.Item, failure *soundpipe.Failure) error
}

// ──────────────────────────────────────────────────
// Other lifecycle
// ──────────────────────────────────────────────────

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
