// Package worker provides the item execution engine — an Executor that
// invokes registered processing functions through middleware, and a Pool
// that manages the concurrent worker goroutines executing leased tasks.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/soundpipe/soundpipe"
	"github.com/soundpipe/soundpipe/job"
	"github.com/soundpipe/soundpipe/middleware"
	"github.com/soundpipe/soundpipe/queue"
	"github.com/soundpipe/soundpipe/tracker"
)

// Executor runs a single leased task through middleware and the registered
// processing function, then reports the outcome to the status tracker and
// requeues the item when the retry policy grants another attempt.
type Executor struct {
	registry *job.Registry
	tracker  *tracker.Tracker
	queue    *queue.Queue
	mw       middleware.Middleware
	logger   *slog.Logger
	clock    func() time.Time
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(
	registry *job.Registry,
	trk *tracker.Tracker,
	q *queue.Queue,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	return &Executor{
		registry: registry,
		tracker:  trk,
		queue:    q,
		mw:       middleware.Chain(mws...),
		logger:   logger,
		clock:    func() time.Time { return time.Now().UTC() },
	}
}

// Execute runs one attempt of a leased task. The outcome — success, failure,
// or a retry decision — is recorded through the tracker exactly once. When
// the tracker grants a retry, the item re-enters the queue behind its
// backoff delay. The returned error reports bookkeeping failures only;
// processing failures are recorded state, not executor errors.
func (e *Executor) Execute(ctx context.Context, task job.Task) error {
	fn, ok := e.registry.Resolve(task.Kind)

	var (
		result  []byte
		procErr error
	)
	if !ok {
		// Kinds are validated at admission, so a missing processing
		// function here is an engine fault, not a caller error.
		procErr = soundpipe.Internalf("no processing function registered for kind %q", task.Kind)
	} else {
		terminal := func(ctx context.Context) error {
			out, err := fn(ctx, task.Payload, task.Config)
			result = out
			return err
		}
		procErr = e.mw(ctx, &task, terminal)
	}

	decision, err := e.tracker.RecordOutcome(ctx, task.JobID, task.ItemID, task.Attempt, result, procErr)
	if err != nil {
		e.logger.Warn("outcome rejected",
			slog.String("job_id", task.JobID.String()),
			slog.String("item_id", task.ItemID.String()),
			slog.Int("attempt", task.Attempt),
			slog.String("error", err.Error()),
		)
		return err
	}

	if decision.Retry {
		e.queue.Requeue(queue.Entry{
			JobID:    task.JobID,
			ItemID:   task.ItemID,
			Index:    task.Index,
			Priority: task.Priority,
		}, e.clock().Add(decision.Delay))
	}

	return nil
}
