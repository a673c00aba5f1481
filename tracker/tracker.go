package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/soundpipe/soundpipe"
	"github.com/soundpipe/soundpipe/backoff"
	"github.com/soundpipe/soundpipe/hook"
	"github.com/soundpipe/soundpipe/id"
	"github.com/soundpipe/soundpipe/job"
)

// Tracker is the sole mutator of the job record store. It applies item
// state transitions, recomputes the aggregate job status after each one,
// and notifies lifecycle hooks. All transitions are serialized under a
// single mutex, so readers always observe a consistent job snapshot.
type Tracker struct {
	mu     sync.Mutex
	store  job.RecordStore
	policy backoff.Policy
	hooks  *hook.Registry
	logger *slog.Logger

	clock     func() time.Time
	retention time.Duration

	// released is invoked with the number of admission slots freed by a
	// transition. Slots are held from admission until the item settles,
	// so this is the one place queue capacity is returned.
	released func(n int)

	// dropQueued removes a job's queued entries during cancellation or
	// internal escalation.
	dropQueued func(jobID id.JobID) int
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides the time source, for tests.
func WithClock(fn func() time.Time) Option {
	return func(t *Tracker) { t.clock = fn }
}

// WithReleaseFunc sets the callback invoked when admission slots free up.
func WithReleaseFunc(fn func(n int)) Option {
	return func(t *Tracker) { t.released = fn }
}

// WithDropFunc sets the callback that removes a job's queued entries.
func WithDropFunc(fn func(jobID id.JobID) int) Option {
	return func(t *Tracker) { t.dropQueued = fn }
}

// WithRetention sets the default retention for terminal jobs.
func WithRetention(d time.Duration) Option {
	return func(t *Tracker) { t.retention = d }
}

// New creates a Tracker backed by the given record store.
func New(store job.RecordStore, policy backoff.Policy, hooks *hook.Registry, logger *slog.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		store:      store,
		policy:     policy,
		hooks:      hooks,
		logger:     logger,
		clock:      func() time.Time { return time.Now().UTC() },
		retention:  24 * time.Hour,
		released:   func(int) {},
		dropQueued: func(id.JobID) int { return 0 },
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// CreateJob persists a newly admitted job and emits JobSubmitted.
func (t *Tracker) CreateJob(ctx context.Context, j *job.Job) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.store.CreateJob(ctx, j); err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	t.hooks.EmitJobSubmitted(ctx, j.Clone())
	return nil
}

// Restore persists a rehydrated job without emitting JobSubmitted.
// Used when reloading active jobs from a persistence adapter at startup.
func (t *Tracker) Restore(ctx context.Context, j *job.Job) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.store.CreateJob(ctx, j)
}

// Job returns a snapshot of the job record.
func (t *Tracker) Job(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.store.GetJob(ctx, jobID)
}

// Item returns a snapshot of a single item.
func (t *Tracker) Item(ctx context.Context, jobID id.JobID, itemID id.ItemID) (*job.Item, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	j, err := t.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	it := j.Item(itemID)
	if it == nil {
		return nil, soundpipe.ErrItemNotFound
	}
	return it, nil
}

// List returns job snapshots matching the given options.
func (t *Tracker) List(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.store.ListJobs(ctx, opts)
}

// Results returns the per-item outcomes of a job in item index order.
func (t *Tracker) Results(ctx context.Context, jobID id.JobID) ([]job.ItemResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	j, err := t.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	out := make([]job.ItemResult, len(j.Items))
	for i, it := range j.Items {
		out[i] = job.ItemResult{
			ItemID: it.ID,
			Index:  it.Index,
			Status: it.Status,
			Result: it.Result,
			Error:  it.LastError,
		}
	}
	return out, nil
}

// Lease transitions an item to Running for a new attempt and returns the
// task describing the work. Fails with ErrJobTerminal when the job has
// settled (for example a cancellation that raced the dispatcher).
func (t *Tracker) Lease(ctx context.Context, jobID id.JobID, itemID id.ItemID) (job.Task, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	j, err := t.store.GetJob(ctx, jobID)
	if err != nil {
		return job.Task{}, err
	}
	if j.Status.Terminal() {
		return job.Task{}, soundpipe.ErrJobTerminal
	}
	it := j.Item(itemID)
	if it == nil {
		return job.Task{}, soundpipe.ErrItemNotFound
	}
	if it.Status != job.ItemPending && it.Status != job.ItemRetrying {
		return job.Task{}, fmt.Errorf("%w: lease %s item", soundpipe.ErrInvalidState, it.Status)
	}

	now := t.clock()
	it.Status = job.ItemRunning
	it.Attempt++
	it.StartedAt = &now
	j.Status = j.Aggregate()
	j.Touch(now)

	if err := t.store.UpdateJob(ctx, j); err != nil {
		return job.Task{}, fmt.Errorf("lease item: %w", err)
	}

	t.hooks.EmitItemStarted(ctx, j.Clone(), cloneItem(it))

	return job.Task{
		JobID:    j.ID,
		ItemID:   it.ID,
		Kind:     j.Kind,
		Index:    it.Index,
		Attempt:  it.Attempt,
		Priority: j.Priority,
		Payload:  it.Payload,
		Config:   j.Config,
		Timeout:  j.Timeout,
	}, nil
}

// RecordOutcome applies the result of a finished attempt. attempt must
// match the lease that produced it, or the outcome is rejected as stale.
//
// On success the item settles as Succeeded. On failure the retry policy
// decides: a Retry decision leaves the item in Retrying (the caller
// re-queues it behind decision.Delay and the admission slot stays held),
// anything else settles the item as Failed and frees its slot. An
// internal-class failure escalates to the whole job: every item not yet
// started is aborted.
func (t *Tracker) RecordOutcome(ctx context.Context, jobID id.JobID, itemID id.ItemID, attempt int, result []byte, procErr error) (backoff.Decision, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	j, err := t.store.GetJob(ctx, jobID)
	if err != nil {
		return backoff.Decision{}, err
	}
	it := j.Item(itemID)
	if it == nil {
		return backoff.Decision{}, soundpipe.ErrItemNotFound
	}
	if it.Status != job.ItemRunning {
		return backoff.Decision{}, fmt.Errorf("%w: outcome for %s item", soundpipe.ErrInvalidState, it.Status)
	}
	if it.Attempt != attempt {
		return backoff.Decision{}, fmt.Errorf("%w: got attempt %d, current %d", soundpipe.ErrStaleAttempt, attempt, it.Attempt)
	}

	now := t.clock()

	if procErr == nil {
		it.Status = job.ItemSucceeded
		it.Result = result
		it.LastError = nil
		it.FinishedAt = &now
		finished := t.settle(ctx, j, it, now, 1)
		t.hooks.EmitItemSucceeded(ctx, j.Clone(), cloneItem(it), elapsedSince(it, now))
		t.finishIfSettled(ctx, j, finished)
		return backoff.Decision{}, nil
	}

	class := soundpipe.Classify(procErr)
	if class == soundpipe.ClassInternal && j.Status != job.StatusCancelled {
		return backoff.Decision{}, t.escalateInternal(ctx, j, it, procErr, now)
	}

	maxAttempts := t.policy.MaxAttempts
	if j.MaxAttempts > 0 {
		maxAttempts = j.MaxAttempts
	}
	var decision backoff.Decision
	if j.Status != job.StatusCancelled {
		// A failing outcome on a cancelled job never retries; the item
		// settles with whatever classification it produced.
		policy := t.policy
		policy.MaxAttempts = maxAttempts
		decision = policy.Decide(it.Attempt, class, now.Sub(j.CreatedAt))
	}

	if decision.Retry {
		it.Status = job.ItemRetrying
		it.LastError = soundpipe.NewFailure(procErr)
		it.NextAttemptAt = now.Add(decision.Delay)
		j.Status = j.Aggregate()
		j.Touch(now)
		if err := t.store.UpdateJob(ctx, j); err != nil {
			return backoff.Decision{}, fmt.Errorf("record retry: %w", err)
		}
		t.hooks.EmitItemRetrying(ctx, j.Clone(), cloneItem(it), attempt, it.NextAttemptAt)
		t.logger.Info("item scheduled for retry",
			slog.String("job_id", j.ID.String()),
			slog.String("item_id", it.ID.String()),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", maxAttempts),
			slog.Duration("delay", decision.Delay),
		)
		return decision, nil
	}

	// Terminal failure: explicit terminal class, cancellation, or an
	// exhausted retry budget.
	it.Status = job.ItemFailed
	it.LastError = soundpipe.NewFailure(procErr)
	it.FinishedAt = &now
	finished := t.settle(ctx, j, it, now, 1)

	if decision.Exhausted {
		t.logger.Warn("item failed: attempts exhausted",
			slog.String("job_id", j.ID.String()),
			slog.String("item_id", it.ID.String()),
			slog.Int("attempts", attempt),
			slog.String("reason", fmt.Sprintf("%v: %v", soundpipe.ErrAttemptsExhausted, procErr)),
		)
	} else {
		t.logger.Warn("item failed terminally",
			slog.String("job_id", j.ID.String()),
			slog.String("item_id", it.ID.String()),
			slog.String("class", string(class)),
			slog.String("error", procErr.Error()),
		)
	}

	t.hooks.EmitItemFailed(ctx, j.Clone(), cloneItem(it), it.LastError)
	t.finishIfSettled(ctx, j, finished)
	return decision, nil
}

// CancelJob settles a job as Cancelled. Items not yet started fail with a
// cancelled classification and their queued entries are dropped; items
// already running finish cooperatively and report their outcomes as usual.
func (t *Tracker) CancelJob(ctx context.Context, jobID id.JobID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	j, err := t.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if j.Status.Terminal() {
		return soundpipe.ErrJobTerminal
	}

	now := t.clock()
	j.Status = job.StatusCancelled
	j.CompletedAt = &now
	j.Touch(now)

	cancelled := &soundpipe.Failure{Class: soundpipe.ClassCancelled, Message: "job cancelled"}
	settled := 0
	running := 0
	for _, it := range j.Items {
		switch it.Status {
		case job.ItemPending, job.ItemRetrying:
			it.Status = job.ItemFailed
			it.LastError = cancelled
			it.FinishedAt = &now
			settled++
		case job.ItemRunning:
			running++
		}
	}

	t.dropQueued(jobID)

	if err := t.store.UpdateJob(ctx, j); err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}
	if settled > 0 {
		t.released(settled)
	}

	t.logger.Info("job cancelled",
		slog.String("job_id", j.ID.String()),
		slog.Int("aborted_items", settled),
		slog.Int("running_items", running),
	)

	// With nothing running the job is fully settled now; otherwise the
	// last running item's outcome emits JobFinished.
	if running == 0 {
		t.hooks.EmitJobFinished(ctx, j.Clone())
	}
	return nil
}

// PurgeExpired removes terminal jobs whose retention has elapsed.
func (t *Tracker) PurgeExpired(ctx context.Context) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.store.PurgeTerminal(ctx, t.clock(), t.retention)
}

// escalateInternal settles the failed item and aborts every item that has
// not started yet. The engine cannot trust its own bookkeeping for this
// job anymore, so nothing further is dispatched for it.
func (t *Tracker) escalateInternal(ctx context.Context, j *job.Job, it *job.Item, procErr error, now time.Time) error {
	internal := &soundpipe.Failure{Class: soundpipe.ClassInternal, Message: procErr.Error()}
	aborted := &soundpipe.Failure{Class: soundpipe.ClassInternal, Message: "aborted: internal engine fault in sibling item"}

	it.Status = job.ItemFailed
	it.LastError = internal
	it.FinishedAt = &now

	freed := 1
	for _, sibling := range j.Items {
		if sibling.Status == job.ItemPending || sibling.Status == job.ItemRetrying {
			sibling.Status = job.ItemFailed
			sibling.LastError = aborted
			sibling.FinishedAt = &now
			freed++
		}
	}

	t.dropQueued(j.ID)
	finished := t.settle(ctx, j, it, now, freed)

	t.logger.Error("internal fault escalated to job-wide failure",
		slog.String("job_id", j.ID.String()),
		slog.String("item_id", it.ID.String()),
		slog.String("error", procErr.Error()),
	)

	t.hooks.EmitItemFailed(ctx, j.Clone(), cloneItem(it), internal)
	t.finishIfSettled(ctx, j, finished)
	return nil
}

// settle persists a terminal item transition, recomputes the aggregate
// status, and frees the admission slots held by the settled items.
// Returns true when this settle moved the job into a terminal status.
func (t *Tracker) settle(ctx context.Context, j *job.Job, it *job.Item, now time.Time, freed int) bool {
	wasTerminal := j.Status.Terminal()
	j.Status = j.Aggregate()
	finished := j.Status.Terminal() && !wasTerminal
	if finished {
		j.CompletedAt = &now
	}
	j.Touch(now)

	if err := t.store.UpdateJob(ctx, j); err != nil {
		// The slot is still freed below: capacity accounting must not
		// deadlock on a store fault.
		t.logger.Error("record store update failed",
			slog.String("job_id", j.ID.String()),
			slog.String("item_id", it.ID.String()),
			slog.String("error", err.Error()),
		)
	}
	if freed > 0 {
		t.released(freed)
	}
	return finished
}

// finishIfSettled emits JobFinished exactly once, when the settle that
// just happened left the job terminal with nothing still running.
func (t *Tracker) finishIfSettled(ctx context.Context, j *job.Job, finished bool) {
	if j.Status == job.StatusCancelled {
		// CancelJob set CompletedAt; the terminal event fires when the
		// last cooperative item reports in.
		for _, it := range j.Items {
			if it.Status == job.ItemRunning {
				return
			}
		}
		t.hooks.EmitJobFinished(ctx, j.Clone())
		return
	}
	if !finished {
		return
	}
	t.logger.Info("job finished",
		slog.String("job_id", j.ID.String()),
		slog.String("status", string(j.Status)),
	)
	t.hooks.EmitJobFinished(ctx, j.Clone())
}

func cloneItem(it *job.Item) *job.Item {
	cp := *it
	if it.LastError != nil {
		fe := *it.LastError
		cp.LastError = &fe
	}
	return &cp
}

func elapsedSince(it *job.Item, now time.Time) time.Duration {
	if it.StartedAt == nil {
		return 0
	}
	return now.Sub(*it.StartedAt)
}
