package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/soundpipe/soundpipe"
	"github.com/soundpipe/soundpipe/hook"
	"github.com/soundpipe/soundpipe/id"
	"github.com/soundpipe/soundpipe/job"
)

// Compile-time interface checks.
var (
	_ hook.Hook          = (*Journal)(nil)
	_ hook.JobSubmitted  = (*Journal)(nil)
	_ hook.JobFinished   = (*Journal)(nil)
	_ hook.ItemStarted   = (*Journal)(nil)
	_ hook.ItemSucceeded = (*Journal)(nil)
	_ hook.ItemRetrying  = (*Journal)(nil)
	_ hook.ItemFailed    = (*Journal)(nil)
	_ hook.Shutdown      = (*Journal)(nil)
)

// DefaultJournalBuffer is the default size of the async write queue.
const DefaultJournalBuffer = 1024

// Journal mirrors job records and state transitions into an Adapter. It
// registers as a lifecycle hook and writes asynchronously: a hook call
// enqueues the write and returns, a single goroutine applies them in
// order. A full write queue falls back to a synchronous write rather
// than dropping the record.
type Journal struct {
	adapter Adapter
	logger  *slog.Logger

	writes chan func(context.Context)
	done   chan struct{}
	once   sync.Once
}

// JournalOption configures a Journal.
type JournalOption func(*Journal)

// WithJournalBuffer sets the async write queue size.
func WithJournalBuffer(n int) JournalOption {
	return func(j *Journal) { j.writes = make(chan func(context.Context), n) }
}

// NewJournal creates a journal writing through to the given adapter and
// starts its writer goroutine.
func NewJournal(adapter Adapter, logger *slog.Logger, opts ...JournalOption) *Journal {
	jn := &Journal{
		adapter: adapter,
		logger:  logger,
		writes:  make(chan func(context.Context), DefaultJournalBuffer),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(jn)
	}
	go jn.loop()
	return jn
}

// Name implements hook.Hook.
func (jn *Journal) Name() string { return "store-journal" }

func (jn *Journal) loop() {
	defer close(jn.done)
	for write := range jn.writes {
		write(context.Background())
	}
}

// enqueue hands a write to the background goroutine, applying it inline
// when the queue is full.
func (jn *Journal) enqueue(write func(context.Context)) {
	select {
	case jn.writes <- write:
	default:
		write(context.Background())
	}
}

func (jn *Journal) logWriteError(op string, jobID id.JobID, err error) {
	jn.logger.Error("journal write failed",
		slog.String("op", op),
		slog.String("job_id", jobID.String()),
		slog.String("error", err.Error()),
	)
}

func (jn *Journal) appendTransition(ctx context.Context, tr *Transition) {
	if err := jn.adapter.AppendTransition(ctx, tr); err != nil {
		jn.logWriteError("append_transition", tr.JobID, err)
	}
}

func (jn *Journal) upsertJob(ctx context.Context, j *job.Job) {
	err := jn.adapter.UpdateJob(ctx, j)
	if errors.Is(err, soundpipe.ErrJobNotFound) {
		err = jn.adapter.CreateJob(ctx, j)
	}
	if err != nil {
		jn.logWriteError("upsert_job", j.ID, err)
	}
}

// ── Lifecycle hooks ─────────────────────────────────

func (jn *Journal) OnJobSubmitted(_ context.Context, j *job.Job) error {
	at := time.Now().UTC()
	jn.enqueue(func(ctx context.Context) {
		if err := jn.adapter.CreateJob(ctx, j); err != nil {
			jn.logWriteError("create_job", j.ID, err)
		}
		jn.appendTransition(ctx, &Transition{
			ID:    id.NewEventID(),
			JobID: j.ID,
			Event: "job.submitted",
			At:    at,
		})
	})
	return nil
}

func (jn *Journal) OnJobFinished(_ context.Context, j *job.Job) error {
	at := time.Now().UTC()
	jn.enqueue(func(ctx context.Context) {
		jn.upsertJob(ctx, j)
		jn.appendTransition(ctx, &Transition{
			ID:     id.NewEventID(),
			JobID:  j.ID,
			Event:  "job.finished",
			Detail: string(j.Status),
			At:     at,
		})
	})
	return nil
}

func (jn *Journal) OnItemStarted(_ context.Context, j *job.Job, it *job.Item) error {
	jn.itemTransition(j, it, "item.started", "")
	return nil
}

func (jn *Journal) OnItemSucceeded(_ context.Context, j *job.Job, it *job.Item, _ time.Duration) error {
	jn.itemTransition(j, it, "item.succeeded", "")
	return nil
}

func (jn *Journal) OnItemRetrying(_ context.Context, j *job.Job, it *job.Item, _ int, nextAttemptAt time.Time) error {
	jn.itemTransition(j, it, "item.retrying", nextAttemptAt.Format(time.RFC3339))
	return nil
}

func (jn *Journal) OnItemFailed(_ context.Context, j *job.Job, it *job.Item, failure *soundpipe.Failure) error {
	detail := ""
	if failure != nil {
		detail = fmt.Sprintf("%s: %s", failure.Class, failure.Message)
	}
	jn.itemTransition(j, it, "item.failed", detail)
	return nil
}

func (jn *Journal) itemTransition(j *job.Job, it *job.Item, event, detail string) {
	at := time.Now().UTC()
	jn.enqueue(func(ctx context.Context) {
		jn.upsertJob(ctx, j)
		jn.appendTransition(ctx, &Transition{
			ID:      id.NewEventID(),
			JobID:   j.ID,
			ItemID:  it.ID,
			Event:   event,
			Attempt: it.Attempt,
			Detail:  detail,
			At:      at,
		})
	})
}

// OnShutdown drains pending writes and stops the writer goroutine.
func (jn *Journal) OnShutdown(ctx context.Context) error {
	jn.once.Do(func() { close(jn.writes) })
	select {
	case <-jn.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("journal drain: %w", ctx.Err())
	}
}
