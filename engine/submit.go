package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/soundpipe/soundpipe"
	"github.com/soundpipe/soundpipe/id"
	"github.com/soundpipe/soundpipe/job"
	"github.com/soundpipe/soundpipe/queue"
	"github.com/soundpipe/soundpipe/stream"
)

// SubmitRequest describes a batch submission: one job of a registered
// kind, one item per payload. Payloads and config are opaque to the
// engine and handed verbatim to the processing function.
type SubmitRequest struct {
	Kind   string
	Items  [][]byte
	Config json.RawMessage
}

// Submit validates and admits a job. Admission is synchronous: when it
// returns, either every item holds a queue slot and the returned
// snapshot reflects the accepted job, or nothing was admitted.
//
// With BlockOnFull unset a full queue fails fast with ErrQueueFull;
// otherwise Submit blocks for capacity up to SubmitTimeout (or until
// ctx is done when the timeout is zero).
func (e *Engine) Submit(ctx context.Context, req SubmitRequest, opts ...job.SubmitOption) (*job.Job, error) {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return nil, soundpipe.ErrEngineClosed
	}

	if _, ok := e.registry.Resolve(req.Kind); !ok {
		return nil, fmt.Errorf("%w: %q", soundpipe.ErrUnknownKind, req.Kind)
	}
	if len(req.Items) == 0 {
		return nil, soundpipe.ErrNoItems
	}

	so := job.SubmitOptions{
		MaxAttempts:   e.cfg.MaxAttempts,
		Timeout:       e.cfg.ItemTimeout,
		InFlightLimit: e.cfg.PerJobInFlight,
		Retention:     e.cfg.Retention,
	}
	for _, opt := range opts {
		opt(&so)
	}

	j := &job.Job{
		Entity:        soundpipe.NewEntity(),
		ID:            id.NewJobID(),
		Kind:          req.Kind,
		Config:        req.Config,
		Status:        job.StatusPending,
		Priority:      so.Priority,
		MaxAttempts:   so.MaxAttempts,
		InFlightLimit: so.InFlightLimit,
		Timeout:       so.Timeout,
		Retention:     so.Retention,
	}
	entries := make([]queue.Entry, 0, len(req.Items))
	for i, payload := range req.Items {
		it := &job.Item{
			ID:      id.NewItemID(),
			Index:   i,
			Payload: payload,
			Status:  job.ItemPending,
		}
		j.Items = append(j.Items, it)
		entries = append(entries, queue.Entry{
			JobID:    j.ID,
			ItemID:   it.ID,
			Index:    i,
			Priority: so.Priority,
		})
	}

	if so.InFlightLimit > 0 {
		e.caps.SetJobLimit(j.ID, so.InFlightLimit)
	}

	// Queue slots first, record second. The dispatcher tolerates the
	// window where an entry exists without its record.
	if e.cfg.BlockOnFull {
		pushCtx := ctx
		if e.cfg.SubmitTimeout > 0 {
			var cancel context.CancelFunc
			pushCtx, cancel = context.WithTimeout(ctx, e.cfg.SubmitTimeout)
			defer cancel()
		}
		if err := e.queue.PushWait(pushCtx, entries...); err != nil {
			e.caps.ClearJob(j.ID)
			return nil, err
		}
	} else if err := e.queue.Push(entries...); err != nil {
		e.caps.ClearJob(j.ID)
		return nil, err
	}

	if err := e.tracker.CreateJob(ctx, j); err != nil {
		e.queue.RemoveJob(j.ID)
		e.queue.Free(len(entries))
		e.caps.ClearJob(j.ID)
		return nil, err
	}
	return j.Clone(), nil
}

// Submit is the typed convenience wrapper: it marshals config and
// submits through the engine.
func Submit[T any](ctx context.Context, e *Engine, kind string, items [][]byte, config T, opts ...job.SubmitOption) (*job.Job, error) {
	raw, err := json.Marshal(config)
	if err != nil {
		return nil, fmt.Errorf("engine: marshal config: %w", err)
	}
	return e.Submit(ctx, SubmitRequest{Kind: kind, Items: items, Config: raw}, opts...)
}

// Cancel aborts a job. Queued items fail immediately; running items are
// allowed to finish and their late outcomes are recorded without
// changing the job's cancelled status.
func (e *Engine) Cancel(ctx context.Context, jobID id.JobID) error {
	return e.tracker.CancelJob(ctx, jobID)
}

// Job returns a snapshot of the job record.
func (e *Engine) Job(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return e.tracker.Job(ctx, jobID)
}

// Item returns a snapshot of a single item.
func (e *Engine) Item(ctx context.Context, jobID id.JobID, itemID id.ItemID) (*job.Item, error) {
	return e.tracker.Item(ctx, jobID, itemID)
}

// Results returns per-item outcomes ordered by item index.
func (e *Engine) Results(ctx context.Context, jobID id.JobID) ([]job.ItemResult, error) {
	return e.tracker.Results(ctx, jobID)
}

// List returns job snapshots matching the filter.
func (e *Engine) List(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	return e.tracker.List(ctx, opts)
}

// Subscribe opens a finite event stream scoped to one job. The channel
// carries lifecycle events in order and closes after the terminal job
// event. Subscribing to an already settled job yields the terminal
// event and an immediately closed channel.
func (e *Engine) Subscribe(ctx context.Context, jobID id.JobID) (*stream.Subscriber, error) {
	sub := e.broker.Subscribe(id.NewSubscriberID().String(), stream.JobTopic(jobID.String()))

	j, err := e.tracker.Job(ctx, jobID)
	if err != nil {
		e.broker.RemoveSubscriber(sub.ID())
		return nil, err
	}
	if j.Status.Terminal() {
		e.broker.ReplayFinished(sub, j)
	}
	return sub, nil
}
