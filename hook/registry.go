package hook

import (
	"context"
	"log/slog"
	"time"

	"github.com/soundpipe/soundpipe"
	"github.com/soundpipe/soundpipe/job"
)

// Named entry types pair a hook implementation with the hook name
// captured at registration time. This avoids type-asserting back to
// Hook inside the emit methods.
type jobSubmittedEntry struct {
	name string
	hook JobSubmitted
}

type jobFinishedEntry struct {
	name string
	hook JobFinished
}

type itemStartedEntry struct {
	name string
	hook ItemStarted
}

type itemSucceededEntry struct {
	name string
	hook ItemSucceeded
}

type itemRetryingEntry struct {
	name string
	hook ItemRetrying
}

type itemFailedEntry struct {
	name string
	hook ItemFailed
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered hooks and dispatches lifecycle events to
// them. It type-caches hooks at registration time so emit calls iterate
// only over hooks that implement the relevant event.
type Registry struct {
	hooks  []Hook
	logger *slog.Logger

	// Type-cached slices for each lifecycle event.
	jobSubmitted  []jobSubmittedEntry
	jobFinished   []jobFinishedEntry
	itemStarted   []itemStartedEntry
	itemSucceeded []itemSucceededEntry
	itemRetrying  []itemRetryingEntry
	itemFailed    []itemFailedEntry
	shutdown      []shutdownEntry
}

// NewRegistry creates a hook registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds a hook and type-asserts it into all applicable event
// caches. Hooks are notified in registration order.
func (r *Registry) Register(h Hook) {
	r.hooks = append(r.hooks, h)
	name := h.Name()

	if e, ok := h.(JobSubmitted); ok {
		r.jobSubmitted = append(r.jobSubmitted, jobSubmittedEntry{name, e})
	}
	if e, ok := h.(JobFinished); ok {
		r.jobFinished = append(r.jobFinished, jobFinishedEntry{name, e})
	}
	if e, ok := h.(ItemStarted); ok {
		r.itemStarted = append(r.itemStarted, itemStartedEntry{name, e})
	}
	if e, ok := h.(ItemSucceeded); ok {
		r.itemSucceeded = append(r.itemSucceeded, itemSucceededEntry{name, e})
	}
	if e, ok := h.(ItemRetrying); ok {
		r.itemRetrying = append(r.itemRetrying, itemRetryingEntry{name, e})
	}
	if e, ok := h.(ItemFailed); ok {
		r.itemFailed = append(r.itemFailed, itemFailedEntry{name, e})
	}
	if e, ok := h.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, e})
	}
}

// Hooks returns all registered hooks.
func (r *Registry) Hooks() []Hook { return r.hooks }

// ──────────────────────────────────────────────────
// Job event emitters
// ──────────────────────────────────────────────────

// EmitJobSubmitted notifies all hooks that implement JobSubmitted.
func (r *Registry) EmitJobSubmitted(ctx context.Context, j *job.Job) {
	for _, e := range r.jobSubmitted {
		if err := e.hook.OnJobSubmitted(ctx, j); err != nil {
			r.logHookError("OnJobSubmitted", e.name, err)
		}
	}
}

// EmitJobFinished notifies all hooks that implement JobFinished.
func (r *Registry) EmitJobFinished(ctx context.Context, j *job.Job) {
	for _, e := range r.jobFinished {
		if err := e.hook.OnJobFinished(ctx, j); err != nil {
			r.logHookError("OnJobFinished", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Item event emitters
// ──────────────────────────────────────────────────

// EmitItemStarted notifies all hooks that implement ItemStarted.
func (r *Registry) EmitItemStarted(ctx context.Context, j *job.Job, it *job.Item) {
	for _, e := range r.itemStarted {
		if err := e.hook.OnItemStarted(ctx, j, it); err != nil {
			r.logHookError("OnItemStarted", e.name, err)
		}
	}
}

// EmitItemSucceeded notifies all hooks that implement ItemSucceeded.
func (r *Registry) EmitItemSucceeded(ctx context.Context, j *job.Job, it *job.Item, elapsed time.Duration) {
	for _, e := range r.itemSucceeded {
		if err := e.hook.OnItemSucceeded(ctx, j, it, elapsed); err != nil {
			r.logHookError("OnItemSucceeded", e.name, err)
		}
	}
}

// EmitItemRetrying notifies all hooks that implement ItemRetrying.
func (r *Registry) EmitItemRetrying(ctx context.Context, j *job.Job, it *job.Item, attempt int, nextAttemptAt time.Time) {
	for _, e := range r.itemRetrying {
		if err := e.hook.OnItemRetrying(ctx, j, it, attempt, nextAttemptAt); err != nil {
			r.logHookError("OnItemRetrying", e.name, err)
		}
	}
}

// EmitItemFailed notifies all hooks that implement ItemFailed.
func (r *Registry) EmitItemFailed(ctx context.Context, j *job.Job, it *job.Item, failure *soundpipe.Failure) {
	for _, e := range r.itemFailed {
		if err := e.hook.OnItemFailed(ctx, j, it, failure); err != nil {
			r.logHookError("OnItemFailed", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Other event emitters
// ──────────────────────────────────────────────────

// EmitShutdown notifies all hooks that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated — they must not block the pipeline.
func (r *Registry) logHookError(event, hookName string, err error) {
	r.logger.Warn("lifecycle hook error",
		slog.String("event", event),
		slog.String("hook", hookName),
		slog.String("error", err.Error()),
	)
}
