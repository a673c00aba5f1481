package audit

import (
	"context"
	"time"

	"github.com/soundpipe/soundpipe"
	"github.com/soundpipe/soundpipe/hook"
	"github.com/soundpipe/soundpipe/job"
)

// Compile-time interface checks.
var (
	_ hook.Hook          = (*Hook)(nil)
	_ hook.JobSubmitted  = (*Hook)(nil)
	_ hook.JobFinished   = (*Hook)(nil)
	_ hook.ItemStarted   = (*Hook)(nil)
	_ hook.ItemSucceeded = (*Hook)(nil)
	_ hook.ItemRetrying  = (*Hook)(nil)
	_ hook.ItemFailed    = (*Hook)(nil)
)

// Recorder is the interface audit backends must implement. It is
// defined locally so this package carries no backend dependency —
// callers inject their concrete trail at wiring time.
type Recorder interface {
	// Record persists a fully-formed audit event.
	Record(ctx context.Context, event *Event) error
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *Event) error

func (f RecorderFunc) Record(ctx context.Context, event *Event) error {
	return f(ctx, event)
}

// Event is a structured audit record of one lifecycle transition.
type Event struct {
	// What happened.
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	// Details.
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// Hook emits an audit event for every lifecycle transition it is
// enabled for.
type Hook struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
}

// Option configures a Hook.
type Option func(*Hook)

// WithActions restricts the hook to the given actions. By default every
// action is emitted.
func WithActions(actions ...string) Option {
	return func(h *Hook) {
		h.enabled = make(map[string]bool, len(actions))
		for _, a := range actions {
			h.enabled[a] = true
		}
	}
}

// New creates a Hook that emits audit events through the Recorder.
func New(r Recorder, opts ...Option) *Hook {
	h := &Hook{recorder: r}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Name implements hook.Hook.
func (h *Hook) Name() string { return "audit" }

func (h *Hook) OnJobSubmitted(ctx context.Context, j *job.Job) error {
	return h.record(ctx, &Event{
		Action:     ActionJobSubmitted,
		Resource:   ResourceJob,
		Category:   CategoryJob,
		ResourceID: j.ID.String(),
		Outcome:    OutcomeSuccess,
		Severity:   SeverityInfo,
		Metadata: map[string]any{
			"kind":     j.Kind,
			"items":    len(j.Items),
			"priority": j.Priority,
		},
	})
}

func (h *Hook) OnJobFinished(ctx context.Context, j *job.Job) error {
	evt := &Event{
		Action:     ActionJobFinished,
		Resource:   ResourceJob,
		Category:   CategoryJob,
		ResourceID: j.ID.String(),
		Outcome:    OutcomeSuccess,
		Severity:   SeverityInfo,
		Metadata: map[string]any{
			"kind":   j.Kind,
			"status": string(j.Status),
		},
	}
	switch j.Status {
	case job.StatusFailed:
		evt.Outcome = OutcomeFailure
		evt.Severity = SeverityCritical
	case job.StatusPartiallyFailed, job.StatusCancelled:
		evt.Outcome = OutcomeFailure
		evt.Severity = SeverityWarning
	}
	if j.CompletedAt != nil {
		evt.Metadata["elapsed_ms"] = j.CompletedAt.Sub(j.CreatedAt).Milliseconds()
	}
	return h.record(ctx, evt)
}

func (h *Hook) OnItemStarted(ctx context.Context, j *job.Job, it *job.Item) error {
	return h.record(ctx, &Event{
		Action:     ActionItemStarted,
		Resource:   ResourceItem,
		Category:   CategoryItem,
		ResourceID: it.ID.String(),
		Outcome:    OutcomeSuccess,
		Severity:   SeverityInfo,
		Metadata: map[string]any{
			"job_id":  j.ID.String(),
			"index":   it.Index,
			"attempt": it.Attempt,
		},
	})
}

func (h *Hook) OnItemSucceeded(ctx context.Context, j *job.Job, it *job.Item, elapsed time.Duration) error {
	return h.record(ctx, &Event{
		Action:     ActionItemSucceeded,
		Resource:   ResourceItem,
		Category:   CategoryItem,
		ResourceID: it.ID.String(),
		Outcome:    OutcomeSuccess,
		Severity:   SeverityInfo,
		Metadata: map[string]any{
			"job_id":     j.ID.String(),
			"index":      it.Index,
			"attempt":    it.Attempt,
			"elapsed_ms": elapsed.Milliseconds(),
		},
	})
}

func (h *Hook) OnItemRetrying(ctx context.Context, j *job.Job, it *job.Item, attempt int, nextAttemptAt time.Time) error {
	evt := &Event{
		Action:     ActionItemRetrying,
		Resource:   ResourceItem,
		Category:   CategoryItem,
		ResourceID: it.ID.String(),
		Outcome:    OutcomeFailure,
		Severity:   SeverityWarning,
		Metadata: map[string]any{
			"job_id":          j.ID.String(),
			"index":           it.Index,
			"attempt":         attempt,
			"next_attempt_at": nextAttemptAt,
		},
	}
	if it.LastError != nil {
		evt.Reason = it.LastError.Message
	}
	return h.record(ctx, evt)
}

func (h *Hook) OnItemFailed(ctx context.Context, j *job.Job, it *job.Item, failure *soundpipe.Failure) error {
	evt := &Event{
		Action:     ActionItemFailed,
		Resource:   ResourceItem,
		Category:   CategoryItem,
		ResourceID: it.ID.String(),
		Outcome:    OutcomeFailure,
		Severity:   SeverityCritical,
		Metadata: map[string]any{
			"job_id":  j.ID.String(),
			"index":   it.Index,
			"attempt": it.Attempt,
		},
	}
	if failure != nil {
		evt.Reason = failure.Message
		evt.Metadata["class"] = string(failure.Class)
	}
	return h.record(ctx, evt)
}

func (h *Hook) record(ctx context.Context, evt *Event) error {
	if h.enabled != nil && !h.enabled[evt.Action] {
		return nil
	}
	return h.recorder.Record(ctx, evt)
}
