package hook_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/soundpipe/soundpipe"
	"github.com/soundpipe/soundpipe/hook"
	"github.com/soundpipe/soundpipe/job"
)

// allEventsHook implements every lifecycle event for testing.
type allEventsHook struct {
	calls []string
}

func (h *allEventsHook) Name() string { return "all-events" }

func (h *allEventsHook) OnJobSubmitted(_ context.Context, _ *job.Job) error {
	h.calls = append(h.calls, "OnJobSubmitted")
	return nil
}

func (h *allEventsHook) OnJobFinished(_ context.Context, _ *job.Job) error {
	h.calls = append(h.calls, "OnJobFinished")
	return nil
}

func (h *allEventsHook) OnItemStarted(_ context.Context, _ *job.Job, _ *job.Item) error {
	h.calls = append(h.calls, "OnItemStarted")
	return nil
}

func (h *allEventsHook) OnItemSucceeded(_ context.Context, _ *job.Job, _ *job.Item, _ time.Duration) error {
	h.calls = append(h.calls, "OnItemSucceeded")
	return nil
}

func (h *allEventsHook) OnItemRetrying(_ context.Context, _ *job.Job, _ *job.Item, _ int, _ time.Time) error {
	h.calls = append(h.calls, "OnItemRetrying")
	return nil
}

func (h *allEventsHook) OnItemFailed(_ context.Context, _ *job.Job, _ *job.Item, _ *soundpipe.Failure) error {
	h.calls = append(h.calls, "OnItemFailed")
	return nil
}

func (h *allEventsHook) OnShutdown(_ context.Context) error {
	h.calls = append(h.calls, "OnShutdown")
	return nil
}

// jobOnlyHook only implements job-level events.
type jobOnlyHook struct {
	calls []string
}

func (h *jobOnlyHook) Name() string { return "job-only" }

func (h *jobOnlyHook) OnJobSubmitted(_ context.Context, _ *job.Job) error {
	h.calls = append(h.calls, "OnJobSubmitted")
	return nil
}

func (h *jobOnlyHook) OnJobFinished(_ context.Context, _ *job.Job) error {
	h.calls = append(h.calls, "OnJobFinished")
	return nil
}

// failingHook returns errors from events.
type failingHook struct{}

func (h *failingHook) Name() string { return "failing" }

func (h *failingHook) OnJobSubmitted(_ context.Context, _ *job.Job) error {
	return errors.New("boom")
}

func TestRegistry_RegisterDiscoversInterfaces(t *testing.T) {
	r := hook.NewRegistry(slog.Default())
	r.Register(&allEventsHook{})

	if got := len(r.Hooks()); got != 1 {
		t.Fatalf("expected 1 hook, got %d", got)
	}
	if got := r.Hooks()[0].Name(); got != "all-events" {
		t.Fatalf("expected name 'all-events', got %q", got)
	}
}

func TestRegistry_EmitFiresOnlyImplementors(t *testing.T) {
	r := hook.NewRegistry(slog.Default())
	all := &allEventsHook{}
	jo := &jobOnlyHook{}
	r.Register(all)
	r.Register(jo)

	ctx := context.Background()
	j := &job.Job{Kind: "transcode"}

	// Both implement OnJobSubmitted → both called.
	r.EmitJobSubmitted(ctx, j)
	if len(all.calls) != 1 || all.calls[0] != "OnJobSubmitted" {
		t.Fatalf("all: expected [OnJobSubmitted], got %v", all.calls)
	}
	if len(jo.calls) != 1 || jo.calls[0] != "OnJobSubmitted" {
		t.Fatalf("jo: expected [OnJobSubmitted], got %v", jo.calls)
	}

	// Only all implements OnItemStarted → jo not called.
	r.EmitItemStarted(ctx, j, &job.Item{})
	if len(all.calls) != 2 || all.calls[1] != "OnItemStarted" {
		t.Fatalf("all: expected OnItemStarted as 2nd, got %v", all.calls)
	}
	if len(jo.calls) != 1 {
		t.Fatalf("jo: should still have 1 call, got %v", jo.calls)
	}
}

func TestRegistry_AllEventsFire(t *testing.T) {
	r := hook.NewRegistry(slog.Default())
	all := &allEventsHook{}
	r.Register(all)

	ctx := context.Background()
	j := &job.Job{Kind: "transcode"}
	it := &job.Item{}

	r.EmitJobSubmitted(ctx, j)
	r.EmitItemStarted(ctx, j, it)
	r.EmitItemSucceeded(ctx, j, it, time.Second)
	r.EmitItemRetrying(ctx, j, it, 1, time.Now())
	r.EmitItemFailed(ctx, j, it, soundpipe.NewFailure(soundpipe.Terminal(errors.New("bad input"))))
	r.EmitJobFinished(ctx, j)
	r.EmitShutdown(ctx)

	expected := []string{
		"OnJobSubmitted", "OnItemStarted", "OnItemSucceeded",
		"OnItemRetrying", "OnItemFailed", "OnJobFinished", "OnShutdown",
	}
	if len(all.calls) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(all.calls), all.calls)
	}
	for i, want := range expected {
		if all.calls[i] != want {
			t.Errorf("call[%d] = %q, want %q", i, all.calls[i], want)
		}
	}
}

func TestRegistry_HookErrorsLoggedNotPropagated(t *testing.T) {
	r := hook.NewRegistry(slog.Default())
	all := &allEventsHook{}

	// Register failing first, then all-events. Both should be called.
	r.Register(&failingHook{})
	r.Register(all)

	r.EmitJobSubmitted(context.Background(), &job.Job{})

	if len(all.calls) != 1 || all.calls[0] != "OnJobSubmitted" {
		t.Fatalf("all: expected [OnJobSubmitted] despite failing hook, got %v", all.calls)
	}
}

func TestRegistry_EmptyRegistryNoOp(_ *testing.T) {
	r := hook.NewRegistry(slog.Default())
	ctx := context.Background()

	// None of these should panic or error.
	r.EmitJobSubmitted(ctx, &job.Job{})
	r.EmitItemStarted(ctx, &job.Job{}, &job.Item{})
	r.EmitItemSucceeded(ctx, &job.Job{}, &job.Item{}, time.Second)
	r.EmitItemRetrying(ctx, &job.Job{}, &job.Item{}, 1, time.Now())
	r.EmitItemFailed(ctx, &job.Job{}, &job.Item{}, nil)
	r.EmitJobFinished(ctx, &job.Job{})
	r.EmitShutdown(ctx)
}
