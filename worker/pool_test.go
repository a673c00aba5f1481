package worker_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/soundpipe/soundpipe"
	"github.com/soundpipe/soundpipe/backoff"
	"github.com/soundpipe/soundpipe/hook"
	"github.com/soundpipe/soundpipe/id"
	"github.com/soundpipe/soundpipe/job"
	"github.com/soundpipe/soundpipe/middleware"
	"github.com/soundpipe/soundpipe/queue"
	"github.com/soundpipe/soundpipe/store/memory"
	"github.com/soundpipe/soundpipe/tracker"
	"github.com/soundpipe/soundpipe/worker"
)

type harness struct {
	pool    *worker.Pool
	tracker *tracker.Tracker
	queue   *queue.Queue
	reg     *job.Registry
}

func setupTestPool(t *testing.T, concurrency int, opts ...worker.PoolOption) *harness {
	t.Helper()
	logger := slog.Default()
	s := memory.New()
	reg := job.NewRegistry()
	hooks := hook.NewRegistry(logger)
	q := queue.New(0)

	policy := backoff.Policy{MaxAttempts: 3, Strategy: backoff.NewConstant(10 * time.Millisecond)}
	trk := tracker.New(s, policy, hooks, logger,
		tracker.WithReleaseFunc(q.Free),
		tracker.WithDropFunc(q.RemoveJob),
	)

	executor := worker.NewExecutor(reg, trk, q, logger,
		middleware.Recover(logger),
	)

	opts = append([]worker.PoolOption{worker.WithPoolConcurrency(concurrency)}, opts...)
	pool := worker.NewPool(executor, logger, opts...)

	return &harness{pool: pool, tracker: trk, queue: q, reg: reg}
}

func submitSingleItemJob(t *testing.T, h *harness, kind string, payload []byte) *job.Job {
	t.Helper()
	j := &job.Job{
		Entity: soundpipe.NewEntity(),
		ID:     id.NewJobID(),
		Kind:   kind,
		Status: job.StatusPending,
		Items: []*job.Item{
			{ID: id.NewItemID(), Index: 0, Payload: payload, Status: job.ItemPending},
		},
	}
	if err := h.tracker.CreateJob(context.Background(), j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	return j
}

func waitForTerminal(t *testing.T, h *harness, jobID id.JobID, itemID id.ItemID) *job.Item {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		it, err := h.tracker.Item(context.Background(), jobID, itemID)
		if err != nil {
			t.Fatalf("Item: %v", err)
		}
		if it.Status.Terminal() {
			return it
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for item to settle, status %q", it.Status)
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
}

func TestPool_StartStop(t *testing.T) {
	h := setupTestPool(t, 2)

	if err := h.pool.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}

	// Double start should be no-op.
	if err := h.pool.Start(context.Background()); err != nil {
		t.Fatalf("unexpected double-start error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := h.pool.Stop(ctx); err != nil {
		t.Fatalf("unexpected stop error: %v", err)
	}

	// Double stop should be no-op.
	if err := h.pool.Stop(ctx); err != nil {
		t.Fatalf("unexpected double-stop error: %v", err)
	}
}

func TestPool_ProcessesTask(t *testing.T) {
	h := setupTestPool(t, 1)

	var processed atomic.Bool
	h.reg.RegisterFunc("greet", func(_ context.Context, payload []byte, _ json.RawMessage) ([]byte, error) {
		if string(payload) != "Alice" {
			t.Errorf("payload = %q, want %q", payload, "Alice")
		}
		processed.Store(true)
		return []byte("hello Alice"), nil
	})

	j := submitSingleItemJob(t, h, "greet", []byte("Alice"))

	task, err := h.tracker.Lease(context.Background(), j.ID, j.Items[0].ID)
	if err != nil {
		t.Fatalf("Lease: %v", err)
	}

	if err := h.pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	if err := h.pool.Submit(context.Background(), task); err != nil {
		t.Fatalf("submit error: %v", err)
	}

	it := waitForTerminal(t, h, j.ID, j.Items[0].ID)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.pool.Stop(ctx); err != nil {
		t.Fatalf("stop error: %v", err)
	}

	if !processed.Load() {
		t.Error("processing function never ran")
	}
	if it.Status != job.ItemSucceeded {
		t.Errorf("item status = %q, want succeeded", it.Status)
	}
	if string(it.Result) != "hello Alice" {
		t.Errorf("result = %q", it.Result)
	}

	got, err := h.tracker.Job(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("Job: %v", err)
	}
	if got.Status != job.StatusCompleted {
		t.Errorf("job status = %q, want completed", got.Status)
	}
}

func TestPool_RecoverableFailureRequeues(t *testing.T) {
	h := setupTestPool(t, 1)

	h.reg.RegisterFunc("flaky", func(_ context.Context, _ []byte, _ json.RawMessage) ([]byte, error) {
		return nil, soundpipe.Recoverablef("upstream flaked")
	})

	j := submitSingleItemJob(t, h, "flaky", []byte("x"))
	task, err := h.tracker.Lease(context.Background(), j.ID, j.Items[0].ID)
	if err != nil {
		t.Fatalf("Lease: %v", err)
	}

	if err := h.pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	if err := h.pool.Submit(context.Background(), task); err != nil {
		t.Fatalf("submit error: %v", err)
	}

	// The item should land back in the queue behind its backoff delay.
	deadline := time.After(5 * time.Second)
	for h.queue.Depth() == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for requeue")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}

	it, err := h.tracker.Item(context.Background(), j.ID, j.Items[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if it.Status != job.ItemRetrying {
		t.Errorf("item status = %q, want retrying", it.Status)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.pool.Stop(ctx); err != nil {
		t.Fatalf("stop error: %v", err)
	}
}

func TestPool_TerminalFailureSettles(t *testing.T) {
	h := setupTestPool(t, 1)

	h.reg.RegisterFunc("reject", func(_ context.Context, _ []byte, _ json.RawMessage) ([]byte, error) {
		return nil, soundpipe.Terminalf("unsupported sample rate")
	})

	j := submitSingleItemJob(t, h, "reject", []byte("x"))
	task, err := h.tracker.Lease(context.Background(), j.ID, j.Items[0].ID)
	if err != nil {
		t.Fatalf("Lease: %v", err)
	}

	if err := h.pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	if err := h.pool.Submit(context.Background(), task); err != nil {
		t.Fatalf("submit error: %v", err)
	}

	it := waitForTerminal(t, h, j.ID, j.Items[0].ID)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.pool.Stop(ctx); err != nil {
		t.Fatalf("stop error: %v", err)
	}

	if it.Status != job.ItemFailed {
		t.Errorf("item status = %q, want failed", it.Status)
	}
	if it.LastError == nil || it.LastError.Class != soundpipe.ClassTerminal {
		t.Errorf("LastError = %+v", it.LastError)
	}
	if h.queue.Depth() != 0 {
		t.Errorf("queue depth = %d after terminal failure, want 0", h.queue.Depth())
	}
}

func TestPool_PanicIsRecovered(t *testing.T) {
	h := setupTestPool(t, 1)

	h.reg.RegisterFunc("panicky", func(_ context.Context, _ []byte, _ json.RawMessage) ([]byte, error) {
		panic("decoder blew up")
	})

	j := submitSingleItemJob(t, h, "panicky", []byte("x"))
	task, err := h.tracker.Lease(context.Background(), j.ID, j.Items[0].ID)
	if err != nil {
		t.Fatalf("Lease: %v", err)
	}

	if err := h.pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	if err := h.pool.Submit(context.Background(), task); err != nil {
		t.Fatalf("submit error: %v", err)
	}

	// A panic is converted to a recoverable error, so the item retries.
	deadline := time.After(5 * time.Second)
	for h.queue.Depth() == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for requeue after panic")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.pool.Stop(ctx); err != nil {
		t.Fatalf("stop error: %v", err)
	}
}

func TestPool_UnregisteredKindEscalates(t *testing.T) {
	h := setupTestPool(t, 1)

	// No processing function registered for "ghost": execution must fail
	// as an engine fault instead of retrying forever.
	j := submitSingleItemJob(t, h, "ghost", []byte("x"))
	task, err := h.tracker.Lease(context.Background(), j.ID, j.Items[0].ID)
	if err != nil {
		t.Fatalf("Lease: %v", err)
	}

	if err := h.pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	if err := h.pool.Submit(context.Background(), task); err != nil {
		t.Fatalf("submit error: %v", err)
	}

	it := waitForTerminal(t, h, j.ID, j.Items[0].ID)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.pool.Stop(ctx); err != nil {
		t.Fatalf("stop error: %v", err)
	}

	if it.Status != job.ItemFailed {
		t.Errorf("item status = %q, want failed", it.Status)
	}
	if it.LastError == nil || it.LastError.Class != soundpipe.ClassInternal {
		t.Errorf("LastError = %+v", it.LastError)
	}
}

func TestPool_OnDoneFires(t *testing.T) {
	var doneCount atomic.Int32
	h := setupTestPool(t, 1, worker.WithOnDone(func(job.Task) {
		doneCount.Add(1)
	}))

	h.reg.RegisterFunc("noop", func(_ context.Context, _ []byte, _ json.RawMessage) ([]byte, error) {
		return nil, nil
	})

	j := submitSingleItemJob(t, h, "noop", nil)
	task, err := h.tracker.Lease(context.Background(), j.ID, j.Items[0].ID)
	if err != nil {
		t.Fatalf("Lease: %v", err)
	}

	if err := h.pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	if err := h.pool.Submit(context.Background(), task); err != nil {
		t.Fatalf("submit error: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for doneCount.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for done callback")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.pool.Stop(ctx); err != nil {
		t.Fatalf("stop error: %v", err)
	}
}

func TestPool_GracefulShutdown(t *testing.T) {
	h := setupTestPool(t, 4)

	if err := h.pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	// Allow workers to start waiting for tasks.
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := h.pool.Stop(ctx); err != nil {
		t.Fatalf("graceful shutdown failed: %v", err)
	}
}
