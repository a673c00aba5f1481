package queue_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/soundpipe/soundpipe"
	"github.com/soundpipe/soundpipe/id"
	"github.com/soundpipe/soundpipe/queue"
)

func entriesFor(jobID id.JobID, priority, n int) []queue.Entry {
	out := make([]queue.Entry, n)
	for i := range out {
		out[i] = queue.Entry{
			JobID:    jobID,
			ItemID:   id.NewItemID(),
			Index:    i,
			Priority: priority,
		}
	}
	return out
}

func popAll(t *testing.T, q *queue.Queue) []queue.Entry {
	t.Helper()
	var out []queue.Entry
	for {
		e, ok := q.Pop(time.Now(), func(queue.Entry) bool { return true })
		if !ok {
			return out
		}
		out = append(out, e)
	}
}

func TestPush_CapacityCountsItems(t *testing.T) {
	q := queue.New(5)

	if err := q.Push(entriesFor(id.NewJobID(), 0, 3)...); err != nil {
		t.Fatalf("push 3/5: %v", err)
	}
	if err := q.Push(entriesFor(id.NewJobID(), 0, 3)...); !errors.Is(err, soundpipe.ErrQueueFull) {
		t.Fatalf("push beyond capacity = %v, want ErrQueueFull", err)
	}
	// All-or-nothing: the failed batch admitted nothing.
	if got := q.Held(); got != 3 {
		t.Errorf("Held() = %d, want 3", got)
	}
}

func TestFree_ReopensAdmission(t *testing.T) {
	q := queue.New(2)
	if err := q.Push(entriesFor(id.NewJobID(), 0, 2)...); err != nil {
		t.Fatalf("fill: %v", err)
	}
	if err := q.Push(entriesFor(id.NewJobID(), 0, 1)...); !errors.Is(err, soundpipe.ErrQueueFull) {
		t.Fatal("queue should be full")
	}

	// One item settles; its slot frees even though it was already popped.
	q.Pop(time.Now(), func(queue.Entry) bool { return true })
	q.Free(1)

	if err := q.Push(entriesFor(id.NewJobID(), 0, 1)...); err != nil {
		t.Fatalf("push after free: %v", err)
	}
}

func TestPop_FIFOWithinTier(t *testing.T) {
	q := queue.New(0)
	j1, j2 := id.NewJobID(), id.NewJobID()
	if err := q.Push(entriesFor(j1, 0, 2)...); err != nil {
		t.Fatal(err)
	}
	if err := q.Push(entriesFor(j2, 0, 1)...); err != nil {
		t.Fatal(err)
	}

	got := popAll(t, q)
	if len(got) != 3 {
		t.Fatalf("popped %d entries, want 3", len(got))
	}
	want := []struct {
		job   id.JobID
		index int
	}{{j1, 0}, {j1, 1}, {j2, 0}}
	for i, w := range want {
		if got[i].JobID != w.job || got[i].Index != w.index {
			t.Errorf("pop[%d] = job %s item %d, want job %s item %d",
				i, got[i].JobID, got[i].Index, w.job, w.index)
		}
	}
}

func TestPop_PriorityTiersFirst(t *testing.T) {
	q := queue.New(0)
	low, high := id.NewJobID(), id.NewJobID()
	if err := q.Push(entriesFor(low, 0, 1)...); err != nil {
		t.Fatal(err)
	}
	if err := q.Push(entriesFor(high, 5, 1)...); err != nil {
		t.Fatal(err)
	}

	e, ok := q.Pop(time.Now(), func(queue.Entry) bool { return true })
	if !ok || e.JobID != high {
		t.Errorf("first pop = %v, want high-priority job", e.JobID)
	}
}

func TestPop_SkipsDisallowedJobs(t *testing.T) {
	q := queue.New(0)
	capped, other := id.NewJobID(), id.NewJobID()
	if err := q.Push(entriesFor(capped, 0, 1)...); err != nil {
		t.Fatal(err)
	}
	if err := q.Push(entriesFor(other, 0, 1)...); err != nil {
		t.Fatal(err)
	}

	e, ok := q.Pop(time.Now(), func(e queue.Entry) bool { return e.JobID != capped })
	if !ok || e.JobID != other {
		t.Fatalf("pop = %v, want the uncapped job", e.JobID)
	}

	// The skipped entry must still be there once allowed.
	e, ok = q.Pop(time.Now(), func(queue.Entry) bool { return true })
	if !ok || e.JobID != capped {
		t.Errorf("skipped entry lost: pop = %v, want capped job", e.JobID)
	}
}

func TestRequeue_DelayedUntilNotBefore(t *testing.T) {
	q := queue.New(0)
	jobID := id.NewJobID()
	if err := q.Push(entriesFor(jobID, 0, 1)...); err != nil {
		t.Fatal(err)
	}

	e, _ := q.Pop(time.Now(), func(queue.Entry) bool { return true })
	notBefore := time.Now().Add(50 * time.Millisecond)
	q.Requeue(e, notBefore)

	if _, ok := q.Pop(time.Now(), func(queue.Entry) bool { return true }); ok {
		t.Fatal("delayed entry dispatched before NotBefore")
	}

	wake, ok := q.NextWake()
	if !ok {
		t.Fatal("NextWake should report the delayed entry")
	}
	if !wake.Equal(notBefore) {
		t.Errorf("NextWake = %v, want %v", wake, notBefore)
	}

	if _, ok := q.Pop(notBefore.Add(time.Millisecond), func(queue.Entry) bool { return true }); !ok {
		t.Error("entry not eligible after NotBefore passed")
	}
}

func TestPushWait_BlocksUntilFree(t *testing.T) {
	q := queue.New(1)
	if err := q.Push(entriesFor(id.NewJobID(), 0, 1)...); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		done <- q.PushWait(ctx, entriesFor(id.NewJobID(), 0, 1)...)
	}()

	// Give the goroutine time to block, then free a slot.
	time.Sleep(20 * time.Millisecond)
	q.Free(1)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("PushWait after free: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("PushWait did not unblock after Free")
	}
}

func TestPushWait_TimesOutAsQueueFull(t *testing.T) {
	q := queue.New(1)
	if err := q.Push(entriesFor(id.NewJobID(), 0, 1)...); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := q.PushWait(ctx, entriesFor(id.NewJobID(), 0, 1)...)
	if !errors.Is(err, soundpipe.ErrQueueFull) {
		t.Errorf("PushWait timeout = %v, want ErrQueueFull", err)
	}
}

func TestRemoveJob_DropsQueuedEntries(t *testing.T) {
	q := queue.New(0)
	victim, keeper := id.NewJobID(), id.NewJobID()
	if err := q.Push(entriesFor(victim, 0, 3)...); err != nil {
		t.Fatal(err)
	}
	if err := q.Push(entriesFor(keeper, 0, 1)...); err != nil {
		t.Fatal(err)
	}

	// Park one victim entry in the delayed heap too.
	e, _ := q.Pop(time.Now(), func(e queue.Entry) bool { return e.JobID == victim })
	q.Requeue(e, time.Now().Add(time.Hour))

	if removed := q.RemoveJob(victim); removed != 3 {
		t.Errorf("RemoveJob removed %d entries, want 3", removed)
	}

	rest := popAll(t, q)
	if len(rest) != 1 || rest[0].JobID != keeper {
		t.Errorf("remaining entries = %v, want only the keeper job", rest)
	}
}
