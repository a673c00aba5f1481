// Package queue implements the bounded admission queue. Capacity is
// counted in items, not jobs: a batch job with a thousand items consumes
// a thousand slots. A slot is held from admission until the item settles,
// so completed and terminally failed items free capacity for new
// submissions.
//
// Ordering is strict FIFO within a priority tier (higher tiers first),
// with ties broken by submission order then item index. Items re-admitted
// after a retry delay enter behind newly-eligible items.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/soundpipe/soundpipe"
	"github.com/soundpipe/soundpipe/id"
)

// Entry is one schedulable item reference held by the queue. The queue
// never sees payloads or records, only identities and ordering keys.
type Entry struct {
	JobID    id.JobID
	ItemID   id.ItemID
	Index    int
	Priority int

	// NotBefore makes the entry ineligible for dispatch until the given
	// time. Zero means immediately eligible.
	NotBefore time.Time

	seq uint64
}

// Queue is the bounded admission queue. Safe for concurrent use.
type Queue struct {
	mu       sync.Mutex
	capacity int
	held     int
	seq      uint64

	ready   readyHeap
	delayed delayHeap

	wake    chan struct{}
	waiters []chan struct{}
}

// New creates a queue with the given capacity in items.
// Zero capacity means unbounded.
func New(capacity int) *Queue {
	return &Queue{
		capacity: capacity,
		wake:     make(chan struct{}, 1),
	}
}

// C returns the wake channel. It receives a signal whenever entries
// become available for dispatch.
func (q *Queue) C() <-chan struct{} { return q.wake }

// Push admits entries without blocking. All-or-nothing: if admitting
// every entry would exceed capacity, nothing is admitted and
// soundpipe.ErrQueueFull is returned.
func (q *Queue) Push(entries ...Entry) error {
	q.mu.Lock()
	if !q.fits(len(entries)) {
		q.mu.Unlock()
		return soundpipe.ErrQueueFull
	}
	q.admit(entries)
	q.mu.Unlock()

	q.signal()
	return nil
}

// PushWait admits entries, blocking until capacity frees or ctx is done.
// On timeout or cancellation it returns an error wrapping
// soundpipe.ErrQueueFull.
func (q *Queue) PushWait(ctx context.Context, entries ...Entry) error {
	for {
		q.mu.Lock()
		if q.fits(len(entries)) {
			q.admit(entries)
			q.mu.Unlock()
			q.signal()
			return nil
		}
		w := make(chan struct{})
		q.waiters = append(q.waiters, w)
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			q.removeWaiter(w)
			return fmt.Errorf("%w: %w", soundpipe.ErrQueueFull, ctx.Err())
		case <-w:
		}
	}
}

// Requeue re-admits an item after a failed attempt. The item's admission
// slot is still held, so Requeue never fails and never blocks. A fresh
// sequence number places the entry behind newly-eligible items.
func (q *Queue) Requeue(e Entry, notBefore time.Time) {
	q.mu.Lock()
	q.seq++
	e.seq = q.seq
	e.NotBefore = notBefore
	if notBefore.IsZero() || !notBefore.After(time.Now()) {
		q.ready.push(&entry{Entry: e})
	} else {
		q.delayed.push(&entry{Entry: e})
	}
	q.mu.Unlock()

	q.signal()
}

// Pop returns the next eligible entry for which allow returns true.
// Eligible means admitted and past its NotBefore time. Entries whose
// job is at its concurrency cap are skipped, not dropped: allow is the
// cap check, and the first entry it accepts is committed.
func (q *Queue) Pop(now time.Time, allow func(Entry) bool) (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.promote(now)

	// Scan in dispatch order, stashing skipped entries.
	var skipped []*entry
	for q.ready.Len() > 0 {
		e := q.ready.pop()
		if allow(e.Entry) {
			for _, s := range skipped {
				q.ready.push(s)
			}
			return e.Entry, true
		}
		skipped = append(skipped, e)
	}
	for _, s := range skipped {
		q.ready.push(s)
	}
	return Entry{}, false
}

// NextWake returns the earliest time a delayed entry becomes eligible.
// ok is false when no delayed entries exist.
func (q *Queue) NextWake() (t time.Time, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.delayed.Len() == 0 {
		return time.Time{}, false
	}
	return q.delayed.peek().NotBefore, true
}

// Free releases n admission slots (items that reached a terminal status)
// and wakes any blocked submitters.
func (q *Queue) Free(n int) {
	if n <= 0 {
		return
	}
	q.mu.Lock()
	q.held -= n
	if q.held < 0 {
		q.held = 0
	}
	waiters := q.waiters
	q.waiters = nil
	q.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}
}

// RemoveJob drops all queued entries belonging to the given job,
// typically on cancellation. Returns the number of entries removed.
// Slot accounting is unaffected: the status tracker frees slots as it
// settles the cancelled items.
func (q *Queue) RemoveJob(jobID id.JobID) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	removed := q.ready.removeJob(jobID)
	removed += q.delayed.removeJob(jobID)
	return removed
}

// Depth returns the number of entries currently queued (ready + delayed).
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ready.Len() + q.delayed.Len()
}

// Held returns the number of admission slots currently held.
func (q *Queue) Held() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.held
}

// fits reports whether n more slots fit. Caller holds the lock.
func (q *Queue) fits(n int) bool {
	return q.capacity <= 0 || q.held+n <= q.capacity
}

// admit assigns sequence numbers and enqueues. Caller holds the lock.
func (q *Queue) admit(entries []Entry) {
	now := time.Now()
	for i := range entries {
		q.seq++
		e := entries[i]
		e.seq = q.seq
		q.held++
		if e.NotBefore.IsZero() || !e.NotBefore.After(now) {
			q.ready.push(&entry{Entry: e})
		} else {
			q.delayed.push(&entry{Entry: e})
		}
	}
}

// promote moves due delayed entries into the ready heap. Caller holds
// the lock.
func (q *Queue) promote(now time.Time) {
	for q.delayed.Len() > 0 && !q.delayed.peek().NotBefore.After(now) {
		q.ready.push(q.delayed.pop())
	}
}

// signal wakes the dispatcher without blocking.
func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) removeWaiter(w chan struct{}) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, other := range q.waiters {
		if other == w {
			q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
			return
		}
	}
}
