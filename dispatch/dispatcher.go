package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/soundpipe/soundpipe"
	"github.com/soundpipe/soundpipe/job"
	"github.com/soundpipe/soundpipe/queue"
	"github.com/soundpipe/soundpipe/tracker"
	"github.com/soundpipe/soundpipe/worker"
)

// Dispatcher is the single goroutine that drains the admission queue.
// It wakes on new admissions, on freed concurrency slots, and on retry
// delays expiring, then pops entries the caps manager allows, leases them,
// and hands the tasks to the worker pool.
type Dispatcher struct {
	queue   *queue.Queue
	caps    *Caps
	tracker *tracker.Tracker
	pool    *worker.Pool
	logger  *slog.Logger
	clock   func() time.Time

	// kick wakes the loop after an execution releases its slots.
	kick chan struct{}

	stopCh chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithClock overrides the dispatcher's time source.
func WithClock(clock func() time.Time) Option {
	return func(d *Dispatcher) { d.clock = clock }
}

// New creates a dispatcher draining q onto pool.
func New(q *queue.Queue, caps *Caps, trk *tracker.Tracker, pool *worker.Pool, logger *slog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		queue:   q,
		caps:    caps,
		tracker: trk,
		pool:    pool,
		logger:  logger,
		clock:   func() time.Time { return time.Now().UTC() },
		kick:    make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// TaskDone releases the slots held by a finished execution and wakes the
// dispatch loop. Wire it as the worker pool's done callback.
func (d *Dispatcher) TaskDone(task job.Task) {
	d.caps.Release(task.JobID)
	select {
	case d.kick <- struct{}{}:
	default:
	}
}

// Start launches the dispatch loop. It returns immediately.
func (d *Dispatcher) Start(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return nil
	}
	d.running = true

	d.wg.Add(1)
	go d.loop()
	return nil
}

// Stop signals the dispatch loop to exit and waits for it.
func (d *Dispatcher) Stop(_ context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	d.mu.Unlock()

	close(d.stopCh)
	d.wg.Wait()
	return nil
}

func (d *Dispatcher) loop() {
	defer d.wg.Done()

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		d.drain()

		// Arm the timer for whichever comes first: the next delayed
		// entry, or a tier limiter refilling after it rejected one.
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		wake, ok := d.queue.NextWake()
		if permit, pok := d.caps.NextPermit(); pok && (!ok || permit.Before(wake)) {
			wake, ok = permit, true
		}
		if ok {
			delay := time.Until(wake)
			if delay < 0 {
				delay = 0
			}
			timer.Reset(delay)
		}

		select {
		case <-d.stopCh:
			return
		case <-d.queue.C():
		case <-d.kick:
		case <-timer.C:
		}
	}
}

// drain pops and dispatches entries until the queue is empty or every
// remaining entry is blocked on a concurrency cap.
func (d *Dispatcher) drain() {
	ctx := context.Background()
	for {
		select {
		case <-d.stopCh:
			return
		default:
		}

		e, ok := d.queue.Pop(d.clock(), d.caps.TryAcquire)
		if !ok {
			return
		}

		task, err := d.tracker.Lease(ctx, e.JobID, e.ItemID)
		if err != nil {
			d.caps.Release(e.JobID)
			if errors.Is(err, soundpipe.ErrJobNotFound) {
				// Admission reserves queue slots before the record write
				// lands, so a freshly pushed entry can beat its record
				// here. Put it back and retry shortly.
				d.queue.Requeue(e, d.clock().Add(10*time.Millisecond))
				continue
			}
			// The job settled or was cancelled after this entry was
			// queued. Drop the entry and move on.
			if !errors.Is(err, soundpipe.ErrJobTerminal) && !errors.Is(err, soundpipe.ErrInvalidState) {
				d.logger.Warn("lease failed",
					slog.String("job_id", e.JobID.String()),
					slog.String("item_id", e.ItemID.String()),
					slog.String("error", err.Error()),
				)
			}
			continue
		}

		if err := d.pool.Submit(ctx, task); err != nil {
			d.caps.Release(e.JobID)
			d.logger.Warn("task handoff failed",
				slog.String("item_id", e.ItemID.String()),
				slog.String("error", err.Error()),
			)
			return
		}
	}
}
