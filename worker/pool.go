package worker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/soundpipe/soundpipe"
	"github.com/soundpipe/soundpipe/id"
	"github.com/soundpipe/soundpipe/job"
)

// Pool manages a set of concurrent worker goroutines that execute tasks
// handed to them by the dispatcher.
type Pool struct {
	executor    *Executor
	concurrency int
	workerID    id.WorkerID
	logger      *slog.Logger

	// onDone is called after every execution, whatever the outcome. The
	// dispatcher uses it to release concurrency slots and re-arm its loop.
	onDone func(task job.Task)

	tasks  chan job.Task
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool

	active   map[string]context.CancelFunc
	activeMu sync.Mutex
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of concurrent worker goroutines.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithOnDone sets the callback invoked after each task execution.
func WithOnDone(fn func(task job.Task)) PoolOption {
	return func(p *Pool) { p.onDone = fn }
}

// NewPool creates a worker pool.
func NewPool(executor *Executor, logger *slog.Logger, opts ...PoolOption) *Pool {
	p := &Pool{
		executor:    executor,
		concurrency: 10,
		workerID:    id.NewWorkerID(),
		logger:      logger,
		onDone:      func(job.Task) {},
		stopCh:      make(chan struct{}),
		active:      make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.tasks = make(chan job.Task, p.concurrency)
	return p
}

// WorkerID returns the pool's unique worker identifier.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Start launches the worker goroutines. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.concurrency),
	)

	for range p.concurrency {
		p.wg.Add(1)
		go p.workerLoop()
	}

	return nil
}

// Submit hands a task to the pool, blocking until a worker accepts it,
// the pool stops, or ctx is done.
func (p *Pool) Submit(ctx context.Context, task job.Task) error {
	select {
	case p.tasks <- task:
		return nil
	case <-p.stopCh:
		return soundpipe.ErrEngineClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Active returns the number of tasks currently executing.
func (p *Pool) Active() int {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	return len(p.active)
}

// Stop signals all workers to stop and waits for in-flight tasks to finish.
// If the context has a deadline, active attempt contexts are cancelled when
// time runs out; the items report their outcomes cooperatively.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))

	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active attempts")
		p.cancelActive()
		p.wg.Wait()
	}

	return nil
}

// workerLoop is run by each worker goroutine.
func (p *Pool) workerLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		case task := <-p.tasks:
			p.run(task)
		}
	}
}

// run executes one task with a cancellable attempt context.
func (p *Pool) run(task job.Task) {
	ctx, cancel := context.WithCancel(context.Background())
	p.track(task.ItemID.String(), cancel)

	if err := p.executor.Execute(ctx, task); err != nil {
		p.logger.Debug("task execution bookkeeping failed",
			slog.String("job_id", task.JobID.String()),
			slog.String("item_id", task.ItemID.String()),
			slog.String("error", err.Error()),
		)
	}

	p.untrack(task.ItemID.String())
	cancel()

	p.onDone(task)
}

func (p *Pool) track(itemID string, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.active[itemID] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrack(itemID string) {
	p.activeMu.Lock()
	delete(p.active, itemID)
	p.activeMu.Unlock()
}

func (p *Pool) cancelActive() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for itemID, cancel := range p.active {
		p.logger.Warn("cancelling active attempt", slog.String("item_id", itemID))
		cancel()
	}
}
