package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"github.com/soundpipe/soundpipe"
	"github.com/soundpipe/soundpipe/backoff"
	"github.com/soundpipe/soundpipe/dispatch"
	"github.com/soundpipe/soundpipe/hook"
	"github.com/soundpipe/soundpipe/job"
	"github.com/soundpipe/soundpipe/middleware"
	"github.com/soundpipe/soundpipe/queue"
	"github.com/soundpipe/soundpipe/store"
	"github.com/soundpipe/soundpipe/store/memory"
	"github.com/soundpipe/soundpipe/stream"
	"github.com/soundpipe/soundpipe/tracker"
	"github.com/soundpipe/soundpipe/worker"

	"go.opentelemetry.io/otel/metric"
)

// Engine wires the admission queue, dispatcher, worker pool, status
// tracker, event broker, and persistence into one embeddable unit.
// Construct it with New, register processing functions, then Start.
type Engine struct {
	cfg    soundpipe.Config
	logger *slog.Logger

	registry   *job.Registry
	queue      *queue.Queue
	caps       *dispatch.Caps
	hooks      *hook.Registry
	broker     *stream.Broker
	tracker    *tracker.Tracker
	pool       *worker.Pool
	dispatcher *dispatch.Dispatcher

	adapter store.Adapter
	journal *store.Journal
	janitor *cronlib.Cron

	// Build-time knobs collected by options.
	strategy      backoff.Strategy
	maxElapsed    time.Duration
	userHooks     []hook.Hook
	userMW        []middleware.Middleware
	meterProvider metric.MeterProvider
	brokerOpts    []stream.BrokerOption
	tierRates     []tierRate

	mu      sync.Mutex
	running bool
	closed  bool
}

type tierRate struct {
	priority int
	limit    rate.Limit
	burst    int
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithAdapter attaches a persistence adapter. Lifecycle events are
// journaled through it asynchronously and active jobs are rehydrated
// from it on Start. Without an adapter the engine is purely in-memory.
func WithAdapter(a store.Adapter) Option {
	return func(e *Engine) { e.adapter = a }
}

// WithHooks registers additional lifecycle hooks.
func WithHooks(hooks ...hook.Hook) Option {
	return func(e *Engine) { e.userHooks = append(e.userHooks, hooks...) }
}

// WithMiddleware appends middleware to the default execution chain
// (recover, metrics, logging, timeout). Appended middleware runs
// innermost, closest to the processing function.
func WithMiddleware(mw ...middleware.Middleware) Option {
	return func(e *Engine) { e.userMW = append(e.userMW, mw...) }
}

// WithStrategy overrides the retry delay strategy. The default is
// full-jitter exponential backoff.
func WithStrategy(s backoff.Strategy) Option {
	return func(e *Engine) { e.strategy = s }
}

// WithMaxElapsed settles recoverable failures as terminal once a job has
// been in flight longer than d, regardless of remaining attempts.
func WithMaxElapsed(d time.Duration) Option {
	return func(e *Engine) { e.maxElapsed = d }
}

// WithMeterProvider routes execution metrics to the given provider
// instead of the global one.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(e *Engine) { e.meterProvider = mp }
}

// WithBrokerOptions configures the event stream broker.
func WithBrokerOptions(opts ...stream.BrokerOption) Option {
	return func(e *Engine) { e.brokerOpts = append(e.brokerOpts, opts...) }
}

// WithTierRate limits how fast items of the given priority tier are
// dispatched.
func WithTierRate(priority int, limit rate.Limit, burst int) Option {
	return func(e *Engine) {
		e.tierRates = append(e.tierRates, tierRate{priority, limit, burst})
	}
}

// New builds an engine from the config. A nil logger falls back to
// slog.Default. The engine does no work until Start is called, but
// processing kinds may be registered and jobs submitted immediately.
func New(cfg soundpipe.Config, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = normalize(cfg)

	e := &Engine{
		cfg:      cfg,
		logger:   logger,
		registry: job.NewRegistry(),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.strategy == nil {
		e.strategy = backoff.DefaultStrategy()
	}
	policy := backoff.Policy{
		MaxAttempts: cfg.MaxAttempts,
		Strategy:    e.strategy,
		MaxElapsed:  e.maxElapsed,
	}

	e.queue = queue.New(cfg.QueueCapacity)
	e.caps = dispatch.NewCaps(cfg.GlobalInFlight)
	for _, tr := range e.tierRates {
		e.caps.SetTierRate(tr.priority, tr.limit, tr.burst)
	}

	e.hooks = hook.NewRegistry(logger)
	if e.adapter != nil {
		e.journal = store.NewJournal(e.adapter, logger)
		e.hooks.Register(e.journal)
	}
	e.broker = stream.NewBroker(logger, e.brokerOpts...)
	e.hooks.Register(e.broker)
	e.hooks.Register(&capsReset{caps: e.caps})
	for _, h := range e.userHooks {
		e.hooks.Register(h)
	}

	e.tracker = tracker.New(memory.New(), policy, e.hooks, logger,
		tracker.WithReleaseFunc(e.queue.Free),
		tracker.WithDropFunc(e.queue.RemoveJob),
		tracker.WithRetention(cfg.Retention),
	)

	mws := []middleware.Middleware{middleware.Recover(logger)}
	if e.meterProvider != nil {
		meter := e.meterProvider.Meter("github.com/soundpipe/soundpipe")
		mws = append(mws, middleware.MetricsWithMeter(meter))
	} else {
		mws = append(mws, middleware.Metrics())
	}
	mws = append(mws, middleware.Logging(logger), middleware.Timeout(logger))
	mws = append(mws, e.userMW...)

	exec := worker.NewExecutor(e.registry, e.tracker, e.queue, logger, mws...)
	e.pool = worker.NewPool(exec, logger,
		worker.WithPoolConcurrency(cfg.Workers),
		worker.WithOnDone(func(t job.Task) { e.dispatcher.TaskDone(t) }),
	)
	e.dispatcher = dispatch.New(e.queue, e.caps, e.tracker, e.pool, logger)

	return e
}

// normalize fills config zero values with engine defaults.
func normalize(cfg soundpipe.Config) soundpipe.Config {
	def := soundpipe.DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.GlobalInFlight <= 0 {
		cfg.GlobalInFlight = cfg.Workers
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = def.QueueCapacity
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	if cfg.JanitorSchedule == "" {
		cfg.JanitorSchedule = def.JanitorSchedule
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	return cfg
}

// RegisterFunc binds a processing function to a kind. Submissions of an
// unregistered kind are rejected at admission.
func (e *Engine) RegisterFunc(kind string, fn job.ProcessFunc) {
	e.registry.RegisterFunc(kind, fn)
}

// Registry returns the processor kind registry.
func (e *Engine) Registry() *job.Registry { return e.registry }

// Register binds a typed kind definition to the engine's registry.
func Register[T any](e *Engine, k *job.Kind[T]) {
	job.RegisterKind(e.registry, k)
}

// Start migrates and rehydrates the persistence adapter when one is
// configured, then launches the worker pool, the dispatch loop, and the
// retention janitor.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return soundpipe.ErrEngineClosed
	}
	if e.running {
		return nil
	}

	if e.adapter != nil {
		if err := e.adapter.Migrate(ctx); err != nil {
			return fmt.Errorf("engine: migrate adapter: %w", err)
		}
		if err := e.rehydrate(ctx); err != nil {
			return fmt.Errorf("engine: rehydrate: %w", err)
		}
	}

	e.janitor = cronlib.New()
	if _, err := e.janitor.AddFunc(e.cfg.JanitorSchedule, e.sweep); err != nil {
		return fmt.Errorf("engine: janitor schedule %q: %w", e.cfg.JanitorSchedule, err)
	}

	if err := e.pool.Start(ctx); err != nil {
		return err
	}
	if err := e.dispatcher.Start(ctx); err != nil {
		return err
	}
	e.janitor.Start()

	e.running = true
	e.logger.Info("engine started",
		slog.Int("workers", e.cfg.Workers),
		slog.Int("global_in_flight", e.cfg.GlobalInFlight),
		slog.Int("queue_capacity", e.cfg.QueueCapacity),
		slog.Bool("persistent", e.adapter != nil),
	)
	return nil
}

// Stop shuts the engine down: the dispatch loop exits, workers get up to
// ShutdownTimeout to finish running items, hooks are notified, and the
// adapter is closed. The engine cannot be restarted afterwards.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	wasRunning := e.running
	e.running = false
	e.mu.Unlock()

	if !wasRunning {
		if e.adapter != nil {
			return e.adapter.Close()
		}
		return nil
	}

	e.janitor.Stop()
	if err := e.dispatcher.Stop(ctx); err != nil {
		e.logger.Warn("dispatcher stop", slog.String("error", err.Error()))
	}

	poolCtx, cancel := context.WithTimeout(ctx, e.cfg.ShutdownTimeout)
	defer cancel()
	if err := e.pool.Stop(poolCtx); err != nil {
		e.logger.Warn("worker pool stop", slog.String("error", err.Error()))
	}

	e.hooks.EmitShutdown(ctx)

	if e.adapter != nil {
		if err := e.adapter.Close(); err != nil {
			return fmt.Errorf("engine: close adapter: %w", err)
		}
	}
	e.logger.Info("engine stopped")
	return nil
}

// sweep runs one retention pass: expired terminal jobs are purged from
// the live record store and, when configured, from the adapter.
func (e *Engine) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	purged, err := e.tracker.PurgeExpired(ctx)
	if err != nil {
		e.logger.Warn("retention sweep", slog.String("error", err.Error()))
		return
	}
	if e.adapter != nil {
		n, err := e.adapter.PurgeTerminal(ctx, time.Now().UTC(), e.cfg.Retention)
		if err != nil {
			e.logger.Warn("retention sweep: adapter purge", slog.String("error", err.Error()))
		} else {
			purged += n
		}
	}
	if purged > 0 {
		e.logger.Info("retention sweep", slog.Int("purged", purged))
	}
}

// Stats is a point-in-time snapshot of engine load.
type Stats struct {
	// QueueDepth is the number of entries waiting for dispatch.
	QueueDepth int
	// HeldSlots is the number of admission slots held by items that
	// have not settled yet.
	HeldSlots int
	// InFlight is the number of items currently claiming concurrency
	// slots.
	InFlight int
	// ActiveWorkers is the number of workers executing right now.
	ActiveWorkers int
}

// Stats returns current load counters.
func (e *Engine) Stats() Stats {
	return Stats{
		QueueDepth:    e.queue.Depth(),
		HeldSlots:     e.queue.Held(),
		InFlight:      e.caps.InFlight(),
		ActiveWorkers: e.pool.Active(),
	}
}

// capsReset clears a finished job's concurrency bookkeeping.
type capsReset struct {
	caps *dispatch.Caps
}

func (c *capsReset) Name() string { return "caps-reset" }

func (c *capsReset) OnJobFinished(_ context.Context, j *job.Job) error {
	c.caps.ClearJob(j.ID)
	return nil
}
