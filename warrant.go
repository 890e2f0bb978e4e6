package warrant

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/warrant/action"
	"github.com/xraph/warrant/capability"
	"github.com/xraph/warrant/catalog"
	"github.com/xraph/warrant/clock"
	"github.com/xraph/warrant/economy"
	"github.com/xraph/warrant/plugin"
	"github.com/xraph/warrant/store"
	"github.com/xraph/warrant/sweep"
	"github.com/xraph/warrant/usage"
)

// Warrant is the entitlement lifecycle engine.
type Warrant struct {
	store   store.Store
	catalog catalog.Provider
	economy economy.Provider
	plugins *plugin.Registry
	logger  *slog.Logger
	clock   clock.Clock

	// Collaborators
	rich       capability.RichBackend
	backend    capability.Backend
	dispatcher action.Dispatcher
	quota      action.QuotaProvider

	// Live state
	usage   *usage.Tracker
	coord   *capability.Coordinator
	sweeper *sweep.Scheduler

	// Configuration
	sweepInterval time.Duration
	sweepHooks    []sweep.Hook
	sweepExecutor sweep.Executor
	disableSweep  bool
	skipMigrate   bool

	mu      sync.RWMutex
	started bool
}

// New creates a new Warrant instance. The capability backend is chosen in
// Start; entitlement operations before then return ErrNotStarted.
func New(s store.Store, items catalog.Provider, eco economy.Provider, opts ...Option) *Warrant {
	w := &Warrant{
		store:         s,
		catalog:       items,
		economy:       eco,
		plugins:       plugin.NewRegistry(),
		logger:        slog.Default(),
		clock:         clock.Real(),
		sweepInterval: sweep.DefaultInterval,
		sweepExecutor: sweep.Inline,
	}

	for _, opt := range opts {
		opt(w)
	}

	w.usage = usage.New(s, items, usage.WithLogger(w.logger))
	return w
}

// Option configures a Warrant instance.
type Option func(*Warrant)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Warrant) {
		w.logger = logger
		w.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(w *Warrant) {
		_ = w.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithClock sets the time source for every expiry decision.
func WithClock(c clock.Clock) Option {
	return func(w *Warrant) { w.clock = c }
}

// WithRichBackend offers a durable capability backend. It is used when it
// answers Ping at Start; otherwise the in-process backend is used.
func WithRichBackend(b capability.RichBackend) Option {
	return func(w *Warrant) { w.rich = b }
}

// WithCapabilityBackend forces a backend, bypassing selection.
func WithCapabilityBackend(b capability.Backend) Option {
	return func(w *Warrant) { w.backend = b }
}

// WithDispatcher sets the collaborator that runs one-shot actions.
func WithDispatcher(d action.Dispatcher) Option {
	return func(w *Warrant) { w.dispatcher = d }
}

// WithQuotaProvider sets the collaborator that raises resource limits.
func WithQuotaProvider(q action.QuotaProvider) Option {
	return func(w *Warrant) { w.quota = q }
}

// WithSweepInterval sets the expiry sweep period.
func WithSweepInterval(d time.Duration) Option {
	return func(w *Warrant) { w.sweepInterval = d }
}

// WithSweepHook adds a side effect run when a matching capability expires.
func WithSweepHook(h sweep.Hook) Option {
	return func(w *Warrant) { w.sweepHooks = append(w.sweepHooks, h) }
}

// WithSweepExecutor sets where sweep hook side effects run.
func WithSweepExecutor(e sweep.Executor) Option {
	return func(w *Warrant) { w.sweepExecutor = e }
}

// WithoutSweep disables the scheduled sweep. Sweep can still be called.
func WithoutSweep() Option {
	return func(w *Warrant) { w.disableSweep = true }
}

// WithoutMigrate skips store migration in Start.
func WithoutMigrate() Option {
	return func(w *Warrant) { w.skipMigrate = true }
}

// Start migrates the store, selects the capability backend and starts the
// expiry sweep.
func (w *Warrant) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		return nil
	}

	if !w.skipMigrate {
		if err := w.store.Migrate(ctx); err != nil {
			return fmt.Errorf("%w: %w", ErrMigrationFailed, err)
		}
	}

	backend := w.backend
	if backend == nil {
		backend = capability.Select(ctx, w.rich, w.clock, w.logger)
	}
	w.coord = capability.New(backend,
		capability.WithClock(w.clock),
		capability.WithLogger(w.logger),
		capability.WithDeactivator(w.store),
	)

	sweepOpts := []sweep.Option{
		sweep.WithInterval(w.sweepInterval),
		sweep.WithClock(w.clock),
		sweep.WithLogger(w.logger),
		sweep.WithExecutor(w.sweepExecutor),
		sweep.WithObserver(sweepObserver{w.plugins}),
	}
	for _, h := range w.sweepHooks {
		sweepOpts = append(sweepOpts, sweep.WithHook(h))
	}
	w.sweeper = sweep.New(w.coord, w.store, sweepOpts...)

	if !w.disableSweep {
		if err := w.sweeper.Start(ctx); err != nil {
			return err
		}
	}

	// Initialize plugins
	w.plugins.EmitInit(ctx, w)

	w.started = true
	w.logger.Info("warrant started",
		"rich_backend", w.coord.Rich(),
		"sweep_interval", w.sweeper.Interval(),
		"sweep_enabled", !w.disableSweep,
	)

	return nil
}

// Stop halts the sweep, waiting for an in-flight run, and closes the store.
func (w *Warrant) Stop(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.started {
		return nil
	}
	w.started = false

	var errs MultiError
	errs.Add(w.sweeper.Stop(ctx))

	w.plugins.EmitShutdown(ctx)

	errs.Add(w.store.Close())
	return errs.ErrorOrNil()
}

// ready returns the coordinator once the engine has started.
func (w *Warrant) ready() (*capability.Coordinator, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if !w.started {
		return nil, ErrNotStarted
	}
	return w.coord, nil
}

// Sweep runs one expiry sweep now.
func (w *Warrant) Sweep(ctx context.Context) (sweep.Report, error) {
	if _, err := w.ready(); err != nil {
		return sweep.Report{}, err
	}
	return w.sweeper.Sweep(ctx)
}

// Has reports whether subject holds capability.
func (w *Warrant) Has(ctx context.Context, subject SubjectID, name string) (bool, error) {
	coord, err := w.ready()
	if err != nil {
		return false, err
	}
	return coord.Has(ctx, subject, name)
}

// Coordinator returns the capability coordinator, nil before Start.
func (w *Warrant) Coordinator() *capability.Coordinator {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.coord
}

// Usage returns the consumable-usage tracker.
func (w *Warrant) Usage() *usage.Tracker { return w.usage }

// Store returns the underlying store.
func (w *Warrant) Store() store.Store { return w.store }

// Catalog returns the item catalog.
func (w *Warrant) Catalog() catalog.Provider { return w.catalog }

// Plugins returns the plugin registry.
func (w *Warrant) Plugins() *plugin.Registry { return w.plugins }

// sweepObserver forwards sweep notifications to plugins.
type sweepObserver struct{ plugins *plugin.Registry }

func (o sweepObserver) OnExpired(ctx context.Context, tc capability.TimedCapability) {
	o.plugins.EmitCapabilityExpired(ctx, tc)
}

func (o sweepObserver) OnSweepCompleted(ctx context.Context, r sweep.Report) {
	o.plugins.EmitSweepCompleted(ctx, r)
}
