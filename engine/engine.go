package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/arkstor/coreplane"
	"github.com/arkstor/coreplane/event"
	"github.com/arkstor/coreplane/ext"
	"github.com/arkstor/coreplane/job"
	"github.com/arkstor/coreplane/middleware"
	"github.com/arkstor/coreplane/scheduler"
	"github.com/arkstor/coreplane/store"
	"github.com/arkstor/coreplane/worker"
)

// Engine owns every subsystem and exposes the method dispatch
// boundary.
type Engine struct {
	logger *slog.Logger
	cfg    coreplane.Config

	bus      *event.Bus
	exts     *ext.Registry
	registry *job.Registry
	pool     *worker.Pool
	proc     *worker.ProcessRunner
	sched    *scheduler.Scheduler
	chain    middleware.Middleware

	extraMws []middleware.Middleware
	extraExt []ext.Extension

	mu       sync.Mutex
	services map[string]*ServiceDef
	order    []string
	limiters map[string]*rate.Limiter
	started  bool

	periodicCtx    context.Context
	periodicCancel context.CancelFunc
	periodicWG     sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtension registers a lifecycle extension.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) { eng.extraExt = append(eng.extraExt, e) }
}

// WithMiddleware appends middleware to the dispatch chain, after the
// built-in stack.
func WithMiddleware(m middleware.Middleware) Option {
	return func(eng *Engine) { eng.extraMws = append(eng.extraMws, m) }
}

// New builds an engine from cfg. The builtin core service is
// registered before New returns; Start begins periodic scheduling.
func New(logger *slog.Logger, cfg coreplane.Config, opts ...Option) (*Engine, error) {
	eng := &Engine{
		logger:   logger,
		cfg:      cfg,
		registry: job.NewRegistry(),
		services: make(map[string]*ServiceDef),
		limiters: make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(eng)
	}

	eng.bus = event.NewBus(logger, cfg.EventBufferSize)
	eng.exts = ext.NewRegistry(logger)
	for _, e := range eng.extraExt {
		eng.exts.Register(e)
	}

	// Built-in stack: recover → tracing → metrics → logging → timeout,
	// then whatever the caller appended.
	mws := []middleware.Middleware{
		middleware.Recover(logger),
		middleware.Tracing(),
		middleware.Metrics(),
		middleware.Logging(logger),
		middleware.Timeout(logger),
	}
	mws = append(mws, eng.extraMws...)
	eng.chain = middleware.Chain(mws...)

	eng.pool = worker.NewPool(logger, worker.WithPoolSize(cfg.ThreadPoolSize))
	if cfg.ProcessWorkerPath != "" {
		eng.proc = worker.NewProcessRunner(cfg.ProcessWorkerPath, logger)
	}
	eng.sched = scheduler.New(logger, eng.bus, eng.exts, eng.pool, eng.proc,
		scheduler.WithMiddleware(eng.chain),
		scheduler.WithLogDir(cfg.JobLogDir),
	)

	if err := eng.RegisterService(coreService(eng)); err != nil {
		return nil, fmt.Errorf("register core service: %w", err)
	}
	return eng, nil
}

// RegisterService adds a service and all its methods. Entry-backed
// services get their generated query/config methods alongside the
// declared ones. Duplicate service or method names fail immediately.
func (eng *Engine) RegisterService(def *ServiceDef) error {
	if def.Name == "" {
		return fmt.Errorf("service has no name")
	}

	eng.mu.Lock()
	defer eng.mu.Unlock()
	if _, dup := eng.services[def.Name]; dup {
		return fmt.Errorf("%s: %w", def.Name, coreplane.ErrServiceExists)
	}

	methods := append(generatedMethods(def), def.Methods...)
	registered := make([]string, 0, len(methods))
	for _, m := range methods {
		full := *m
		if m.Name == "" {
			return fmt.Errorf("service %s has a method with no name", def.Name)
		}
		full.Name = def.Name + "." + m.Name
		if err := eng.registry.Register(&full); err != nil {
			// Startup fail-fast: roll the service's methods back out so
			// a collision leaves the registry as it was.
			for _, name := range registered {
				eng.registry.Unregister(name)
			}
			return err
		}
		registered = append(registered, full.Name)
		if full.ThrottleRate > 0 {
			burst := full.ThrottleBurst
			if burst < 1 {
				burst = 1
			}
			eng.limiters[full.Name] = rate.NewLimiter(rate.Limit(full.ThrottleRate), burst)
		}
	}

	if len(def.Dependencies) > 0 {
		registrar, ok := def.CRUD.(interface {
			RegisterDependency(ref store.Backref) error
		})
		if !ok {
			return fmt.Errorf("service %s declares dependencies but its store cannot register them", def.Name)
		}
		for _, ref := range def.Dependencies {
			if err := registrar.RegisterDependency(ref); err != nil {
				return err
			}
		}
	}

	eng.services[def.Name] = def
	eng.order = append(eng.order, def.Name)
	eng.logger.Info("service registered",
		slog.String("service", def.Name),
		slog.String("type", def.Kind()),
		slog.Int("methods", len(methods)),
	)
	return nil
}

// Call dispatches a method by its full dotted name. Direct methods run
// through the middleware chain and return their result; job-wrapped
// methods are submitted to the scheduler and return the job id
// immediately.
func (eng *Engine) Call(ctx context.Context, name string, args ...any) (any, error) {
	m, err := eng.registry.Get(name)
	if err != nil {
		return nil, err
	}
	if err := eng.throttle(ctx, name); err != nil {
		return nil, err
	}

	if m.JobWrapped() {
		j, err := eng.sched.Submit(ctx, m, args, nil)
		if err != nil {
			return nil, err
		}
		return j.ID.String(), nil
	}

	call := &middleware.Call{Method: name, Args: args}
	return eng.chain(ctx, call, func(ctx context.Context) (any, error) {
		return m.Handler(ctx, nil, args)
	})
}

// CallJob dispatches a job-wrapped method with pipes attached and
// returns the job itself rather than its id.
func (eng *Engine) CallJob(ctx context.Context, name string, args []any, pipes *job.Pipes) (*job.Job, error) {
	m, err := eng.registry.Get(name)
	if err != nil {
		return nil, err
	}
	if err := eng.throttle(ctx, name); err != nil {
		return nil, err
	}
	return eng.sched.Submit(ctx, m, args, pipes)
}

// throttle blocks until the method's rate limiter admits the call.
// Methods without a declared rate pass through untouched.
func (eng *Engine) throttle(ctx context.Context, name string) error {
	eng.mu.Lock()
	limiter := eng.limiters[name]
	eng.mu.Unlock()
	if limiter == nil {
		return nil
	}
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("throttle %s: %w", name, err)
	}
	return nil
}

// Start launches the worker pool and the periodic method schedulers.
func (eng *Engine) Start(ctx context.Context) error {
	eng.mu.Lock()
	if eng.started {
		eng.mu.Unlock()
		return fmt.Errorf("engine already started")
	}
	eng.started = true
	eng.periodicCtx, eng.periodicCancel = context.WithCancel(context.Background())
	eng.mu.Unlock()

	eng.pool.Start()
	eng.startPeriodics()
	eng.logger.Info("engine started",
		slog.Int("services", len(eng.order)),
		slog.Int("methods", eng.registry.Len()),
	)
	return nil
}

// Stop shuts the engine down: periodics first, then the scheduler
// (bounded by ShutdownTimeout), then the pool, then extension
// shutdown hooks.
func (eng *Engine) Stop(ctx context.Context) error {
	eng.mu.Lock()
	if !eng.started {
		eng.mu.Unlock()
		return nil
	}
	eng.started = false
	cancel := eng.periodicCancel
	eng.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	eng.periodicWG.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, eng.cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := eng.sched.Shutdown(shutdownCtx); err != nil {
		eng.logger.Error("scheduler shutdown", slog.String("error", err.Error()))
	}
	if err := eng.pool.Stop(shutdownCtx); err != nil {
		eng.logger.Error("worker pool stop", slog.String("error", err.Error()))
	}
	eng.exts.EmitShutdown(ctx)
	eng.logger.Info("engine stopped")
	return nil
}

// startPeriodics spawns one ticker goroutine per method that declared
// an interval.
func (eng *Engine) startPeriodics() {
	for _, name := range eng.registry.Names() {
		m, err := eng.registry.Get(name)
		if err != nil || m.PeriodicInterval <= 0 {
			continue
		}
		eng.periodicWG.Add(1)
		go eng.runPeriodic(m.Name, m.PeriodicInterval, m.PeriodicRunOnStart)
	}
}

func (eng *Engine) runPeriodic(name string, interval time.Duration, runOnStart bool) {
	defer eng.periodicWG.Done()

	invoke := func() {
		if _, err := eng.Call(eng.periodicCtx, name); err != nil {
			eng.logger.Warn("periodic call failed",
				slog.String("method", name),
				slog.String("error", err.Error()),
			)
		}
	}

	if runOnStart {
		invoke()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-eng.periodicCtx.Done():
			return
		case <-ticker.C:
			invoke()
		}
	}
}

// Bus returns the notification bus.
func (eng *Engine) Bus() *event.Bus { return eng.bus }

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.exts }

// Registry returns the method registry.
func (eng *Engine) Registry() *job.Registry { return eng.registry }

// Scheduler returns the job scheduler.
func (eng *Engine) Scheduler() *scheduler.Scheduler { return eng.sched }

// Services returns the registered service definitions in registration
// order.
func (eng *Engine) Services() []*ServiceDef {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	defs := make([]*ServiceDef, 0, len(eng.order))
	for _, name := range eng.order {
		defs = append(defs, eng.services[name])
	}
	return defs
}
