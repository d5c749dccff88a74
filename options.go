package aocontext

// This file follows the teacher's options.go pattern: a private options
// struct per configurable type, a public Option interface implemented by a
// function type, and a resolve function applying defaults.

// --- ThreadPoolExecutor options ---

type poolOptions struct {
	logger   *Logger
	queueCap int
}

// PoolOption configures a ThreadPoolExecutor.
type PoolOption interface {
	applyPool(*poolOptions)
}

type poolOptionFunc func(*poolOptions)

func (f poolOptionFunc) applyPool(o *poolOptions) { f(o) }

// WithPoolLogger overrides the structured logger used by this executor to
// report swallowed panics from submitted work. Defaults to the package
// global logger (see SetLogger).
func WithPoolLogger(logger *Logger) PoolOption {
	return poolOptionFunc(func(o *poolOptions) { o.logger = logger })
}

// WithPoolQueueCapacity sets the buffered channel capacity of a
// ThreadExecutor's work queue. Zero (the default) means unbuffered: Exec
// blocks until the worker is free to accept the item. ThreadPoolExecutor
// and the other types taking a PoolOption ignore it.
func WithPoolQueueCapacity(n int) PoolOption {
	return poolOptionFunc(func(o *poolOptions) { o.queueCap = n })
}

func resolvePoolOptions(opts []PoolOption) *poolOptions {
	cfg := &poolOptions{logger: currentLogger()}
	for _, o := range opts {
		if o != nil {
			o.applyPool(cfg)
		}
	}
	return cfg
}

// --- AOContext root options ---

type contextOptions struct {
	logger *Logger
}

// ContextOption configures a root AOContext created with NewRootContext.
type ContextOption interface {
	applyContext(*contextOptions)
}

type contextOptionFunc func(*contextOptions)

func (f contextOptionFunc) applyContext(o *contextOptions) { f(o) }

// WithContextLogger overrides the structured logger used by this context
// and its descendants to report swallowed close-handler panics.
func WithContextLogger(logger *Logger) ContextOption {
	return contextOptionFunc(func(o *contextOptions) { o.logger = logger })
}

func resolveContextOptions(opts []ContextOption) *contextOptions {
	cfg := &contextOptions{logger: currentLogger()}
	for _, o := range opts {
		if o != nil {
			o.applyContext(cfg)
		}
	}
	return cfg
}

// --- Scheduler options ---

type schedulerOptions struct {
	logger *Logger
}

// SchedulerOption configures a Scheduler created with NewScheduler.
type SchedulerOption interface {
	applyScheduler(*schedulerOptions)
}

type schedulerOptionFunc func(*schedulerOptions)

func (f schedulerOptionFunc) applyScheduler(o *schedulerOptions) { f(o) }

// WithSchedulerLogger overrides the structured logger used by the
// scheduler's internal AOContext.
func WithSchedulerLogger(logger *Logger) SchedulerOption {
	return schedulerOptionFunc(func(o *schedulerOptions) { o.logger = logger })
}

func resolveSchedulerOptions(opts []SchedulerOption) *schedulerOptions {
	cfg := &schedulerOptions{logger: currentLogger()}
	for _, o := range opts {
		if o != nil {
			o.applyScheduler(cfg)
		}
	}
	return cfg
}

// --- StateObserver options ---

type observerOptions struct {
	equal func(a, b any) bool
}

// ObserverOption configures a StateObserver created with NewStateObserver.
type ObserverOption interface {
	applyObserver(*observerOptions)
}

type observerOptionFunc func(*observerOptions)

func (f observerOptionFunc) applyObserver(o *observerOptions) { f(o) }

// WithEqual overrides the equality function StateObserver uses to decide
// whether a newly polled value differs from the last observed value.
// Defaults to reflect.DeepEqual.
func WithEqual(equal func(a, b any) bool) ObserverOption {
	return observerOptionFunc(func(o *observerOptions) { o.equal = equal })
}

func resolveObserverOptions(opts []ObserverOption) *observerOptions {
	cfg := &observerOptions{equal: deepEqual}
	for _, o := range opts {
		if o != nil {
			o.applyObserver(cfg)
		}
	}
	return cfg
}
