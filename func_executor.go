package aocontext

import "sync/atomic"

// FuncExecutor adapts an arbitrary dispatcher — any func(func()) that hands
// a callback off to be run later, such as a GUI toolkit's "post to main
// thread" call or a test harness's own queue — into an Executor, so an
// AOContext tree can be embedded in a host application's existing event
// loop instead of requiring one of this package's own executors.
//
// Mirrors nhope::asyncs::FuncExecutor: work submitted after Stop is called
// fails fast with ErrExecutorClosed instead of reaching a dispatcher that
// may no longer be pumped.
type FuncExecutor struct {
	dispatch func(func())
	logger   *Logger
	stopped  atomic.Bool
}

// NewFuncExecutor wraps dispatch, a function that schedules its argument to
// run on whatever loop the host application already drives. dispatch is
// called synchronously from Exec; it must not block waiting on that loop if
// Exec itself may be called from the loop (doing so would deadlock).
func NewFuncExecutor(dispatch func(func()), opts ...PoolOption) *FuncExecutor {
	cfg := resolvePoolOptions(opts)
	return &FuncExecutor{dispatch: dispatch, logger: cfg.logger}
}

// Exec hands work to the wrapped dispatcher. mode is accepted for interface
// compatibility but otherwise ignored: whether submission runs inline is
// entirely up to the host dispatcher, which this type has no way to query.
func (e *FuncExecutor) Exec(work func(), mode ExecMode) error {
	if e.stopped.Load() {
		return ErrExecutorClosed
	}
	e.dispatch(func() {
		if e.stopped.Load() {
			return
		}
		e.runSafely(work)
	})
	return nil
}

func (e *FuncExecutor) runSafely(work func()) {
	defer func() {
		if r := recover(); r != nil {
			logPanic(e.logger, "func-executor", r)
		}
	}()
	work()
}

// IoCtx always fails: FuncExecutor has no associated reactor.
func (e *FuncExecutor) IoCtx() (*IoReactor, error) {
	return nil, ErrNoIoReactor
}

// Stop marks the executor closed: work already handed to the host
// dispatcher that hasn't run yet is skipped when it does run, and any
// future Exec call fails immediately with ErrExecutorClosed rather than
// reaching the dispatcher at all. Safe to call more than once.
func (e *FuncExecutor) Stop() {
	e.stopped.Store(true)
}
