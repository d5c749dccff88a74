package aocontext

import (
	"runtime"
	"sync/atomic"
	"time"
)

// Promise is the producer side of a Future[T]. Exactly one of SetValue or
// SetException should be called; calling either a second time, or after
// the other, returns ErrPromiseAlreadySatisfied.
type Promise[T any] struct {
	state       *FutureState[T]
	settled     atomic.Bool
	finalizerOn bool
}

// NewPromise creates a fresh, unsatisfied promise. A finalizer is armed so
// that if the Promise is garbage collected without ever being settled,
// its Future observes ErrBrokenPromise instead of hanging forever — the
// same best-effort, non-deterministic safety net the standard library
// uses for unclosed *os.File and net.Conn, not a substitute for calling
// SetValue/SetException explicitly.
func NewPromise[T any]() *Promise[T] {
	p := &Promise[T]{state: NewFutureState[T]()}
	runtime.SetFinalizer(p, (*Promise[T]).finalize)
	return p
}

func (p *Promise[T]) finalize() {
	if p.settled.CompareAndSwap(false, true) {
		p.state.SetException(ErrBrokenPromise)
	}
}

// SetValue settles the promise with a value.
func (p *Promise[T]) SetValue(v T) error {
	if !p.settled.CompareAndSwap(false, true) {
		return ErrPromiseAlreadySatisfied
	}
	runtime.SetFinalizer(p, nil)
	p.state.SetValue(v)
	return nil
}

// SetException settles the promise with an error.
func (p *Promise[T]) SetException(err error) error {
	if !p.settled.CompareAndSwap(false, true) {
		return ErrPromiseAlreadySatisfied
	}
	runtime.SetFinalizer(p, nil)
	p.state.SetException(err)
	return nil
}

// Future returns the Future handle for this promise. Fails with
// ErrFutureAlreadyRetrieved if called more than once.
func (p *Promise[T]) Future() (*Future[T], error) {
	if !p.state.MarkRetrieved() {
		return nil, ErrFutureAlreadyRetrieved
	}
	return &Future[T]{state: p.state}, nil
}

// Future is the consumer-side handle to a FutureState. The zero value is
// invalid; Future instances are produced by Promise.Future, All/All2/..,
// Then/Fail, or Unwrap.
type Future[T any] struct {
	state      *FutureState[T]
	waitFuture atomic.Bool
}

func (f *Future[T]) valid() bool {
	return f != nil && f.state != nil
}

// IsReady reports whether the result has landed.
func (f *Future[T]) IsReady() bool {
	return f.valid() && f.state.IsReady()
}

// Get blocks until the future is ready and returns its result, consuming
// the future (marking it a wait-future: no further Then/Fail may attach).
func (f *Future[T]) Get() (T, error) {
	var zero T
	if !f.valid() {
		return zero, ErrFutureNoState
	}
	f.waitFuture.Store(true)
	done := make(chan struct{})
	f.state.InstallCallback(func(bool) { close(done) })
	<-done
	return f.state.Result()
}

// Wait blocks until the future is ready, without returning the result.
// Marks the future a wait-future.
func (f *Future[T]) Wait() error {
	if !f.valid() {
		return ErrFutureNoState
	}
	f.waitFuture.Store(true)
	done := make(chan struct{})
	f.state.InstallCallback(func(bool) { close(done) })
	<-done
	return nil
}

// WaitFor blocks up to d for the future to become ready, returning
// whether it did. Marks the future a wait-future regardless of outcome.
func (f *Future[T]) WaitFor(d time.Duration) (bool, error) {
	if !f.valid() {
		return false, ErrFutureNoState
	}
	f.waitFuture.Store(true)
	done := make(chan struct{})
	f.state.InstallCallback(func(bool) { close(done) })
	select {
	case <-done:
		return true, nil
	case <-time.After(d):
		return false, nil
	}
}

// Then attaches a context-bound continuation: fn runs on ctx's strand
// once f is ready, and its result settles the returned future (a U that
// is itself a future is not unwrapped; see Unwrap).
// If ctx closes before f settles (or before the continuation gets to
// run), the returned future settles with a CancelledError instead.
// Returns ErrChainAfterWait if Wait/WaitFor/Get was already called on f,
// and ErrFutureNoState if f is invalid.
func Then[T, U any](f *Future[T], ctx *AOContext, mode ExecMode, fn func(T) (U, error)) (*Future[U], error) {
	if !f.valid() {
		return nil, ErrFutureNoState
	}
	if f.waitFuture.Load() {
		return nil, ErrChainAfterWait
	}

	promise := NewPromise[U]()
	next, _ := promise.Future()

	var closeNode *closeHandlerNode
	if ctx != nil {
		node, err := ctx.AddCloseHandler(func() {
			_ = promise.SetException(&CancelledError{Message: "context closed before continuation ran"})
		})
		if err != nil {
			_ = promise.SetException(&CancelledError{Message: "context already closed"})
			return next, nil
		}
		closeNode = node
	}

	f.state.InstallCallback(func(resultAlreadyReady bool) {
		run := func() {
			if closeNode != nil {
				ctx.RemoveCloseHandler(closeNode)
			}
			settleThen(promise, f.state, fn)
		}
		if ctx == nil {
			run()
			return
		}
		m := mode
		if resultAlreadyReady && mode == Queued {
			m = InlineIfPossible
		}
		_ = ctx.Exec(run, m)
	})

	return next, nil
}

// ThenFree attaches a free-standing continuation, running synchronously
// on whatever goroutine settles f (no executor hop).
func ThenFree[T, U any](f *Future[T], fn func(T) (U, error)) (*Future[U], error) {
	if !f.valid() {
		return nil, ErrFutureNoState
	}
	if f.waitFuture.Load() {
		return nil, ErrChainAfterWait
	}

	promise := NewPromise[U]()
	next, _ := promise.Future()
	f.state.InstallCallback(func(bool) {
		settleThen(promise, f.state, fn)
	})
	return next, nil
}

func settleThen[T, U any](promise *Promise[U], state *FutureState[T], fn func(T) (U, error)) {
	val, err := state.Result()
	if err != nil {
		_ = promise.SetException(err)
		return
	}
	out, ferr := fn(val)
	if ferr != nil {
		_ = promise.SetException(ferr)
		return
	}
	_ = promise.SetValue(out)
}

// Fail attaches a context-bound error handler: if f settles with an
// error, fn runs on ctx's strand and may recover a value (or produce a
// different error); if f settles with a value, it passes through
// unchanged. Same context-close-cancellation and wait-future rules as
// Then.
func Fail[T any](f *Future[T], ctx *AOContext, mode ExecMode, fn func(error) (T, error)) (*Future[T], error) {
	if !f.valid() {
		return nil, ErrFutureNoState
	}
	if f.waitFuture.Load() {
		return nil, ErrChainAfterWait
	}

	promise := NewPromise[T]()
	next, _ := promise.Future()

	var closeNode *closeHandlerNode
	if ctx != nil {
		node, err := ctx.AddCloseHandler(func() {
			_ = promise.SetException(&CancelledError{Message: "context closed before continuation ran"})
		})
		if err != nil {
			_ = promise.SetException(&CancelledError{Message: "context already closed"})
			return next, nil
		}
		closeNode = node
	}

	f.state.InstallCallback(func(resultAlreadyReady bool) {
		run := func() {
			if closeNode != nil {
				ctx.RemoveCloseHandler(closeNode)
			}
			settleFail(promise, f.state, fn)
		}
		if ctx == nil {
			run()
			return
		}
		m := mode
		if resultAlreadyReady && mode == Queued {
			m = InlineIfPossible
		}
		_ = ctx.Exec(run, m)
	})

	return next, nil
}

// FailFree attaches a free-standing error handler.
func FailFree[T any](f *Future[T], fn func(error) (T, error)) (*Future[T], error) {
	if !f.valid() {
		return nil, ErrFutureNoState
	}
	if f.waitFuture.Load() {
		return nil, ErrChainAfterWait
	}

	promise := NewPromise[T]()
	next, _ := promise.Future()
	f.state.InstallCallback(func(bool) {
		settleFail(promise, f.state, fn)
	})
	return next, nil
}

func settleFail[T any](promise *Promise[T], state *FutureState[T], fn func(error) (T, error)) {
	val, err := state.Result()
	if err == nil {
		_ = promise.SetValue(val)
		return
	}
	recovered, ferr := fn(err)
	if ferr != nil {
		_ = promise.SetException(ferr)
		return
	}
	_ = promise.SetValue(recovered)
}

// Unwrap collapses a Future[*Future[T]] into a Future[T] by chaining the
// outer future's completion to installing a callback on the inner one.
func Unwrap[T any](f *Future[*Future[T]]) *Future[T] {
	promise := NewPromise[T]()
	next, _ := promise.Future()
	if !f.valid() {
		_ = promise.SetException(ErrFutureNoState)
		return next
	}

	f.state.InstallCallback(func(bool) {
		inner, err := f.state.Result()
		if err != nil {
			_ = promise.SetException(err)
			return
		}
		if !inner.valid() {
			_ = promise.SetException(ErrFutureNoState)
			return
		}
		inner.state.InstallCallback(func(bool) {
			v, ierr := inner.state.Result()
			if ierr != nil {
				_ = promise.SetException(ierr)
				return
			}
			_ = promise.SetValue(v)
		})
	})

	return next
}
