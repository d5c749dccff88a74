package aocontext

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// All fans out f over each item (preserving input order), collecting
// their Futures' results into a single Future[[]R]. The first failure
// (either from f itself or from one of the returned futures) aborts the
// whole operation: ctx is closed to cancel peers still running, and the
// collective future settles with that failure.
func All[T, R any](ctx *AOContext, f func(*AOContext, T) (*Future[R], error), items []T) (*Future[[]R], error) {
	promise := NewPromise[[]R]()
	result, _ := promise.Future()

	n := len(items)
	if n == 0 {
		_ = promise.SetValue(nil)
		return result, nil
	}

	results := make([]R, n)
	var mu sync.Mutex
	remaining := n
	var failed atomic.Bool

	abort := func(err error) {
		if failed.CompareAndSwap(false, true) {
			ctx.Close()
			_ = promise.SetException(err)
		}
	}

	for i, item := range items {
		i := i
		fut, err := f(ctx, item)
		if err != nil {
			abort(err)
			continue
		}
		fut.state.InstallCallback(func(bool) {
			v, ferr := fut.state.Result()
			if ferr != nil {
				abort(ferr)
				return
			}
			mu.Lock()
			results[i] = v
			remaining--
			done := remaining == 0
			mu.Unlock()
			if done && !failed.Load() {
				_ = promise.SetValue(results)
			}
		})
	}

	return result, nil
}

// Pair, Triple and Quad back the fixed-arity tuple combinators: Go
// generics can't express the heterogeneous variadic tuple the C++ all()
// overload takes, so All2/All3/All4 cover its real use sites instead.
type Pair[A, B any] struct {
	First  A
	Second B
}

type Triple[A, B, C any] struct {
	First  A
	Second B
	Third  C
}

type Quad[A, B, C, D any] struct {
	First  A
	Second B
	Third  C
	Fourth D
}

// All2 runs two independent producer functions concurrently on an
// errgroup and settles a future with both results once both have
// returned. If either fails, the future settles with the first error
// returned, again only after both have returned, and ctx is closed; the
// producers receive no cancellation signal, so a failing producer does
// not stop the other.
func All2[A, B any](ctx *AOContext, fa func() (A, error), fb func() (B, error)) (*Future[Pair[A, B]], error) {
	promise := NewPromise[Pair[A, B]]()
	result, _ := promise.Future()

	var a A
	var b B
	g, _ := errgroup.WithContext(context.Background())
	g.Go(func() (err error) { a, err = fa(); return })
	g.Go(func() (err error) { b, err = fb(); return })

	go func() {
		if err := g.Wait(); err != nil {
			ctx.Close()
			_ = promise.SetException(err)
			return
		}
		_ = promise.SetValue(Pair[A, B]{First: a, Second: b})
	}()

	return result, nil
}

// All3 is All2 for three producers.
func All3[A, B, C any](ctx *AOContext, fa func() (A, error), fb func() (B, error), fc func() (C, error)) (*Future[Triple[A, B, C]], error) {
	promise := NewPromise[Triple[A, B, C]]()
	result, _ := promise.Future()

	var a A
	var b B
	var c C
	g, _ := errgroup.WithContext(context.Background())
	g.Go(func() (err error) { a, err = fa(); return })
	g.Go(func() (err error) { b, err = fb(); return })
	g.Go(func() (err error) { c, err = fc(); return })

	go func() {
		if err := g.Wait(); err != nil {
			ctx.Close()
			_ = promise.SetException(err)
			return
		}
		_ = promise.SetValue(Triple[A, B, C]{First: a, Second: b, Third: c})
	}()

	return result, nil
}

// All4 is All2 for four producers.
func All4[A, B, C, D any](ctx *AOContext, fa func() (A, error), fb func() (B, error), fc func() (C, error), fd func() (D, error)) (*Future[Quad[A, B, C, D]], error) {
	promise := NewPromise[Quad[A, B, C, D]]()
	result, _ := promise.Future()

	var a A
	var b B
	var c C
	var d D
	g, _ := errgroup.WithContext(context.Background())
	g.Go(func() (err error) { a, err = fa(); return })
	g.Go(func() (err error) { b, err = fb(); return })
	g.Go(func() (err error) { c, err = fc(); return })
	g.Go(func() (err error) { d, err = fd(); return })

	go func() {
		if err := g.Wait(); err != nil {
			ctx.Close()
			_ = promise.SetException(err)
			return
		}
		_ = promise.SetValue(Quad[A, B, C, D]{First: a, Second: b, Third: c, Fourth: d})
	}()

	return result, nil
}

// CallQueue serializes calls onto a context's strand, preserving push
// order, without letting one call's failure stall calls pushed after it.
// It maintains an internal Future[struct{}] tail: each push chains off
// the previous tail and produces a fresh one, regardless of whether the
// pushed call itself succeeds.
type CallQueue struct {
	mu   sync.Mutex
	tail *Future[struct{}]
}

// NewCallQueue creates an empty queue, ready for its first push.
func NewCallQueue() *CallQueue {
	p := NewPromise[struct{}]()
	f, _ := p.Future()
	_ = p.SetValue(struct{}{})
	return &CallQueue{tail: f}
}

// CallQueuePush appends f to q, to run on ctx once every call pushed
// before it has finished (successfully or not). Returns a future for f's
// own result.
func CallQueuePush[R any](q *CallQueue, ctx *AOContext, f func() (R, error)) *Future[R] {
	resultPromise := NewPromise[R]()
	result, _ := resultPromise.Future()

	newTailPromise := NewPromise[struct{}]()
	newTail, _ := newTailPromise.Future()

	q.mu.Lock()
	prevTail := q.tail
	q.tail = newTail
	q.mu.Unlock()

	prevTail.state.InstallCallback(func(bool) {
		run := func() {
			v, err := f()
			if err != nil {
				_ = resultPromise.SetException(err)
			} else {
				_ = resultPromise.SetValue(v)
			}
			_ = newTailPromise.SetValue(struct{}{})
		}
		if err := ctx.Exec(run, Queued); err != nil {
			_ = resultPromise.SetException(err)
			_ = newTailPromise.SetValue(struct{}{})
		}
	})

	return result
}

// MakeSafeCallback returns a callable that, when invoked from any
// goroutine, posts f(v) to ctx's strand. If ctx is already closed, the
// returned callback fails synchronously with ErrContextClosed instead of
// running f.
func MakeSafeCallback[T any](ctx *AOContext, f func(T)) func(T) error {
	return func(v T) error {
		return ctx.Exec(func() { f(v) }, Queued)
	}
}

// Notifier is a Consumer[T] that forwards consumed values to a handler
// running on an AOContext's strand, via a safe callback. Consume returns
// ErrContextClosed once the context has closed, instead of blocking or
// silently dropping the value.
type Notifier[T any] struct {
	safe func(T) error
}

// NewNotifier creates a Notifier posting consumed values to handler on
// ctx's strand.
func NewNotifier[T any](ctx *AOContext, handler func(T)) *Notifier[T] {
	return &Notifier[T]{safe: MakeSafeCallback(ctx, handler)}
}

// Consume implements Consumer[T].
func (n *Notifier[T]) Consume(v T) error {
	return n.safe(v)
}

var _ Consumer[int] = (*Notifier[int])(nil)
