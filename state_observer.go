package aocontext

import (
	"errors"
	"reflect"
	"sync"
	"time"
)

// deepEqual is the default equality function used by StateObserver,
// overridable via WithEqual for types where reflect.DeepEqual is too
// strict (or too slow) a comparison.
func deepEqual(a, b any) bool {
	return reflect.DeepEqual(a, b)
}

// ObservableState is a snapshot of either a successfully observed value
// or the error that occurred trying to obtain one.
type ObservableState[T any] struct {
	value T
	err   error
}

// HasValue reports whether this snapshot holds a value rather than an
// error.
func (s ObservableState[T]) HasValue() bool { return s.err == nil }

// Err returns the held error, or nil if this snapshot holds a value.
func (s ObservableState[T]) Err() error { return s.err }

// Value returns the held value and error; Value's T zero value is
// returned alongside a non-nil Err().
func (s ObservableState[T]) Value() (T, error) { return s.value, s.err }

// StateObserver polls a remote or expensive-to-read piece of state on a
// fixed interval, broadcasting ObservableState snapshots to attached
// consumers only when the observed value actually changes.
type StateObserver[T any] struct {
	getter func() (T, error)
	setter func(T) error
	equal  func(a, b any) bool

	mu    sync.Mutex
	state ObservableState[T]

	consumers *ConsumerList[ObservableState[T]]
	task      *ManageableTask
}

// NewStateObserver creates a StateObserver that polls getter every
// pollInterval, and routes SetState calls through setter. The observer
// starts in the ErrStateUninitialized state until its first poll (or
// SetState call) completes.
func NewStateObserver[T any](getter func() (T, error), setter func(T) error, pollInterval time.Duration, opts ...ObserverOption) *StateObserver[T] {
	cfg := resolveObserverOptions(opts)
	o := &StateObserver[T]{
		getter:    getter,
		setter:    setter,
		equal:     cfg.equal,
		state:     ObservableState[T]{err: ErrStateUninitialized},
		consumers: NewConsumerList[ObservableState[T]](),
	}
	o.task = StartTask(func(ctx *ManageableTaskCtx) {
		for ctx.Checkpoint() {
			o.poll()
			time.Sleep(pollInterval)
		}
	})
	return o
}

func (o *StateObserver[T]) poll() {
	v, err := o.getter()
	o.mu.Lock()
	var next ObservableState[T]
	if err != nil {
		next = ObservableState[T]{err: err}
	} else {
		next = ObservableState[T]{value: v}
	}
	changed := !o.sameLocked(next)
	if changed {
		o.state = next
	}
	o.mu.Unlock()
	if changed {
		_ = o.consumers.Consume(next)
	}
}

func (o *StateObserver[T]) sameLocked(next ObservableState[T]) bool {
	if o.state.HasValue() != next.HasValue() {
		return false
	}
	if !next.HasValue() {
		return errors.Is(o.state.err, next.err) || o.state.err == next.err
	}
	return o.equal(o.state.value, next.value)
}

// GetState returns the most recently observed snapshot.
func (o *StateObserver[T]) GetState() ObservableState[T] {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// SetState pushes a new value through the observer's setter, then
// re-polls to pick up the authoritative resulting state; the returned
// future resolves once both the setter call and that re-poll have
// completed.
func (o *StateObserver[T]) SetState(v T) *Future[struct{}] {
	p := NewPromise[struct{}]()
	f, _ := p.Future()
	go func() {
		if err := o.setter(v); err != nil {
			o.mu.Lock()
			o.state = ObservableState[T]{err: err}
			o.mu.Unlock()
			_ = o.consumers.Consume(o.state)
		}
		o.poll()
		_ = p.SetValue(struct{}{})
	}()
	return f
}

// AttachConsumer subscribes consumer to every future state change.
func (o *StateObserver[T]) AttachConsumer(consumer Consumer[ObservableState[T]]) {
	o.consumers.Add(consumer)
}

// AsyncWaitFor resolves once a polled (or set) state satisfies
// predicate, checking the current state immediately before subscribing
// so a predicate already true does not wait for the next poll.
func (o *StateObserver[T]) AsyncWaitFor(predicate func(ObservableState[T]) bool) *Future[ObservableState[T]] {
	p := NewPromise[ObservableState[T]]()
	f, _ := p.Future()

	current := o.GetState()
	if predicate(current) {
		_ = p.SetValue(current)
		return f
	}

	o.AttachConsumer(consumerAdapter[ObservableState[T]](func(s ObservableState[T]) error {
		if !predicate(s) {
			return nil
		}
		_ = p.SetValue(s)
		return ErrConsumerClosed
	}))

	return f
}

// Close stops the observer's polling goroutine.
func (o *StateObserver[T]) Close() *Future[struct{}] {
	return o.task.AsyncStop()
}

type consumerAdapter[T any] func(T) error

func (f consumerAdapter[T]) Consume(v T) error { return f(v) }
