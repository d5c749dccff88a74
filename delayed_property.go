package aocontext

import (
	"sync"
	"time"
)

// DelayedProperty is a thread-safe value cell whose writes don't take
// effect immediately: SetNewValue stages a candidate value, and a
// caller must later invoke ApplyNewValue to commit it. Staging a second
// value before the first is applied coalesces them — the superseded
// value's Future fails with a CancelledError rather than being silently
// dropped.
type DelayedProperty[T any] struct {
	mu      sync.Mutex
	value   T
	pending *T
	promise *Promise[struct{}]
	changed chan struct{}
}

// NewDelayedProperty creates a DelayedProperty holding initial, with no
// value staged.
func NewDelayedProperty[T any](initial T) *DelayedProperty[T] {
	return &DelayedProperty[T]{
		value:   initial,
		changed: make(chan struct{}),
	}
}

// SetNewValue stages value as the property's next value, returning a
// Future that resolves once ApplyNewValue commits it (or fails if a
// later SetNewValue supersedes it first, or if the apply handler given
// to ApplyNewValue itself fails).
func (d *DelayedProperty[T]) SetNewValue(value T) *Future[struct{}] {
	d.mu.Lock()

	if d.promise != nil {
		_ = d.promise.SetException(&CancelledError{Message: "previous value was ignored"})
	}

	promise := NewPromise[struct{}]()
	future, _ := promise.Future()
	d.promise = promise
	pending := value
	d.pending = &pending

	old := d.changed
	d.changed = make(chan struct{})

	d.mu.Unlock()
	close(old)

	return future
}

// HasNewValue reports whether a value is currently staged, waiting for
// ApplyNewValue.
func (d *DelayedProperty[T]) HasNewValue() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending != nil
}

// WaitNewValue blocks until a value is staged.
func (d *DelayedProperty[T]) WaitNewValue() {
	for {
		d.mu.Lock()
		if d.pending != nil {
			d.mu.Unlock()
			return
		}
		ch := d.changed
		d.mu.Unlock()
		<-ch
	}
}

// WaitNewValueTimeout blocks until a value is staged or timeout
// elapses, reporting which occurred first.
func (d *DelayedProperty[T]) WaitNewValueTimeout(timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		d.mu.Lock()
		if d.pending != nil {
			d.mu.Unlock()
			return true
		}
		ch := d.changed
		d.mu.Unlock()

		select {
		case <-ch:
		case <-deadline.C:
			d.mu.Lock()
			has := d.pending != nil
			d.mu.Unlock()
			return has
		}
	}
}

// ApplyNewValue commits the currently staged value, if any, running
// applyHandler (outside the property's lock) before the new value
// becomes visible via GetCurrentValue. A nil applyHandler just commits
// the value directly. If applyHandler returns an error, the staged
// value's Future fails with that error instead of being committed.
func (d *DelayedProperty[T]) ApplyNewValue(applyHandler func(T) error) error {
	d.mu.Lock()
	if d.pending == nil {
		d.mu.Unlock()
		return nil
	}
	newVal := *d.pending
	promise := d.promise
	d.pending = nil
	d.promise = nil
	d.mu.Unlock()

	if applyHandler != nil {
		if err := applyHandler(newVal); err != nil {
			_ = promise.SetException(err)
			return err
		}
	}

	d.mu.Lock()
	d.value = newVal
	d.mu.Unlock()

	_ = promise.SetValue(struct{}{})
	return nil
}

// GetCurrentValue returns the last committed value.
func (d *DelayedProperty[T]) GetCurrentValue() T {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.value
}
