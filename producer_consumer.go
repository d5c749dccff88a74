package aocontext

import (
	"errors"
	"sync"
)

// ErrConsumerClosed is returned by Consumer.Consume to signal that it no
// longer wishes to receive values and should be dropped from whatever
// list is feeding it.
var ErrConsumerClosed = errors.New("aocontext: consumer closed")

// Consumer receives a stream of values pushed to it by a producer. An
// implementation returns ErrConsumerClosed once it no longer wants more
// values; any other error is logged by the caller but does not detach
// the consumer, mirroring a producer that tolerates a misbehaving
// subscriber rather than losing it over one bad value.
type Consumer[T any] interface {
	Consume(value T) error
}

// ConsumerList is itself a Consumer[T] that broadcasts every consumed
// value to a dynamic set of subscribed consumers, removing any that
// return ErrConsumerClosed. It is safe for concurrent use; Consume
// releases its lock before invoking subscribers so a subscriber may add
// or remove consumers re-entrantly.
type ConsumerList[T any] struct {
	logger *Logger

	mu        sync.Mutex
	closed    bool
	consumers []Consumer[T]
}

// NewConsumerList creates an empty, open ConsumerList.
func NewConsumerList[T any](opts ...PoolOption) *ConsumerList[T] {
	cfg := resolvePoolOptions(opts)
	return &ConsumerList[T]{logger: cfg.logger}
}

// Add subscribes consumer to future values. A no-op once the list has
// been closed.
func (l *ConsumerList[T]) Add(consumer Consumer[T]) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.consumers = append(l.consumers, consumer)
}

// Close detaches every subscribed consumer and marks the list closed;
// subsequent Consume calls return ErrConsumerClosed without invoking
// anyone.
func (l *ConsumerList[T]) Close() {
	l.mu.Lock()
	l.closed = true
	l.consumers = nil
	l.mu.Unlock()
}

// Consume implements Consumer[T], broadcasting value to every currently
// subscribed consumer and pruning any that return ErrConsumerClosed.
func (l *ConsumerList[T]) Consume(value T) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrConsumerClosed
	}
	batch := l.consumers
	l.consumers = nil
	l.mu.Unlock()

	survivors := make([]Consumer[T], 0, len(batch))
	for _, c := range batch {
		if l.exceptionSafeConsume(c, value) {
			survivors = append(survivors, c)
		}
	}

	l.mu.Lock()
	if !l.closed {
		l.consumers = append(survivors, l.consumers...)
	}
	l.mu.Unlock()
	return nil
}

// exceptionSafeConsume runs consumer.Consume under panic recovery,
// reporting whether consumer should remain subscribed.
func (l *ConsumerList[T]) exceptionSafeConsume(c Consumer[T], value T) (keep bool) {
	defer func() {
		if r := recover(); r != nil {
			logPanic(l.logger, "aocontext: consumer panicked", r)
			keep = true
		}
	}()
	err := c.Consume(value)
	if errors.Is(err, ErrConsumerClosed) {
		return false
	}
	if err != nil {
		logPanic(l.logger, "aocontext: consumer returned error", err)
	}
	return true
}

// FuncProducer drives a pull function on a ManageableTask, feeding every
// produced value to an attached ConsumerList. The pull function returns
// ok=false to signal it has no more values, at which point the producer
// stops and closes its consumer list.
type FuncProducer[T any] struct {
	consumers *ConsumerList[T]
	task      *ManageableTask
}

// NewFuncProducer starts fn running immediately on its own goroutine,
// repeatedly calling it until it returns ok=false or the producer is
// stopped.
func NewFuncProducer[T any](fn func() (value T, ok bool), opts ...TaskOption) *FuncProducer[T] {
	p := &FuncProducer[T]{consumers: NewConsumerList[T]()}
	p.task = StartTask(func(ctx *ManageableTaskCtx) {
		for ctx.Checkpoint() {
			v, ok := fn()
			if !ok {
				break
			}
			_ = p.consumers.Consume(v)
		}
		p.consumers.Close()
	}, opts...)
	return p
}

// AttachConsumer subscribes consumer to the producer's output.
func (p *FuncProducer[T]) AttachConsumer(consumer Consumer[T]) {
	p.consumers.Add(consumer)
}

// Stop requests the producer stop pulling further values, resolving
// once its worker goroutine has returned.
func (p *FuncProducer[T]) Stop() *Future[struct{}] {
	return p.task.AsyncStop()
}
