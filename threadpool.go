package aocontext

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ThreadPoolExecutor runs submitted work on a bounded pool of goroutines.
// Unlike SequenceExecutor implementations it makes no ordering promise:
// items may run concurrently with each other, up to the configured
// parallelism.
//
// Parallelism is bounded with golang.org/x/sync/semaphore rather than a
// fixed pool of pre-spawned workers: work items are short-lived closures,
// so a goroutine-per-item model with a weighted semaphore gate avoids
// paying for N permanently blocked workers when the pool is mostly idle.
type ThreadPoolExecutor struct {
	sem    *semaphore.Weighted
	logger *Logger
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewThreadPoolExecutor creates a pool permitting up to parallelism
// concurrently-running work items. parallelism <= 0 is treated as 1.
func NewThreadPoolExecutor(parallelism int, opts ...PoolOption) *ThreadPoolExecutor {
	cfg := resolvePoolOptions(opts)
	if parallelism <= 0 {
		parallelism = 1
	}
	return &ThreadPoolExecutor{
		sem:    semaphore.NewWeighted(int64(parallelism)),
		logger: cfg.logger,
	}
}

// Exec submits work. With mode InlineIfPossible, if a permit is
// immediately available the work runs on the calling goroutine before Exec
// returns; otherwise (or with mode Queued) it is handed to a new goroutine
// once a permit is free.
func (p *ThreadPoolExecutor) Exec(work func(), mode ExecMode) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrExecutorClosed
	}

	if mode == InlineIfPossible && p.sem.TryAcquire(1) {
		p.wg.Add(1)
		func() {
			defer p.wg.Done()
			defer p.sem.Release(1)
			p.runSafely(work)
		}()
		return nil
	}

	if err := p.sem.Acquire(context.Background(), 1); err != nil {
		return err
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.sem.Release(1)
		p.runSafely(work)
	}()
	return nil
}

func (p *ThreadPoolExecutor) runSafely(work func()) {
	defer func() {
		if r := recover(); r != nil {
			logPanic(p.logger, "threadpool", r)
		}
	}()
	work()
}

// IoCtx always fails: ThreadPoolExecutor has no associated reactor. Use
// IoContextExecutor for I/O-capable work.
func (p *ThreadPoolExecutor) IoCtx() (*IoReactor, error) {
	return nil, ErrNoIoReactor
}

// Close stops accepting new work and blocks until all in-flight items
// finish.
func (p *ThreadPoolExecutor) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.wg.Wait()
}

// ThreadExecutor is a SequenceExecutor backed by a single dedicated
// goroutine: items run strictly one at a time, in submission order, always
// on the same underlying goroutine. It plays the role the C++ original
// gives a single-threaded io_context-style executor.
type ThreadExecutor struct {
	logger *Logger
	queue  chan func()
	done   chan struct{}
	once   sync.Once

	gidMu sync.Mutex
	gid   uint64
	gidOK bool
}

// NewThreadExecutor starts the backing goroutine and returns the executor.
// queueCap (via WithPoolQueueCapacity) sizes the buffered backlog; 0 means
// Exec blocks until the worker is free.
func NewThreadExecutor(opts ...PoolOption) *ThreadExecutor {
	cfg := resolvePoolOptions(opts)
	e := &ThreadExecutor{
		logger: cfg.logger,
		queue:  make(chan func(), cfg.queueCap),
		done:   make(chan struct{}),
	}
	go e.run()
	return e
}

func (e *ThreadExecutor) run() {
	defer close(e.done)
	e.gidMu.Lock()
	e.gid = currentGoroutineID()
	e.gidOK = true
	e.gidMu.Unlock()
	for work := range e.queue {
		e.runSafely(work)
	}
}

func (e *ThreadExecutor) runSafely(work func()) {
	defer func() {
		if r := recover(); r != nil {
			logPanic(e.logger, "thread-executor", r)
		}
	}()
	work()
}

func (e *ThreadExecutor) onWorkerGoroutine() bool {
	e.gidMu.Lock()
	defer e.gidMu.Unlock()
	return e.gidOK && e.gid == currentGoroutineID()
}

// Exec submits work to the single worker goroutine. InlineIfPossible runs
// work synchronously when Exec is called from that same goroutine (i.e.
// reentrant submission from within already-running work); otherwise the
// item is queued like Queued mode. After Close it returns
// ErrExecutorClosed.
func (e *ThreadExecutor) Exec(work func(), mode ExecMode) (err error) {
	if mode == InlineIfPossible && e.onWorkerGoroutine() {
		e.runSafely(work)
		return nil
	}
	// Close closes e.queue; a send on it afterwards (or one blocked while
	// it happens) panics, which is reported as ErrExecutorClosed.
	defer func() {
		if recover() != nil {
			err = ErrExecutorClosed
		}
	}()
	select {
	case e.queue <- work:
		return nil
	case <-e.done:
		return ErrExecutorClosed
	}
}

// IoCtx always fails: ThreadExecutor has no associated reactor.
func (e *ThreadExecutor) IoCtx() (*IoReactor, error) {
	return nil, ErrNoIoReactor
}

func (e *ThreadExecutor) sequenceExecutorMarker() {}

// Close stops accepting work and waits for the backing goroutine to drain
// its queue and exit.
func (e *ThreadExecutor) Close() {
	e.once.Do(func() { close(e.queue) })
	<-e.done
}

var (
	_ Executor         = (*ThreadPoolExecutor)(nil)
	_ SequenceExecutor = (*ThreadExecutor)(nil)
)
