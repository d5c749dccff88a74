package aocontext

import "context"

// IoReactor is an opaque handle an I/O-capable Executor exposes via
// Executor.IoCtx, for external collaborators (concrete I/O device
// implementations: serial ports, TCP/UDP sockets, files) to schedule
// async byte operations against.
//
// Concrete device I/O is explicitly out of scope for this module (see
// spec §1) — IoReactor deliberately does not implement a real poller.
// It exists only so IoContextExecutor has something type-safe to return,
// and so device code written against this interface has a stable contract
// to compile against. See DESIGN.md for why no epoll/kqueue backing is
// wired in.
type IoReactor struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// NewIoReactor creates a reactor handle bound to a cancellation context. A
// device implementation is expected to select on Done() to know when the
// owning executor is shutting down.
func NewIoReactor(ctx context.Context) *IoReactor {
	if ctx == nil {
		ctx = context.Background()
	}
	c, cancel := context.WithCancel(ctx)
	return &IoReactor{ctx: c, cancel: cancel}
}

// Done returns a channel closed when the reactor is shut down.
func (r *IoReactor) Done() <-chan struct{} {
	return r.ctx.Done()
}

// Context returns the reactor's cancellation context.
func (r *IoReactor) Context() context.Context {
	return r.ctx
}

// Close shuts the reactor down, closing Done's channel.
func (r *IoReactor) Close() {
	r.cancel()
}

// IoContextExecutor is a ThreadPoolExecutor paired with an IoReactor: it
// schedules work the same way a plain ThreadPoolExecutor does, but IoCtx
// hands back the reactor instead of ErrNoIoReactor, so device code layered
// on top has something to register against.
type IoContextExecutor struct {
	*ThreadPoolExecutor
	reactor *IoReactor
}

// NewIoContextExecutor creates an IoContextExecutor with the given
// parallelism (see NewThreadPoolExecutor), owning a fresh IoReactor bound
// to ctx. Close shuts down both the pool and the reactor.
func NewIoContextExecutor(ctx context.Context, parallelism int, opts ...PoolOption) *IoContextExecutor {
	return &IoContextExecutor{
		ThreadPoolExecutor: NewThreadPoolExecutor(parallelism, opts...),
		reactor:            NewIoReactor(ctx),
	}
}

// IoCtx returns this executor's reactor, overriding
// ThreadPoolExecutor.IoCtx's ErrNoIoReactor.
func (e *IoContextExecutor) IoCtx() (*IoReactor, error) {
	return e.reactor, nil
}

// Close shuts down the underlying thread pool and closes the reactor.
func (e *IoContextExecutor) Close() {
	e.ThreadPoolExecutor.Close()
	e.reactor.Close()
}
