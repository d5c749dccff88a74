package aocontext

// ExecMode is a hint passed to Executor.Exec describing whether inline
// execution is acceptable.
type ExecMode int

const (
	// Queued forbids synchronous execution: work is always handed off,
	// never run on the calling goroutine as part of the Exec call.
	Queued ExecMode = iota

	// InlineIfPossible permits the executor to run work synchronously on
	// the calling goroutine when it can do so safely (e.g. the caller is
	// already running inside that executor). The executor may still
	// choose to enqueue; this is a hint, not a guarantee.
	InlineIfPossible
)

// Executor schedules work items. Parallelism is implementation-defined:
// a ThreadPoolExecutor may run items concurrently, while a
// SequenceExecutor promises serial, in-order execution.
type Executor interface {
	// Exec submits work for execution, optionally inline. The returned
	// error is non-nil only if the executor has been permanently shut
	// down and cannot accept new work.
	Exec(work func(), mode ExecMode) error

	// IoCtx returns the reactor handle for I/O-capable executors, or
	// ErrNoIoReactor if this executor has none.
	IoCtx() (*IoReactor, error)
}

// SequenceExecutor is an Executor that additionally guarantees no two
// submitted items run concurrently, and that they run in submission
// order.
type SequenceExecutor interface {
	Executor

	// sequenceExecutorMarker is unexported so external packages cannot
	// claim the SequenceExecutor guarantee without going through a type
	// this package vouches for (StrandExecutor, ThreadExecutor).
	sequenceExecutorMarker()
}
