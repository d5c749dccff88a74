package aocontext

import (
	"errors"
	"fmt"
)

// Sentinel errors matching the taxonomy of spec §7. Use errors.Is to test
// for these, including through wrapping.
var (
	// ErrOperationCancelled is returned when an async operation is
	// cancelled because its AOContext closed or its task was stopped.
	ErrOperationCancelled = errors.New("aocontext: operation cancelled")

	// ErrContextClosed is returned when attaching new work or handlers to
	// a context that has begun (or finished) closing.
	ErrContextClosed = errors.New("aocontext: context closed")

	// ErrBrokenPromise is set as a Future's result when its Promise is
	// garbage collected without being satisfied.
	ErrBrokenPromise = errors.New("aocontext: broken promise")

	// ErrPromiseAlreadySatisfied is returned by SetValue/SetException when
	// the promise was already settled.
	ErrPromiseAlreadySatisfied = errors.New("aocontext: promise already satisfied")

	// ErrFutureNoState is returned by Future operations on a nil or
	// zero-value Future (one with no state).
	ErrFutureNoState = errors.New("aocontext: future has no state")

	// ErrFutureAlreadyRetrieved is returned by Promise.Future when called
	// more than once on the same Promise.
	ErrFutureAlreadyRetrieved = errors.New("aocontext: future already retrieved")

	// ErrChainAfterWait is returned by Then/Fail when called on a Future
	// that has already had Wait/WaitFor/Get invoked on it.
	ErrChainAfterWait = errors.New("aocontext: then/fail called after wait")

	// ErrDetectedDeadlock names the case of a synchronous invocation that
	// would require a context to wait on work it is currently executing.
	// No operation in this package returns it.
	ErrDetectedDeadlock = errors.New("aocontext: detected deadlock")

	// ErrStateUninitialized is returned by StateObserver accessors before
	// the first successful poll has landed.
	ErrStateUninitialized = errors.New("aocontext: state not yet observed")

	// ErrNoIoReactor is returned by Executor.IoCtx when the executor has
	// no associated I/O reactor.
	ErrNoIoReactor = errors.New("aocontext: executor has no io reactor")

	// ErrExecutorClosed is returned by Exec when the executor has been
	// shut down and can no longer accept work.
	ErrExecutorClosed = errors.New("aocontext: executor closed")
)

// CancelledError wraps ErrOperationCancelled with an optional message,
// mirroring the C++ AsyncOperationWasCancelled(errMessage) constructor.
type CancelledError struct {
	Message string
}

func (e *CancelledError) Error() string {
	if e.Message == "" {
		return ErrOperationCancelled.Error()
	}
	return fmt.Sprintf("%s: %s", ErrOperationCancelled.Error(), e.Message)
}

// Unwrap lets errors.Is(err, ErrOperationCancelled) succeed.
func (e *CancelledError) Unwrap() error {
	return ErrOperationCancelled
}

// WrapError wraps an error with a message and a cause chain, analogous to
// the teacher's eventloop.WrapError helper.
func WrapError(message string, cause error) error {
	return fmt.Errorf("%s: %w", message, cause)
}
