// Package aocontext provides a context-scoped asynchronous execution
// substrate: an executor hierarchy, a cancellation-scoped continuation
// context (AOContext) binding async results to a serialization domain, a
// composable Future/Promise whose continuations honor that context,
// cooperative task control, a priority scheduler, and producer/consumer
// primitives.
//
// # Architecture
//
// Work is scheduled on an Executor ([ThreadPoolExecutor], [ThreadExecutor],
// or a host-provided adapter). An [AOContext] owns a [StrandExecutor] atop
// some Executor, serializing every continuation attached through it. A
// [Future] produced by a [Promise] may have a continuation attached either
// free-standing or bound to an AOContext; in the latter case, closing the
// context cancels the continuation with [ErrOperationCancelled] instead of
// running it.
//
// # Logging
//
// Internal diagnostics (swallowed panics from executor work, close
// handlers and consumers, and errors returned by consumers) are written
// through a package-configurable structured [Logger], backed by
// github.com/joeycumines/logiface and github.com/joeycumines/stumpy. Task
// panics are captured for [ManageableTask.GetError] instead, and scheduler
// transitions are not logged. Set the package-wide logger with [SetLogger],
// or one value's logger with [WithPoolLogger], [WithContextLogger] or
// [WithSchedulerLogger]; the default writes JSON to os.Stderr at
// logiface.LevelWarning and above.
//
// # Thread Safety
//
// Executors, AOContext, and Future/Promise are all safe for concurrent use
// from multiple goroutines; see the doc comment on each type for specifics.
package aocontext

import (
	"sync"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Logger is the structured logger type used throughout this package. It is
// a type alias for a logiface.Logger parameterized with stumpy's Event,
// the JSON-writing implementation the teacher's sibling modules use.
type Logger = logiface.Logger[*stumpy.Event]

// Level re-exports logiface's severity level type.
type Level = logiface.Level

var globalLogger struct {
	sync.RWMutex
	logger *Logger
}

func init() {
	globalLogger.logger = newDefaultLogger(logiface.LevelWarning)
}

func newDefaultLogger(level Level) *Logger {
	return stumpy.L.New(
		stumpy.L.WithStumpy(),
		stumpy.L.WithLevel(level),
	)
}

// SetLogger sets the package-global structured logger used by every
// Executor, AOContext, Scheduler and ConsumerList created after this call.
// It does not retroactively affect already-constructed values, which
// capture the logger at construction time (see WithPoolLogger,
// WithContextLogger and WithSchedulerLogger).
func SetLogger(logger *Logger) {
	if logger == nil {
		logger = newDefaultLogger(logiface.LevelWarning)
	}
	globalLogger.Lock()
	defer globalLogger.Unlock()
	globalLogger.logger = logger
}

// currentLogger returns the package-global logger.
func currentLogger() *Logger {
	globalLogger.RLock()
	defer globalLogger.RUnlock()
	return globalLogger.logger
}

// logPanic logs a recovered panic from swallowed work, matching the
// "errors inside an executor's work / close handler are swallowed but
// logged" contract of spec §7.
func logPanic(logger *Logger, category string, r any) {
	if logger == nil {
		logger = currentLogger()
	}
	logger.Warning().Str("category", category).Any("recovered", r).Log("aocontext: recovered panic")
}
