package aocontext

import (
	"sync"

	"github.com/google/uuid"
)

// StrandExecutor wraps an underlying Executor and guarantees that work
// submitted to it runs strictly one item at a time, in submission order,
// even when the underlying executor itself runs items concurrently (e.g.
// a ThreadPoolExecutor). This is the "strand" pattern: a lightweight
// serialization point layered on top of a shared pool, rather than a
// dedicated goroutine per serialized stream.
//
// Reentrancy is tracked with the package's goroutine-local group-entry set
// (see reentry.go) rather than by comparing a fixed worker goroutine ID,
// since the drain loop may run on a different underlying goroutine each
// time it's scheduled.
type StrandExecutor struct {
	id         uuid.UUID
	underlying Executor
	logger     *Logger

	mu       sync.Mutex
	queue    []func()
	head     int
	draining bool
}

// NewStrandExecutor creates a strand layered on top of underlying.
func NewStrandExecutor(underlying Executor, opts ...PoolOption) *StrandExecutor {
	cfg := resolvePoolOptions(opts)
	return &StrandExecutor{
		id:         uuid.New(),
		underlying: underlying,
		logger:     cfg.logger,
	}
}

// Exec appends work to the strand's serialized queue. If mode is
// InlineIfPossible and the calling goroutine is already inside this
// strand's drain loop (a reentrant submission from work currently
// running), it executes immediately instead of being appended, since
// serialization is already guaranteed by the caller's own position in the
// drain loop.
func (s *StrandExecutor) Exec(work func(), mode ExecMode) error {
	if mode == InlineIfPossible && inGroup(s.id) {
		s.runSafely(work)
		return nil
	}

	s.mu.Lock()
	s.queue = append(s.queue, work)
	needDrain := !s.draining
	if needDrain {
		s.draining = true
	}
	s.mu.Unlock()

	if !needDrain {
		return nil
	}
	return s.underlying.Exec(s.drain, Queued)
}

// drain runs on whatever goroutine the underlying executor hands it, and
// keeps pulling from the queue until empty, at which point it clears
// draining so the next Exec call reschedules a fresh drain.
func (s *StrandExecutor) drain() {
	enterGroup(s.id)
	defer leaveGroup(s.id)

	for {
		s.mu.Lock()
		if s.head >= len(s.queue) {
			s.queue = s.queue[:0]
			s.head = 0
			s.draining = false
			s.mu.Unlock()
			return
		}
		work := s.queue[s.head]
		s.queue[s.head] = nil
		s.head++
		if s.head > 64 && s.head*2 > len(s.queue) {
			remaining := copy(s.queue, s.queue[s.head:])
			s.queue = s.queue[:remaining]
			s.head = 0
		}
		s.mu.Unlock()

		s.runSafely(work)
	}
}

func (s *StrandExecutor) runSafely(work func()) {
	defer func() {
		if r := recover(); r != nil {
			logPanic(s.logger, "strand", r)
		}
	}()
	work()
}

// IoCtx delegates to the underlying executor.
func (s *StrandExecutor) IoCtx() (*IoReactor, error) {
	return s.underlying.IoCtx()
}

func (s *StrandExecutor) sequenceExecutorMarker() {}

var _ SequenceExecutor = (*StrandExecutor)(nil)
