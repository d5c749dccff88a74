package aocontext

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Scheduler runs at most one task at a time, chosen by priority: pushing
// a higher-priority task pauses the current one and promotes the new
// arrival; when the active task stops, the highest-priority waiting task
// is resumed. Bookkeeping is guarded by a mutex; the scheduler's own
// AOContext owns its lifetime (closing it stops every task via Clear).
type Scheduler struct {
	ctx *AOContext

	mu         sync.Mutex
	waiting    []*schedEntry // ascending priority; highest priority at the back
	active     *schedEntry
	deactiv    map[uuid.UUID]*schedEntry
	byID       map[uuid.UUID]*schedEntry
	clearFutrs []*Promise[struct{}]
}

type schedEntry struct {
	id            uuid.UUID
	priority      int
	task          *ManageableTask
	pauseOnResume bool
}

// NewScheduler creates a scheduler whose own serialization runs on a
// fresh root AOContext bound to executor.
func NewScheduler(executor Executor, opts ...SchedulerOption) *Scheduler {
	cfg := resolveSchedulerOptions(opts)
	s := &Scheduler{
		ctx:     NewRootContext(executor, WithContextLogger(cfg.logger)),
		deactiv: make(map[uuid.UUID]*schedEntry),
		byID:    make(map[uuid.UUID]*schedEntry),
	}
	_, _ = s.ctx.AddCloseHandler(func() { s.Clear() })
	return s
}

// Close shuts down the scheduler's own AOContext, stopping every task it
// still owns.
func (s *Scheduler) Close() {
	s.ctx.Close()
}

// Push schedules fn to run at the given priority, returning the
// ManageableTask's id. Higher priority values preempt lower ones: if
// fn's priority exceeds the currently active task's, the active task is
// paused and fn starts immediately; otherwise fn waits its turn. fn must
// call Checkpoint at least once, per the ManageableTask contract it
// runs on.
func (s *Scheduler) Push(fn func(*ManageableTaskCtx), priority int) uuid.UUID {
	s.mu.Lock()
	task := CreateTask(fn)
	entry := &schedEntry{id: task.ID(), priority: priority, task: task}
	s.byID[entry.id] = entry

	switch {
	case s.active == nil:
		s.active = entry
		_ = entry.task.AsyncResume()
	case priority > s.active.priority:
		prev := s.active
		s.enqueueWaitingLocked(prev)
		_ = prev.task.AsyncPause()
		s.active = entry
		_ = entry.task.AsyncResume()
	default:
		s.enqueueWaitingLocked(entry)
	}
	s.mu.Unlock()

	// Every task gets this hook, not just ones Cancel acts on: a task that
	// finishes on its own (fn just returns) must advance the queue exactly
	// like an explicit stop does, mirroring the original scheduler.cpp's
	// createTask attaching asyncWaitForStopped().then(...) unconditionally.
	go s.onTaskStopped(entry)

	return entry.id
}

func (s *Scheduler) enqueueWaitingLocked(e *schedEntry) {
	i := sort.Search(len(s.waiting), func(i int) bool { return s.waiting[i].priority >= e.priority })
	s.waiting = append(s.waiting, nil)
	copy(s.waiting[i+1:], s.waiting[i:])
	s.waiting[i] = e
}

func (s *Scheduler) removeWaitingLocked(id uuid.UUID) (*schedEntry, bool) {
	for i, e := range s.waiting {
		if e.id == id {
			s.waiting = append(s.waiting[:i], s.waiting[i+1:]...)
			return e, true
		}
	}
	return nil, false
}

// Cancel stops the task identified by id, returning a future that
// resolves once it has fully stopped. A waiting task is removed from the
// queue and stopped while it is still paused at a checkpoint; a
// deactivated task is put back in the waiting queue and stopped at once,
// leaving the queue when its stop completes. An unknown id yields a
// future already failed with ErrOperationCancelled.
func (s *Scheduler) Cancel(id uuid.UUID) *Future[struct{}] {
	s.mu.Lock()

	if s.active != nil && s.active.id == id {
		active := s.active
		s.mu.Unlock()
		// The Push-registered onTaskStopped goroutine for this entry
		// already waits for it to stop and promotes the next task; no
		// need to spawn another here.
		return active.task.AsyncStop()
	}

	if e, ok := s.removeWaitingLocked(id); ok {
		delete(s.byID, id)
		s.mu.Unlock()
		fut := e.task.AsyncStop()
		return fut
	}

	if e, ok := s.deactiv[id]; ok {
		delete(s.deactiv, id)
		e.pauseOnResume = false
		s.enqueueWaitingLocked(e)
		s.mu.Unlock()
		fut := e.task.AsyncStop()
		return fut
	}

	s.mu.Unlock()
	p := NewPromise[struct{}]()
	f, _ := p.Future()
	_ = p.SetException(ErrOperationCancelled)
	return f
}

// Deactivate moves the task identified by id out of scheduling
// consideration: if it's active, it's paused and parked; the next
// highest-priority waiting task is promoted. If it's already waiting,
// it's marked so that once it would become active it is immediately
// returned to deactivated instead.
func (s *Scheduler) Deactivate(id uuid.UUID) {
	s.mu.Lock()

	if s.active != nil && s.active.id == id {
		e := s.active
		s.active = nil
		s.deactiv[id] = e
		_ = e.task.AsyncPause()
		s.promoteNextLocked()
		s.mu.Unlock()
		return
	}

	for _, e := range s.waiting {
		if e.id == id {
			e.pauseOnResume = true
			s.mu.Unlock()
			return
		}
	}

	s.mu.Unlock()
}

// Activate moves a previously deactivated task back into the waiting
// set and triggers scheduling.
func (s *Scheduler) Activate(id uuid.UUID) {
	s.mu.Lock()
	e, ok := s.deactiv[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.deactiv, id)
	s.enqueueWaitingLocked(e)
	if s.active == nil {
		s.promoteNextLocked()
	}
	s.mu.Unlock()
}

// promoteNextLocked picks the highest-priority waiting task and resumes
// it, skipping (and re-deactivating) any marked pause-on-resume.
func (s *Scheduler) promoteNextLocked() {
	for len(s.waiting) > 0 {
		e := s.waiting[len(s.waiting)-1]
		s.waiting = s.waiting[:len(s.waiting)-1]

		if e.pauseOnResume {
			e.pauseOnResume = false
			s.deactiv[e.id] = e
			continue
		}

		s.active = e
		_ = e.task.AsyncResume()
		return
	}

	// nothing left to run
	if len(s.byID) == 0 {
		for _, p := range s.clearFutrs {
			_ = p.SetValue(struct{}{})
		}
		s.clearFutrs = nil
	}
}

// onTaskStopped waits for e's task to reach Stopped — whether it was
// asked to stop (Cancel/Clear) or fn simply returned on its own — then
// removes it from bookkeeping and, if it was the active task, promotes
// the next waiting one. Registered once per task by Push; it is not
// itself on the hot checkpoint path, so it blocks on the future directly.
func (s *Scheduler) onTaskStopped(e *schedEntry) {
	_, _ = e.task.AsyncWaitForStopped().Get()

	s.mu.Lock()
	delete(s.byID, e.id)
	s.removeWaitingLocked(e.id)
	if s.active == e {
		s.active = nil
		s.promoteNextLocked()
	}
	s.mu.Unlock()
}

// Clear stops every task — active, waiting, and deactivated — returning
// a future that resolves once none remain.
func (s *Scheduler) Clear() *Future[struct{}] {
	s.mu.Lock()

	p := NewPromise[struct{}]()
	f, _ := p.Future()

	if len(s.byID) == 0 {
		s.mu.Unlock()
		_ = p.SetValue(struct{}{})
		return f
	}
	s.clearFutrs = append(s.clearFutrs, p)

	all := make([]*schedEntry, 0, len(s.byID))
	for _, e := range s.byID {
		all = append(all, e)
	}
	s.active = nil
	s.waiting = nil
	s.deactiv = make(map[uuid.UUID]*schedEntry)
	s.mu.Unlock()

	for _, e := range all {
		e := e
		go func() {
			_, _ = e.task.AsyncStop().Get()
			s.mu.Lock()
			delete(s.byID, e.id)
			done := len(s.byID) == 0
			var futures []*Promise[struct{}]
			if done {
				futures, s.clearFutrs = s.clearFutrs, nil
			}
			s.mu.Unlock()
			if done {
				for _, fp := range futures {
					_ = fp.SetValue(struct{}{})
				}
			}
		}()
	}

	return f
}

// ActiveID reports the id of the currently active task, and whether one
// exists.
func (s *Scheduler) ActiveID() (uuid.UUID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return uuid.Nil, false
	}
	return s.active.id, true
}
