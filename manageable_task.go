package aocontext

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// TaskState is a ManageableTask's lifecycle state.
type TaskState int32

const (
	TaskWaiting TaskState = iota
	TaskRunning
	TaskPausing
	TaskPaused
	TaskResuming
	TaskStopping
	TaskStopped
)

func (s TaskState) String() string {
	switch s {
	case TaskWaiting:
		return "Waiting"
	case TaskRunning:
		return "Running"
	case TaskPausing:
		return "Pausing"
	case TaskPaused:
		return "Paused"
	case TaskResuming:
		return "Resuming"
	case TaskStopping:
		return "Stopping"
	case TaskStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// ManageableTaskCtx is handed to the worker function; it must call
// Checkpoint periodically so pause/resume/stop requests can take effect.
type ManageableTaskCtx struct {
	task *ManageableTask
}

// Checkpoint blocks while the task is Paused, and returns false once a
// stop has been requested — the worker function should return promptly
// after that.
func (c *ManageableTaskCtx) Checkpoint() bool {
	return c.task.checkpoint()
}

// TaskOption configures a ManageableTask at creation.
type TaskOption func(*ManageableTask)

// WithBeforePause installs a hook consulted right before the task would
// actually pause; returning false defers the pause to a later checkpoint.
func WithBeforePause(fn func() bool) TaskOption {
	return func(t *ManageableTask) { t.beforePause = fn }
}

// WithAfterPause installs a hook run right after the task resumes from a
// pause, before the checkpoint that triggered it returns.
func WithAfterPause(fn func()) TaskOption {
	return func(t *ManageableTask) { t.afterPause = fn }
}

// ManageableTask runs a user function on its own goroutine with
// cooperative pause/resume/stop control, driven by the worker polling
// Checkpoint.
type ManageableTask struct {
	id    uuid.UUID
	state *AtomicEnum[TaskState]

	mu   sync.Mutex
	cond *sync.Cond

	beforePause func() bool
	afterPause  func()

	err error

	firstCheckpoint     chan struct{}
	firstCheckpointOnce sync.Once

	stopped  chan struct{}
	stopOnce sync.Once

	pauseWaiters  []*Promise[struct{}]
	resumeWaiters []*Promise[struct{}]
	stopWaiters   []*Promise[struct{}]
}

func newManageableTask(opts ...TaskOption) *ManageableTask {
	t := &ManageableTask{
		id:              uuid.New(),
		state:           NewAtomicEnum[TaskState](TaskWaiting),
		firstCheckpoint: make(chan struct{}),
		stopped:         make(chan struct{}),
	}
	t.cond = sync.NewCond(&t.mu)
	for _, o := range opts {
		if o != nil {
			o(t)
		}
	}
	return t
}

// CreateTask starts fn on a new goroutine in the Paused state, and
// returns once the worker has hit its first checkpoint.
func CreateTask(fn func(*ManageableTaskCtx), opts ...TaskOption) *ManageableTask {
	t := newManageableTask(opts...)
	t.state.Store(TaskPaused)
	go t.run(fn)
	<-t.firstCheckpoint
	return t
}

// StartTask starts fn running immediately, returning without waiting for
// any checkpoint.
func StartTask(fn func(*ManageableTaskCtx), opts ...TaskOption) *ManageableTask {
	t := newManageableTask(opts...)
	t.state.Store(TaskRunning)
	go t.run(fn)
	return t
}

func (t *ManageableTask) run(fn func(*ManageableTaskCtx)) {
	defer t.finish()
	defer func() {
		if r := recover(); r != nil {
			t.mu.Lock()
			t.err = fmt.Errorf("aocontext: manageable task panicked: %v", r)
			t.mu.Unlock()
		}
	}()
	fn(&ManageableTaskCtx{task: t})
}

func (t *ManageableTask) checkpoint() bool {
	t.firstCheckpointOnce.Do(func() { close(t.firstCheckpoint) })

	t.mu.Lock()
	for {
		switch t.state.Load() {
		case TaskStopping, TaskStopped:
			t.mu.Unlock()
			return false

		case TaskPausing:
			hook := t.beforePause
			if hook != nil {
				t.mu.Unlock()
				proceed := hook()
				t.mu.Lock()
				if !proceed {
					t.mu.Unlock()
					return true
				}
			}
			if t.state.TryTransition(TaskPausing, TaskPaused) {
				t.resolveWaitersLocked(&t.pauseWaiters)
				t.cond.Broadcast()
			}
			// loop: re-check state, will observe TaskPaused next

		case TaskPaused:
			t.cond.Wait()

		case TaskResuming:
			t.state.TryTransition(TaskResuming, TaskRunning)
			t.resolveWaitersLocked(&t.resumeWaiters)
			hook := t.afterPause
			t.mu.Unlock()
			if hook != nil {
				hook()
			}
			return true

		default: // TaskRunning, TaskWaiting
			t.mu.Unlock()
			return true
		}
	}
}

func (t *ManageableTask) resolveWaitersLocked(waiters *[]*Promise[struct{}]) {
	for _, p := range *waiters {
		_ = p.SetValue(struct{}{})
	}
	*waiters = nil
}

func (t *ManageableTask) finish() {
	t.mu.Lock()
	t.state.Store(TaskStopped)
	pauseWaiters, resumeWaiters, stopWaiters := t.pauseWaiters, t.resumeWaiters, t.stopWaiters
	t.pauseWaiters, t.resumeWaiters, t.stopWaiters = nil, nil, nil
	t.mu.Unlock()

	for _, p := range pauseWaiters {
		_ = p.SetValue(struct{}{})
	}
	for _, p := range resumeWaiters {
		_ = p.SetValue(struct{}{})
	}
	for _, p := range stopWaiters {
		_ = p.SetValue(struct{}{})
	}
	t.stopOnce.Do(func() { close(t.stopped) })
}

// ID returns a process-unique, log-correlatable identifier for this
// task, assigned at creation.
func (t *ManageableTask) ID() uuid.UUID {
	return t.id
}

// State returns the task's current lifecycle state.
func (t *ManageableTask) State() TaskState {
	return t.state.Load()
}

// GetError returns the error recovered from the worker function's panic,
// if any.
func (t *ManageableTask) GetError() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// AsyncPause requests a pause, resolving once the task has actually
// paused (or is already paused/stopped).
func (t *ManageableTask) AsyncPause() *Future[struct{}] {
	p := NewPromise[struct{}]()
	f, _ := p.Future()

	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.state.Load() {
	case TaskStopped, TaskStopping:
		_ = p.SetValue(struct{}{})
		return f
	case TaskPaused:
		_ = p.SetValue(struct{}{})
		return f
	}

	t.pauseWaiters = append(t.pauseWaiters, p)
	if t.state.TransitionAny([]TaskState{TaskRunning, TaskWaiting, TaskResuming}, TaskPausing) {
		t.cond.Broadcast()
	}
	return f
}

// AsyncResume requests a resume, resolving once the task is actually
// running again (or already was).
func (t *ManageableTask) AsyncResume() *Future[struct{}] {
	p := NewPromise[struct{}]()
	f, _ := p.Future()

	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.state.Load() {
	case TaskStopped, TaskStopping:
		_ = p.SetValue(struct{}{})
		return f
	case TaskRunning, TaskWaiting:
		_ = p.SetValue(struct{}{})
		return f
	}

	t.resumeWaiters = append(t.resumeWaiters, p)
	if t.state.TransitionAny([]TaskState{TaskPaused, TaskPausing}, TaskResuming) {
		t.cond.Broadcast()
	}
	return f
}

// AsyncStop requests the task stop, resolving once the worker function
// has returned (whether cleanly or via panic).
func (t *ManageableTask) AsyncStop() *Future[struct{}] {
	p := NewPromise[struct{}]()
	f, _ := p.Future()

	t.mu.Lock()
	if t.state.Load() == TaskStopped {
		t.mu.Unlock()
		_ = p.SetValue(struct{}{})
		return f
	}
	t.state.Store(TaskStopping)
	t.stopWaiters = append(t.stopWaiters, p)
	t.cond.Broadcast()
	t.mu.Unlock()
	return f
}

// AsyncWaitForStopped resolves once the task reaches Stopped, without
// requesting a stop itself.
func (t *ManageableTask) AsyncWaitForStopped() *Future[struct{}] {
	p := NewPromise[struct{}]()
	f, _ := p.Future()

	t.mu.Lock()
	if t.state.Load() == TaskStopped {
		t.mu.Unlock()
		_ = p.SetValue(struct{}{})
		return f
	}
	t.stopWaiters = append(t.stopWaiters, p)
	t.mu.Unlock()
	return f
}
