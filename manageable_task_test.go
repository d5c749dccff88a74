package aocontext

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManageableTask_CreateStartsPaused(t *testing.T) {
	var ranBeforePause atomic.Bool
	task := CreateTask(func(ctx *ManageableTaskCtx) {
		for ctx.Checkpoint() {
			ranBeforePause.Store(true)
			time.Sleep(5 * time.Millisecond)
		}
	})
	assert.Equal(t, TaskPaused, task.State())

	require.NoError(t, waitFuture(t, task.AsyncStop()))
	assert.Equal(t, TaskStopped, task.State())
}

func TestManageableTask_StartRunsImmediately(t *testing.T) {
	started := make(chan struct{})
	task := StartTask(func(ctx *ManageableTaskCtx) {
		close(started)
		for ctx.Checkpoint() {
			time.Sleep(time.Millisecond)
		}
	})
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("task never started running")
	}
	require.NoError(t, waitFuture(t, task.AsyncStop()))
}

func TestManageableTask_PauseResumeStop(t *testing.T) {
	var loops atomic.Int32
	task := CreateTask(func(ctx *ManageableTaskCtx) {
		for ctx.Checkpoint() {
			loops.Add(1)
			time.Sleep(time.Millisecond)
		}
	})

	require.NoError(t, waitFuture(t, task.AsyncResume()))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, waitFuture(t, task.AsyncPause()))
	assert.Equal(t, TaskPaused, task.State())

	afterPauseLoops := loops.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, afterPauseLoops, loops.Load(), "loop must not advance while paused")

	require.NoError(t, waitFuture(t, task.AsyncResume()))
	time.Sleep(20 * time.Millisecond)
	assert.Greater(t, loops.Load(), afterPauseLoops)

	require.NoError(t, waitFuture(t, task.AsyncStop()))
	assert.Equal(t, TaskStopped, task.State())
}

func TestManageableTask_BeforePauseDefersPause(t *testing.T) {
	var allow atomic.Bool
	task := CreateTask(func(ctx *ManageableTaskCtx) {
		for ctx.Checkpoint() {
			time.Sleep(time.Millisecond)
		}
	}, WithBeforePause(func() bool { return allow.Load() }))

	require.NoError(t, waitFuture(t, task.AsyncResume()))

	pauseFut := task.AsyncPause()
	time.Sleep(20 * time.Millisecond)
	assert.NotEqual(t, TaskPaused, task.State(), "pause should be deferred while beforePause vetoes")

	allow.Store(true)
	require.NoError(t, waitFuture(t, pauseFut))
	assert.Equal(t, TaskPaused, task.State())

	require.NoError(t, waitFuture(t, task.AsyncStop()))
}

func TestManageableTask_AfterPauseRunsOnResume(t *testing.T) {
	var ranAfterPause atomic.Bool
	task := CreateTask(func(ctx *ManageableTaskCtx) {
		for ctx.Checkpoint() {
			time.Sleep(time.Millisecond)
		}
	}, WithAfterPause(func() { ranAfterPause.Store(true) }))

	require.NoError(t, waitFuture(t, task.AsyncResume()))
	require.NoError(t, waitFuture(t, task.AsyncPause()))
	require.NoError(t, waitFuture(t, task.AsyncResume()))
	time.Sleep(10 * time.Millisecond)

	assert.True(t, ranAfterPause.Load())
	require.NoError(t, waitFuture(t, task.AsyncStop()))
}

func TestManageableTask_PanicCapturedAsError(t *testing.T) {
	task := StartTask(func(ctx *ManageableTaskCtx) {
		panic("worker exploded")
	})
	require.NoError(t, waitFuture(t, task.AsyncWaitForStopped()))
	assert.Error(t, task.GetError())
}

func TestManageableTask_PendingPromisesResolveOnStop(t *testing.T) {
	task := CreateTask(func(ctx *ManageableTaskCtx) {
		for ctx.Checkpoint() {
			time.Sleep(time.Millisecond)
		}
	})

	stopFut := task.AsyncStop()
	require.NoError(t, waitFuture(t, stopFut))
	assert.Equal(t, TaskStopped, task.State())
}

func waitFuture(t *testing.T, f *Future[struct{}]) error {
	t.Helper()
	type outcome struct{ err error }
	ch := make(chan outcome, 1)
	go func() {
		_, err := f.Get()
		ch <- outcome{err}
	}()
	select {
	case o := <-ch:
		return o.err
	case <-time.After(2 * time.Second):
		t.Fatal("future did not settle in time")
		return nil
	}
}
