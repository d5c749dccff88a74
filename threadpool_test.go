package aocontext

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThreadPoolExecutor_BoundsParallelism(t *testing.T) {
	const parallelism = 3
	p := NewThreadPoolExecutor(parallelism)
	defer p.Close()

	var (
		mu      sync.Mutex
		current int
		maxSeen int
		wg      sync.WaitGroup
	)

	for i := 0; i < 20; i++ {
		wg.Add(1)
		err := p.Exec(func() {
			defer wg.Done()
			mu.Lock()
			current++
			if current > maxSeen {
				maxSeen = current
			}
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
			mu.Lock()
			current--
			mu.Unlock()
		}, Queued)
		require.NoError(t, err)
	}

	wg.Wait()
	assert.LessOrEqual(t, maxSeen, parallelism)
}

func TestThreadPoolExecutor_InlineIfPossibleRunsSynchronously(t *testing.T) {
	p := NewThreadPoolExecutor(1)
	defer p.Close()

	var ran bool
	err := p.Exec(func() { ran = true }, InlineIfPossible)
	require.NoError(t, err)
	assert.True(t, ran, "InlineIfPossible should have run before Exec returned")
}

func TestThreadPoolExecutor_RecoversPanics(t *testing.T) {
	p := NewThreadPoolExecutor(1)
	defer p.Close()

	var done sync.WaitGroup
	done.Add(1)
	err := p.Exec(func() {
		defer done.Done()
		panic("boom")
	}, Queued)
	require.NoError(t, err)
	done.Wait()

	// pool must still accept work after a panic
	var ran atomic.Bool
	require.NoError(t, p.Exec(func() { ran.Store(true) }, InlineIfPossible))
	assert.True(t, ran.Load())
}

func TestThreadPoolExecutor_CloseRejectsNewWork(t *testing.T) {
	p := NewThreadPoolExecutor(1)
	p.Close()
	err := p.Exec(func() {}, Queued)
	assert.ErrorIs(t, err, ErrExecutorClosed)
}

func TestThreadExecutor_RunsInOrder(t *testing.T) {
	e := NewThreadExecutor()
	defer e.Close()

	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	for i := 0; i < 10; i++ {
		i := i
		wg.Add(1)
		require.NoError(t, e.Exec(func() {
			defer wg.Done()
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}, Queued))
	}
	wg.Wait()

	for i, v := range order {
		assert.Equal(t, i, v)
	}
}

func TestThreadExecutor_InlineIfPossibleReentrant(t *testing.T) {
	e := NewThreadExecutor()
	defer e.Close()

	var order []string
	var wg sync.WaitGroup
	wg.Add(1)
	require.NoError(t, e.Exec(func() {
		defer wg.Done()
		order = append(order, "outer-start")
		// reentrant submission from the worker goroutine itself
		require.NoError(t, e.Exec(func() {
			order = append(order, "inner")
		}, InlineIfPossible))
		order = append(order, "outer-end")
	}, Queued))
	wg.Wait()

	assert.Equal(t, []string{"outer-start", "inner", "outer-end"}, order)
}

func TestThreadExecutor_IsSequenceExecutor(t *testing.T) {
	var e SequenceExecutor = NewThreadExecutor()
	defer e.(*ThreadExecutor).Close()
}

func TestThreadExecutor_CloseWaitsForDrain(t *testing.T) {
	e := NewThreadExecutor()
	var ran atomic.Bool
	require.NoError(t, e.Exec(func() {
		time.Sleep(10 * time.Millisecond)
		ran.Store(true)
	}, Queued))
	e.Close()
	assert.True(t, ran.Load())

	err := e.Exec(func() {}, Queued)
	assert.ErrorIs(t, err, ErrExecutorClosed)
}
