package aocontext

import (
	"errors"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromiseFuture_SetValueThenGet(t *testing.T) {
	p := NewPromise[int]()
	f, err := p.Future()
	require.NoError(t, err)

	require.NoError(t, p.SetValue(42))

	v, err := f.Get()
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestPromiseFuture_GetBlocksUntilSet(t *testing.T) {
	p := NewPromise[string]()
	f, err := p.Future()
	require.NoError(t, err)

	go func() {
		time.Sleep(10 * time.Millisecond)
		require.NoError(t, p.SetValue("done"))
	}()

	v, err := f.Get()
	require.NoError(t, err)
	assert.Equal(t, "done", v)
}

func TestPromise_SecondSettleFails(t *testing.T) {
	p := NewPromise[int]()
	require.NoError(t, p.SetValue(1))
	assert.ErrorIs(t, p.SetValue(2), ErrPromiseAlreadySatisfied)
	assert.ErrorIs(t, p.SetException(errors.New("x")), ErrPromiseAlreadySatisfied)
}

func TestPromise_FutureRetrievedOnce(t *testing.T) {
	p := NewPromise[int]()
	_, err := p.Future()
	require.NoError(t, err)
	_, err = p.Future()
	assert.ErrorIs(t, err, ErrFutureAlreadyRetrieved)
}

func TestPromise_BrokenOnGC(t *testing.T) {
	var f *Future[int]
	func() {
		p := NewPromise[int]()
		var err error
		f, err = p.Future()
		require.NoError(t, err)
	}()

	runtime.GC()
	runtime.GC()

	ready, _ := f.WaitFor(2 * time.Second)
	require.True(t, ready, "promise should have been finalized as broken")
	_, err := f.Get()
	assert.ErrorIs(t, err, ErrBrokenPromise)
}

func TestFuture_ZeroValueIsInvalid(t *testing.T) {
	var f Future[int]
	_, err := f.Get()
	assert.ErrorIs(t, err, ErrFutureNoState)
}

func TestThenFree_ChainsValue(t *testing.T) {
	p := NewPromise[int]()
	f, err := p.Future()
	require.NoError(t, err)

	next, err := ThenFree(f, func(v int) (string, error) {
		return "v", nil
	})
	require.NoError(t, err)

	require.NoError(t, p.SetValue(1))
	v, err := next.Get()
	require.NoError(t, err)
	assert.Equal(t, "v", v)
}

func TestThenFree_PropagatesUpstreamError(t *testing.T) {
	p := NewPromise[int]()
	f, err := p.Future()
	require.NoError(t, err)

	called := false
	next, err := ThenFree(f, func(v int) (int, error) {
		called = true
		return v, nil
	})
	require.NoError(t, err)

	sentinel := errors.New("upstream failed")
	require.NoError(t, p.SetException(sentinel))

	_, err = next.Get()
	assert.ErrorIs(t, err, sentinel)
	assert.False(t, called)
}

func TestThenFree_AfterWaitFails(t *testing.T) {
	p := NewPromise[int]()
	f, err := p.Future()
	require.NoError(t, err)

	require.NoError(t, p.SetValue(1))
	require.NoError(t, f.Wait())

	_, err = ThenFree(f, func(v int) (int, error) { return v, nil })
	assert.ErrorIs(t, err, ErrChainAfterWait)
}

func TestThen_RunsOnContextStrand(t *testing.T) {
	root, pool := newTestRoot()
	defer pool.Close()

	p := NewPromise[int]()
	f, err := p.Future()
	require.NoError(t, err)

	var ranInGroup bool
	next, err := Then(f, root, Queued, func(v int) (int, error) {
		ranInGroup = root.InThisThread()
		return v * 2, nil
	})
	require.NoError(t, err)

	require.NoError(t, p.SetValue(21))
	v, err := next.Get()
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.True(t, ranInGroup)
}

func TestThen_ContextCloseCancelsPendingContinuation(t *testing.T) {
	root, pool := newTestRoot()
	defer pool.Close()

	p := NewPromise[int]()
	f, err := p.Future()
	require.NoError(t, err)

	next, err := Then(f, root, Queued, func(v int) (int, error) {
		return v, nil
	})
	require.NoError(t, err)

	root.Close()
	_, err = next.Get()
	var cancelled *CancelledError
	assert.ErrorAs(t, err, &cancelled)
}

func TestFailFree_RecoversError(t *testing.T) {
	p := NewPromise[int]()
	f, err := p.Future()
	require.NoError(t, err)

	sentinel := errors.New("boom")
	next, err := FailFree(f, func(e error) (int, error) {
		assert.ErrorIs(t, e, sentinel)
		return -1, nil
	})
	require.NoError(t, err)

	require.NoError(t, p.SetException(sentinel))
	v, err := next.Get()
	require.NoError(t, err)
	assert.Equal(t, -1, v)
}

func TestFailFree_PassesThroughValue(t *testing.T) {
	p := NewPromise[int]()
	f, err := p.Future()
	require.NoError(t, err)

	called := false
	next, err := FailFree(f, func(e error) (int, error) {
		called = true
		return 0, nil
	})
	require.NoError(t, err)

	require.NoError(t, p.SetValue(7))
	v, err := next.Get()
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.False(t, called)
}

func TestUnwrap_CollapsesNestedFuture(t *testing.T) {
	outerP := NewPromise[*Future[int]]()
	outerF, err := outerP.Future()
	require.NoError(t, err)

	innerP := NewPromise[int]()
	innerF, err := innerP.Future()
	require.NoError(t, err)

	unwrapped := Unwrap[int](outerF)

	require.NoError(t, outerP.SetValue(innerF))
	require.NoError(t, innerP.SetValue(99))

	v, err := unwrapped.Get()
	require.NoError(t, err)
	assert.Equal(t, 99, v)
}

func TestUnwrap_OuterErrorPropagates(t *testing.T) {
	outerP := NewPromise[*Future[int]]()
	outerF, err := outerP.Future()
	require.NoError(t, err)

	unwrapped := Unwrap[int](outerF)

	sentinel := errors.New("outer failed")
	require.NoError(t, outerP.SetException(sentinel))

	_, err = unwrapped.Get()
	assert.ErrorIs(t, err, sentinel)
}

func TestFuture_InlineCallbackWhenAlreadyReady(t *testing.T) {
	root, pool := newTestRoot()
	defer pool.Close()

	p := NewPromise[int]()
	f, err := p.Future()
	require.NoError(t, err)
	require.NoError(t, p.SetValue(5))

	// Attached from inside root's group, the continuation on an
	// already-ready future runs inline, before Then returns.
	var wg sync.WaitGroup
	wg.Add(1)
	var next *Future[int]
	var readyOnReturn bool
	require.NoError(t, root.Exec(func() {
		defer wg.Done()
		var thenErr error
		next, thenErr = Then(f, root, Queued, func(v int) (int, error) {
			return v, nil
		})
		require.NoError(t, thenErr)
		readyOnReturn = next.IsReady()
	}, Queued))
	wg.Wait()

	assert.True(t, readyOnReturn, "continuation must run inline when attached from inside the context")
	v, err := next.Get()
	require.NoError(t, err)
	assert.Equal(t, 5, v)
}
