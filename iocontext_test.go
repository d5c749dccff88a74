package aocontext

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIoContextExecutor_IoCtxReturnsReactor(t *testing.T) {
	exec := NewIoContextExecutor(context.Background(), 2)
	defer exec.Close()

	reactor, err := exec.IoCtx()
	require.NoError(t, err)
	require.NotNil(t, reactor)

	select {
	case <-reactor.Done():
		t.Fatal("reactor must not be done before Close")
	default:
	}
}

func TestIoContextExecutor_ExecRunsWork(t *testing.T) {
	exec := NewIoContextExecutor(context.Background(), 2)
	defer exec.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	ran := false
	require.NoError(t, exec.Exec(func() {
		ran = true
		wg.Done()
	}, Queued))
	wg.Wait()
	assert.True(t, ran)
}

func TestIoContextExecutor_CloseClosesReactor(t *testing.T) {
	exec := NewIoContextExecutor(context.Background(), 2)
	reactor, err := exec.IoCtx()
	require.NoError(t, err)

	exec.Close()

	select {
	case <-reactor.Done():
	default:
		t.Fatal("reactor must be done after Close")
	}
}
