package aocontext

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingConsumer struct {
	mu         sync.Mutex
	values     []int
	closeAfter int
}

func (c *recordingConsumer) Consume(v int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values = append(c.values, v)
	if c.closeAfter > 0 && len(c.values) >= c.closeAfter {
		return ErrConsumerClosed
	}
	return nil
}

func (c *recordingConsumer) snapshot() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int, len(c.values))
	copy(out, c.values)
	return out
}

func TestConsumerList_BroadcastsToAll(t *testing.T) {
	list := NewConsumerList[int]()
	a := &recordingConsumer{}
	b := &recordingConsumer{}
	list.Add(a)
	list.Add(b)

	require.NoError(t, list.Consume(1))
	require.NoError(t, list.Consume(2))

	assert.Equal(t, []int{1, 2}, a.snapshot())
	assert.Equal(t, []int{1, 2}, b.snapshot())
}

func TestConsumerList_RemovesClosedConsumer(t *testing.T) {
	list := NewConsumerList[int]()
	closesFast := &recordingConsumer{closeAfter: 1}
	keeps := &recordingConsumer{}
	list.Add(closesFast)
	list.Add(keeps)

	require.NoError(t, list.Consume(1))
	require.NoError(t, list.Consume(2))

	assert.Equal(t, []int{1}, closesFast.snapshot())
	assert.Equal(t, []int{1, 2}, keeps.snapshot())
}

func TestConsumerList_CloseStopsBroadcast(t *testing.T) {
	list := NewConsumerList[int]()
	c := &recordingConsumer{}
	list.Add(c)
	list.Close()

	err := list.Consume(1)
	assert.ErrorIs(t, err, ErrConsumerClosed)
	assert.Empty(t, c.snapshot())
}

func TestConsumerList_SurvivingPanicKeepsConsumer(t *testing.T) {
	list := NewConsumerList[int]()
	calls := 0
	list.Add(consumerFunc(func(v int) error {
		calls++
		if calls == 1 {
			panic("boom")
		}
		return nil
	}))

	require.NoError(t, list.Consume(1))
	require.NoError(t, list.Consume(2))
	assert.Equal(t, 2, calls)
}

type consumerFunc func(int) error

func (f consumerFunc) Consume(v int) error { return f(v) }

func TestFuncProducer_FeedsAttachedConsumer(t *testing.T) {
	values := []int{1, 2, 3}
	i := 0
	producer := NewFuncProducer[int](func() (int, bool) {
		time.Sleep(5 * time.Millisecond)
		if i >= len(values) {
			return 0, false
		}
		v := values[i]
		i++
		return v, true
	})

	c := &recordingConsumer{}
	producer.AttachConsumer(c)

	require.NoError(t, waitFuture(t, producer.task.AsyncWaitForStopped()))
	assert.Eventually(t, func() bool {
		return len(c.snapshot()) == 3
	}, time.Second, time.Millisecond)
}

func TestFuncProducer_StopEndsEarly(t *testing.T) {
	producer := NewFuncProducer[int](func() (int, bool) {
		time.Sleep(time.Millisecond)
		return 0, true
	})
	require.NoError(t, waitFuture(t, producer.Stop()))
}
