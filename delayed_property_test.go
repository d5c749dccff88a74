package aocontext

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelayedProperty_ApplyCommitsValue(t *testing.T) {
	prop := NewDelayedProperty(1)
	fut := prop.SetNewValue(2)

	assert.True(t, prop.HasNewValue())
	require.NoError(t, prop.ApplyNewValue(nil))
	assert.False(t, prop.HasNewValue())
	assert.Equal(t, 2, prop.GetCurrentValue())

	require.NoError(t, waitFuture(t, fut))
}

func TestDelayedProperty_SecondSetCancelsFirst(t *testing.T) {
	prop := NewDelayedProperty(0)
	firstFut := prop.SetNewValue(1)
	prop.SetNewValue(2)

	_, err := firstFut.Get()
	var cancelled *CancelledError
	assert.ErrorAs(t, err, &cancelled)

	require.NoError(t, prop.ApplyNewValue(nil))
	assert.Equal(t, 2, prop.GetCurrentValue())
}

func TestDelayedProperty_ApplyHandlerErrorFailsFutureWithoutCommitting(t *testing.T) {
	prop := NewDelayedProperty(5)
	fut := prop.SetNewValue(6)

	sentinel := errors.New("apply failed")
	err := prop.ApplyNewValue(func(int) error { return sentinel })
	assert.ErrorIs(t, err, sentinel)

	assert.Equal(t, 5, prop.GetCurrentValue())
	_, getErr := fut.Get()
	assert.ErrorIs(t, getErr, sentinel)
}

func TestDelayedProperty_WaitNewValueUnblocksOnSet(t *testing.T) {
	prop := NewDelayedProperty("a")
	done := make(chan struct{})
	go func() {
		prop.WaitNewValue()
		close(done)
	}()

	time.Sleep(5 * time.Millisecond)
	prop.SetNewValue("b")

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitNewValue never unblocked")
	}
}

func TestDelayedProperty_WaitNewValueTimeoutExpires(t *testing.T) {
	prop := NewDelayedProperty(0)
	got := prop.WaitNewValueTimeout(10 * time.Millisecond)
	assert.False(t, got)
}

func TestDelayedProperty_ApplyWithNothingStagedIsNoop(t *testing.T) {
	prop := NewDelayedProperty(9)
	require.NoError(t, prop.ApplyNewValue(nil))
	assert.Equal(t, 9, prop.GetCurrentValue())
}
