package aocontext

import "time"

// SetTimeoutFunc arms a one-shot timer bound to ctx: after timeout
// elapses, handler runs on ctx's strand with a nil error. If ctx closes
// first, the timer is stopped and handler never runs. Returns
// ErrContextClosed without arming anything if ctx is already closing.
func SetTimeoutFunc(ctx *AOContext, timeout time.Duration, handler func(error)) error {
	timer := time.AfterFunc(timeout, func() {
		_ = ctx.Exec(func() { handler(nil) }, Queued)
	})

	if _, err := ctx.AddCloseHandler(func() { timer.Stop() }); err != nil {
		timer.Stop()
		return err
	}
	return nil
}

// SetTimeout is SetTimeoutFunc expressed as a Future: it resolves with
// no value after timeout, or fails with ErrOperationCancelled if ctx
// closes first (via a close handler on ctx, the same backstop Then/Fail
// rely on).
func SetTimeout(ctx *AOContext, timeout time.Duration) (*Future[struct{}], error) {
	promise := NewPromise[struct{}]()
	result, _ := promise.Future()

	err := SetTimeoutFunc(ctx, timeout, func(error) {
		_ = promise.SetValue(struct{}{})
	})
	if err != nil {
		return nil, err
	}

	_, _ = ctx.AddCloseHandler(func() {
		_ = promise.SetException(&CancelledError{})
	})

	return result, nil
}

// SetInterval starts a periodic timer bound to ctx, invoking handler on
// ctx's strand every interval. The timer stops when ctx closes or when
// handler returns false; it never runs handler concurrently with
// itself.
func SetInterval(ctx *AOContext, interval time.Duration, handler func() bool) error {
	ticker := time.NewTicker(interval)
	stop := make(chan struct{})

	node, err := ctx.AddCloseHandler(func() {
		ticker.Stop()
		close(stop)
	})
	if err != nil {
		ticker.Stop()
		return err
	}

	go func() {
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				cont := make(chan bool, 1)
				if execErr := ctx.Exec(func() { cont <- handler() }, Queued); execErr != nil {
					return
				}
				if !<-cont {
					ticker.Stop()
					ctx.RemoveCloseHandler(node)
					return
				}
			}
		}
	}()

	return nil
}
