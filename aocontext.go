package aocontext

import (
	"runtime"
	"sync"

	"github.com/google/uuid"
)

// AOContext is a cancellation-scoped serialization domain layered over an
// Executor. All work submitted through a context, or through any of its
// descendants, runs serially with respect to that family (they share a
// strand); closing a context cancels every handler registered through it
// and, transitively, every descendant context, without running them.
type AOContext struct {
	groupID uuid.UUID
	strand  SequenceExecutor
	parent  *AOContext
	logger  *Logger

	state *ctxState

	handlersMu     sync.Mutex
	handlersHead   *closeHandlerNode
	handlersTail   *closeHandlerNode
	closingActive  bool
	closingGID     uint64
	currentHandler *closeHandlerNode

	closed     chan struct{}
	closedOnce sync.Once

	fromParent *closeHandlerNode
}

type closeHandlerNode struct {
	fn             func()
	prev, next     *closeHandlerNode
	done           chan struct{}
	detached       bool
	doneClosedOnce sync.Once
}

// NewRootContext creates an AOContext bound directly to executor. If
// executor already satisfies SequenceExecutor, it is reused as-is (no
// extra strand is layered on top); otherwise a new StrandExecutor wraps
// it.
func NewRootContext(executor Executor, opts ...ContextOption) *AOContext {
	cfg := resolveContextOptions(opts)

	var strand SequenceExecutor
	if se, ok := executor.(SequenceExecutor); ok {
		strand = se
	} else {
		strand = NewStrandExecutor(executor)
	}

	return &AOContext{
		groupID: uuid.New(),
		strand:  strand,
		logger:  cfg.logger,
		state:   newCtxState(),
		closed:  make(chan struct{}),
	}
}

// NewChildContext creates a context nested under parent: it inherits
// parent's group id and reuses parent's strand directly (children funnel
// through exactly the same serialization point as their ancestors), and
// registers itself as one of parent's close handlers so that closing
// parent closes every descendant. Fails with ErrContextClosed if parent
// has begun closing.
func NewChildContext(parent *AOContext, opts ...ContextOption) (*AOContext, error) {
	cfg := &contextOptions{logger: parent.logger}
	for _, o := range opts {
		if o != nil {
			o.applyContext(cfg)
		}
	}
	logger := cfg.logger

	child := &AOContext{
		groupID: parent.groupID,
		strand:  parent.strand,
		parent:  parent,
		logger:  logger,
		state:   newCtxState(),
		closed:  make(chan struct{}),
	}

	node, err := parent.AddCloseHandler(func() { child.Close() })
	if err != nil {
		return nil, err
	}
	child.fromParent = node
	return child, nil
}

// Executor returns the SequenceExecutor work submitted through this
// context ultimately runs on.
func (c *AOContext) Executor() SequenceExecutor {
	return c.strand
}

// IsOpen reports whether the context has not yet begun closing.
func (c *AOContext) IsOpen() bool {
	return !c.state.isPreparingOrLater()
}

// InThisThread reports whether the calling goroutine is currently
// executing inside work dispatched through this context's group (this
// context or any sibling/ancestor/descendant sharing the same root).
func (c *AOContext) InThisThread() bool {
	return inGroup(c.groupID)
}

// Exec submits work to this context's strand. If the context is already
// closing/closed, work is dropped and ErrContextClosed is returned
// without running it. If mode is InlineIfPossible and the caller is
// already executing inside this context's group, work runs synchronously
// before Exec returns.
func (c *AOContext) Exec(work func(), mode ExecMode) error {
	if !c.state.tryReserve() {
		return ErrContextClosed
	}

	if mode == InlineIfPossible && inGroup(c.groupID) {
		defer c.state.release()
		c.runEntered(work)
		return nil
	}

	err := c.strand.Exec(c.trampoline(work), Queued)
	c.state.releaseBlockCloseOnly()
	if err != nil {
		c.state.releaseRefOnly()
		return err
	}
	return nil
}

// trampoline builds the closure dispatched to the strand: it re-validates
// the context hasn't started closing since it was queued (dropping work
// silently if so), then runs work under the group's reentrancy marker.
func (c *AOContext) trampoline(work func()) func() {
	return func() {
		if !c.state.reserveBlockCloseOnly() {
			c.state.releaseRefOnly()
			return
		}
		defer c.state.release()
		c.runEntered(work)
	}
}

func (c *AOContext) runEntered(work func()) {
	enterGroup(c.groupID)
	defer leaveGroup(c.groupID)
	c.safeRun(work)
}

func (c *AOContext) safeRun(work func()) {
	defer func() {
		if r := recover(); r != nil {
			logPanic(c.logger, "aocontext.exec", r)
		}
	}()
	work()
}

// StartCancellable registers handler as a close handler, then calls
// start(). If start returns an error, handler is unregistered and the
// error propagates to the caller; otherwise handler remains registered
// until the context closes or RemoveCloseHandler is called on its node.
func (c *AOContext) StartCancellable(start func() error, handler func()) error {
	node, err := c.AddCloseHandler(handler)
	if err != nil {
		return err
	}
	if err := start(); err != nil {
		c.RemoveCloseHandler(node)
		return err
	}
	return nil
}

// AddCloseHandler registers fn to run (at most once) when the context
// closes, in LIFO order relative to other handlers. Returns a node used
// to unregister it early with RemoveCloseHandler. Fails with
// ErrContextClosed once the context has started closing.
func (c *AOContext) AddCloseHandler(fn func()) (*closeHandlerNode, error) {
	node := &closeHandlerNode{fn: fn, done: make(chan struct{})}

	c.handlersMu.Lock()
	if c.state.isPreparingOrLater() {
		c.handlersMu.Unlock()
		return nil, ErrContextClosed
	}
	c.pushFrontLocked(node)
	c.handlersMu.Unlock()
	return node, nil
}

// RemoveCloseHandler detaches node, preventing it from running if the
// context hasn't closed yet. If node's handler is currently being invoked
// by Close() on this same goroutine (a reentrant removal from within the
// handler's own body), it returns immediately; otherwise, if the handler
// is already being invoked on another goroutine, it blocks until that
// invocation finishes.
func (c *AOContext) RemoveCloseHandler(node *closeHandlerNode) {
	if node == nil {
		return
	}

	c.handlersMu.Lock()
	if node.detached {
		reentrant := c.closingActive && c.currentHandler == node && c.closingGID == currentGoroutineID()
		c.handlersMu.Unlock()
		if reentrant {
			// handler is removing itself from within its own on-close
			// body: the close loop will still close node.done right
			// after this call returns, so just don't block on it.
			return
		}
		<-node.done
		return
	}
	c.detachLocked(node)
	node.detached = true
	c.handlersMu.Unlock()
	node.doneClosedOnce.Do(func() { close(node.done) })
}

func (c *AOContext) pushFrontLocked(node *closeHandlerNode) {
	node.next = c.handlersHead
	if c.handlersHead != nil {
		c.handlersHead.prev = node
	}
	c.handlersHead = node
	if c.handlersTail == nil {
		c.handlersTail = node
	}
}

func (c *AOContext) detachLocked(node *closeHandlerNode) {
	if node.prev != nil {
		node.prev.next = node.next
	} else {
		c.handlersHead = node.next
	}
	if node.next != nil {
		node.next.prev = node.prev
	} else {
		c.handlersTail = node.prev
	}
	node.prev, node.next = nil, nil
}

// Close begins closing the context. Idempotent: a second call observes
// the first call's progress and returns once closed (or immediately, if
// called reentrantly from within this context's own group). After Close
// returns the context is permanently Closed: no handler registered
// through it, and no queued Exec work, will run again.
func (c *AOContext) Close() {
	if !c.state.setPreparing() {
		if !inGroup(c.groupID) {
			<-c.closed
		}
		return
	}

	local := groupLocalCount(c.groupID)
	for c.state.blockCloseCount() > local {
		runtime.Gosched()
	}

	c.state.setClosing()

	enterGroup(c.groupID)
	c.runCloseHandlers()
	leaveGroup(c.groupID)

	if c.parent != nil && c.fromParent != nil {
		c.parent.RemoveCloseHandler(c.fromParent)
	}

	c.state.setClosed()
	c.closedOnce.Do(func() { close(c.closed) })
}

func (c *AOContext) runCloseHandlers() {
	c.handlersMu.Lock()
	c.closingActive = true
	c.closingGID = currentGoroutineID()

	for {
		node := c.handlersHead
		if node == nil {
			break
		}
		c.detachLocked(node)
		node.detached = true
		c.currentHandler = node
		c.handlersMu.Unlock()

		c.safeRunHandler(node.fn)

		node.doneClosedOnce.Do(func() { close(node.done) })

		c.handlersMu.Lock()
		c.currentHandler = nil
	}

	c.closingActive = false
	c.handlersMu.Unlock()
}

func (c *AOContext) safeRunHandler(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logPanic(c.logger, "aocontext.close_handler", r)
		}
	}()
	fn()
}
