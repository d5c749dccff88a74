package aocontext

import "sync/atomic"

// AtomicEnum is a lock-free state machine for small enum-like types,
// generalizing the teacher's FastState (see eventloop.FastState) with Go
// generics; ManageableTask's lifecycle state uses it instead of
// hand-rolling its own CAS loop.
type AtomicEnum[T ~int32] struct {
	v atomic.Int32
}

// NewAtomicEnum creates a state machine initialized to the given value.
func NewAtomicEnum[T ~int32](initial T) *AtomicEnum[T] {
	s := &AtomicEnum[T]{}
	s.v.Store(int32(initial))
	return s
}

// Load returns the current state.
func (s *AtomicEnum[T]) Load() T {
	return T(s.v.Load())
}

// Store unconditionally stores a new state. Use only for irreversible
// terminal transitions; prefer TryTransition elsewhere so concurrent
// writers cannot clobber each other.
func (s *AtomicEnum[T]) Store(val T) {
	s.v.Store(int32(val))
}

// TryTransition attempts an atomic CAS from one state to another.
func (s *AtomicEnum[T]) TryTransition(from, to T) bool {
	return s.v.CompareAndSwap(int32(from), int32(to))
}

// TransitionAny attempts to move from any of validFrom to to, trying each
// candidate in order until one CAS succeeds.
func (s *AtomicEnum[T]) TransitionAny(validFrom []T, to T) bool {
	for _, from := range validFrom {
		if s.v.CompareAndSwap(int32(from), int32(to)) {
			return true
		}
	}
	return false
}

// --- AOContext packed state word ---
//
// Per spec §4.2: a single 64-bit atomic combining an 8-bit flag byte, a
// 32-bit reference count, and a 24-bit block-close counter:
//
//	{ flags:8 | ref_count:32 | block_close:24 }
//
// flags occupies the high byte so flag-only reads/writes (the common case
// in exec's fast path) can be done with a single shift+mask.

type ctxFlag uint64

const (
	flagPreparing ctxFlag = 1 << iota // close() has been called, no new work admitted
	flagClosing                       // draining block_close, handlers about to run
	flagClosed                        // fully closed, terminal
)

const (
	blockCloseBits = 24
	blockCloseMask = (uint64(1) << blockCloseBits) - 1
	refCountBits   = 32
	refCountMask   = (uint64(1) << refCountBits) - 1
	refCountShift  = blockCloseBits
	flagsShift     = blockCloseBits + refCountBits
	maxBlockClose  = blockCloseMask
	maxRefCount    = refCountMask
)

func packCtxWord(flags ctxFlag, refCount, blockClose uint64) uint64 {
	return (uint64(flags) << flagsShift) | ((refCount & refCountMask) << refCountShift) | (blockClose & blockCloseMask)
}

func unpackCtxWord(word uint64) (flags ctxFlag, refCount, blockClose uint64) {
	flags = ctxFlag(word >> flagsShift)
	refCount = (word >> refCountShift) & refCountMask
	blockClose = word & blockCloseMask
	return
}

// ctxState is the atomic word described above, plus the helpers AOContext
// needs to manipulate it. It has no knowledge of AOContext itself.
type ctxState struct {
	word atomic.Uint64
}

func newCtxState() *ctxState {
	return &ctxState{}
}

func (s *ctxState) load() (flags ctxFlag, refCount, blockClose uint64) {
	return unpackCtxWord(s.word.Load())
}

// tryReserve attempts to add 1 to both ref_count and block_close, failing
// if flagPreparing is already set (the context is closing/closed). This is
// the first step of AOContext.exec's algorithm (spec §4.2).
func (s *ctxState) tryReserve() bool {
	for {
		old := s.word.Load()
		flags, refCount, blockClose := unpackCtxWord(old)
		if flags&flagPreparing != 0 {
			return false
		}
		next := packCtxWord(flags, refCount+1, blockClose+1)
		if s.word.CompareAndSwap(old, next) {
			return true
		}
	}
}

// release subtracts 1 from both ref_count and block_close.
func (s *ctxState) release() {
	for {
		old := s.word.Load()
		flags, refCount, blockClose := unpackCtxWord(old)
		var nextRef, nextBlock uint64
		if refCount > 0 {
			nextRef = refCount - 1
		}
		if blockClose > 0 {
			nextBlock = blockClose - 1
		}
		next := packCtxWord(flags, nextRef, nextBlock)
		if s.word.CompareAndSwap(old, next) {
			return
		}
	}
}

// releaseBlockCloseOnly subtracts 1 from block_close without touching
// ref_count (used when the ref is transferred into a trampoline that will
// release it later, but block_close for the submitting call is done).
func (s *ctxState) releaseBlockCloseOnly() {
	for {
		old := s.word.Load()
		flags, refCount, blockClose := unpackCtxWord(old)
		var nextBlock uint64
		if blockClose > 0 {
			nextBlock = blockClose - 1
		}
		next := packCtxWord(flags, refCount, nextBlock)
		if s.word.CompareAndSwap(old, next) {
			return
		}
	}
}

// reserveBlockCloseOnly adds 1 to block_close without touching ref_count,
// failing if flagPreparing is set. Used by a dispatched trampoline to
// re-validate that the context hasn't started closing since it was queued.
func (s *ctxState) reserveBlockCloseOnly() bool {
	for {
		old := s.word.Load()
		flags, refCount, blockClose := unpackCtxWord(old)
		if flags&flagPreparing != 0 {
			return false
		}
		next := packCtxWord(flags, refCount, blockClose+1)
		if s.word.CompareAndSwap(old, next) {
			return true
		}
	}
}

// releaseRefOnly subtracts 1 from ref_count without touching block_close.
func (s *ctxState) releaseRefOnly() {
	for {
		old := s.word.Load()
		flags, refCount, blockClose := unpackCtxWord(old)
		var nextRef uint64
		if refCount > 0 {
			nextRef = refCount - 1
		}
		next := packCtxWord(flags, nextRef, blockClose)
		if s.word.CompareAndSwap(old, next) {
			return
		}
	}
}

// setPreparing sets flagPreparing, returning false if it was already set.
func (s *ctxState) setPreparing() bool {
	for {
		old := s.word.Load()
		flags, refCount, blockClose := unpackCtxWord(old)
		if flags&flagPreparing != 0 {
			return false
		}
		next := packCtxWord(flags|flagPreparing, refCount, blockClose)
		if s.word.CompareAndSwap(old, next) {
			return true
		}
	}
}

func (s *ctxState) setClosing() {
	for {
		old := s.word.Load()
		flags, refCount, blockClose := unpackCtxWord(old)
		next := packCtxWord(flags|flagClosing, refCount, blockClose)
		if s.word.CompareAndSwap(old, next) {
			return
		}
	}
}

func (s *ctxState) setClosed() {
	for {
		old := s.word.Load()
		flags, refCount, blockClose := unpackCtxWord(old)
		next := packCtxWord(flags|flagClosed, refCount, blockClose)
		if s.word.CompareAndSwap(old, next) {
			return
		}
	}
}

func (s *ctxState) isClosed() bool {
	flags, _, _ := s.load()
	return flags&flagClosed != 0
}

func (s *ctxState) isPreparingOrLater() bool {
	flags, _, _ := s.load()
	return flags&flagPreparing != 0
}

func (s *ctxState) blockCloseCount() uint64 {
	_, _, blockClose := s.load()
	return blockClose
}
