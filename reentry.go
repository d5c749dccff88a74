package aocontext

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"

	"github.com/google/uuid"
)

// Go has no built-in thread-local storage; this file implements the
// "thread-local reentrancy detection" spec §9 design notes call for using
// the standard (if slightly unusual) technique of parsing the calling
// goroutine's ID out of a runtime.Stack trace, then keying a per-goroutine
// set of "group IDs currently executing" off of it. No example in the
// retrieval pack provides goroutine-local storage (the pack's own
// `goroutineid` module is an empty placeholder with no implementation to
// ground on), so this is deliberately stdlib-only.
//
// This set backs two invariants from spec §4.2:
//   - AOContext.exec: if the calling goroutine is already inside this
//     context's group, run work inline instead of posting to the strand.
//   - AOContext.close: if the calling goroutine is already inside this
//     context's group (e.g. close() called from within a close handler,
//     or from inside exec'd work), don't block waiting on block_close —
//     the reservation belongs to this very call stack.
var groupEntry sync.Map // goroutineID uint64 -> *groupCounts

type groupCounts struct {
	mu     sync.Mutex
	counts map[uuid.UUID]int
}

func currentGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := buf[:n]
	// Format: "goroutine 123 [running]:\n..."
	const prefix = "goroutine "
	if !bytes.HasPrefix(b, []byte(prefix)) {
		return 0
	}
	b = b[len(prefix):]
	sp := bytes.IndexByte(b, ' ')
	if sp < 0 {
		return 0
	}
	id, err := strconv.ParseUint(string(b[:sp]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

func enterGroup(group uuid.UUID) {
	gid := currentGoroutineID()
	v, _ := groupEntry.LoadOrStore(gid, &groupCounts{counts: make(map[uuid.UUID]int)})
	gc := v.(*groupCounts)
	gc.mu.Lock()
	gc.counts[group]++
	gc.mu.Unlock()
}

func leaveGroup(group uuid.UUID) {
	gid := currentGoroutineID()
	v, ok := groupEntry.Load(gid)
	if !ok {
		return
	}
	gc := v.(*groupCounts)
	gc.mu.Lock()
	gc.counts[group]--
	if gc.counts[group] <= 0 {
		delete(gc.counts, group)
	}
	empty := len(gc.counts) == 0
	gc.mu.Unlock()
	if empty {
		groupEntry.Delete(gid)
	}
}

// inGroup reports whether the calling goroutine is currently executing
// inside work entered via enterGroup for the given group ID.
func inGroup(group uuid.UUID) bool {
	return groupLocalCount(group) > 0
}

// groupLocalCount returns how many times the calling goroutine has called
// enterGroup for the given group ID without a matching leaveGroup. This
// doubles as the "thread-local counter" spec §4.2's close algorithm spins
// against: the same count of in-flight block_close reservations this
// goroutine itself currently holds for the group.
func groupLocalCount(group uuid.UUID) uint64 {
	v, ok := groupEntry.Load(currentGoroutineID())
	if !ok {
		return 0
	}
	gc := v.(*groupCounts)
	gc.mu.Lock()
	defer gc.mu.Unlock()
	return uint64(gc.counts[group])
}
