package methodcall

import (
	"fmt"
	"sync"

	"github.com/aracom/lola/lola"
)

// CallQueueSize is hard-coded to 1: the configuration carries a
// queue_size for methods, but this core does not
// honour a value other than 1. internal/config rejects a configured
// queue_size != 1 rather than silently ignoring it.
const CallQueueSize = 1

// Queue is the per-ProxyMethod fixed-capacity call queue: a
// DynArray<InArgActiveFlags, CALL_QUEUE_SIZE> and a
// DynArray<bool, CALL_QUEUE_SIZE> tracking, respectively, per-slot
// per-in-arg pointer activity and return-value pointer activity.
type Queue struct {
	mu           sync.Mutex
	numInArgs    int
	inArgActive  [CallQueueSize][]bool
	returnActive [CallQueueSize]bool
}

// NewQueue builds a queue for a method taking numInArgs arguments.
func NewQueue(numInArgs int) *Queue {
	q := &Queue{numInArgs: numInArgs}

	for i := range q.inArgActive {
		q.inArgActive[i] = make([]bool, numInArgs)
	}

	return q
}

// Acquire finds the lowest-index free slot. For methods with in-args,
// every in-arg flag and the return flag must be false; for methods
// without in-args, only the return flag is consulted.
func (q *Queue) Acquire() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := 0; i < CallQueueSize; i++ {
		if q.returnActive[i] {
			continue
		}

		if q.numInArgs > 0 && anyTrue(q.inArgActive[i]) {
			continue
		}

		return i, nil
	}

	return -1, fmt.Errorf("%w", lola.ErrCallQueueFull)
}

func anyTrue(flags []bool) bool {
	for _, f := range flags {
		if f {
			return true
		}
	}

	return false
}

// ReleaseReturn clears the return-active flag at pos directly, bypassing
// the typed ReturnPtr handle. Production call sites never need this —
// ReturnPtr.Close is the scoped path — but an inspector tool that only
// knows a slot index and not the return type has no handle to close.
func (q *Queue) ReleaseReturn(pos int) {
	q.setReturnActive(pos, false)
}

func (q *Queue) setInArgActive(pos, argIndex int, active bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.inArgActive[pos][argIndex] = active
}

func (q *Queue) setReturnActive(pos int, active bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.returnActive[pos] = active
}
