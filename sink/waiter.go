package sink

import (
	"sync"

	"github.com/voxkit/batchd/types"
)

// WaiterRegistry tracks synchronous callers blocked on a job outcome. The
// API handler registers before enqueueing; the dispatcher claims the waiter
// at delivery time. Each waiter receives at most one outcome.
type WaiterRegistry struct {
	mu      sync.Mutex
	waiters map[string]chan types.Outcome
}

// NewWaiterRegistry creates an empty registry.
func NewWaiterRegistry() *WaiterRegistry {
	return &WaiterRegistry{waiters: make(map[string]chan types.Outcome)}
}

// Register creates a waiter for jobID. The returned channel yields the
// outcome once; cancel must be called if the caller stops waiting.
func (r *WaiterRegistry) Register(jobID string) (<-chan types.Outcome, func()) {
	ch := make(chan types.Outcome, 1)
	r.mu.Lock()
	r.waiters[jobID] = ch
	r.mu.Unlock()

	cancel := func() {
		r.mu.Lock()
		delete(r.waiters, jobID)
		r.mu.Unlock()
	}
	return ch, cancel
}

// claim removes and returns the waiter for jobID, if any.
func (r *WaiterRegistry) claim(jobID string) (chan types.Outcome, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.waiters[jobID]
	if ok {
		delete(r.waiters, jobID)
	}
	return ch, ok
}

// Len returns the number of registered waiters.
func (r *WaiterRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.waiters)
}
