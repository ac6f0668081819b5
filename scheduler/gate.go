package scheduler

import (
	"context"
	"sync"

	"github.com/voxkit/batchd/types"
)

// Gate bounds how many batches may be inside the serialized execution phase
// at once. Acquisition is fair: blocked callers are granted permits in
// arrival order. A permit is released exactly once; extra Release calls are
// no-ops.
type Gate struct {
	mu      sync.Mutex
	size    int
	held    int
	waiters []chan struct{}
}

// NewGate creates a gate with the given permit count. Size below 1 is
// treated as 1: a single-accelerator deployment.
func NewGate(size int) *Gate {
	if size < 1 {
		size = 1
	}
	return &Gate{size: size}
}

// Permit is a single gate admission. Release returns it; it is safe to call
// Release more than once, only the first call has effect.
type Permit struct {
	gate *Gate
	once sync.Once
}

// Release returns the permit to the gate.
func (p *Permit) Release() {
	p.once.Do(p.gate.release)
}

// Acquire blocks until a permit is available or ctx is done. A context
// deadline maps to GATE_TIMEOUT.
func (g *Gate) Acquire(ctx context.Context) (*Permit, error) {
	g.mu.Lock()
	if g.held < g.size {
		g.held++
		g.mu.Unlock()
		return &Permit{gate: g}, nil
	}
	w := make(chan struct{})
	g.waiters = append(g.waiters, w)
	g.mu.Unlock()

	select {
	case <-w:
		return &Permit{gate: g}, nil
	case <-ctx.Done():
		g.mu.Lock()
		for i, other := range g.waiters {
			if other == w {
				g.waiters = append(g.waiters[:i], g.waiters[i+1:]...)
				g.mu.Unlock()
				if ctx.Err() == context.DeadlineExceeded {
					return nil, types.NewError(types.ErrGateTimeout, "timed out waiting for gate permit").WithCause(ctx.Err())
				}
				return nil, ctx.Err()
			}
		}
		g.mu.Unlock()
		// The permit was granted concurrently with cancellation: the grant
		// already transferred a held slot to us, so hand it back.
		<-w
		g.release()
		if ctx.Err() == context.DeadlineExceeded {
			return nil, types.NewError(types.ErrGateTimeout, "timed out waiting for gate permit").WithCause(ctx.Err())
		}
		return nil, ctx.Err()
	}
}

// release hands the slot to the oldest waiter, or frees it.
func (g *Gate) release() {
	g.mu.Lock()
	if len(g.waiters) > 0 {
		w := g.waiters[0]
		g.waiters = g.waiters[1:]
		g.mu.Unlock()
		close(w)
		return
	}
	g.held--
	g.mu.Unlock()
}

// InFlight returns the number of permits currently held.
func (g *Gate) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.held
}

// Size returns the permit count.
func (g *Gate) Size() int {
	return g.size
}

// Available returns the number of free permits.
func (g *Gate) Available() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.size - g.held
}
