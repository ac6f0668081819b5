package scheduler

import (
	"time"

	"github.com/voxkit/batchd/types"
)

// Observer receives scheduling events for status reporting and metrics.
// Implementations must be safe for concurrent use.
type Observer interface {
	// BatchCollected is called once per dispatched batch.
	BatchCollected(size int, window time.Duration)
	// JobFinished is called once per job reaching a terminal state.
	JobFinished(state types.JobState, elapsed time.Duration)
	// GateWait records how long a batch waited for a gate permit.
	GateWait(wait time.Duration)
	// ExecutingBatches tracks entry (+1) and exit (-1) of the execution phase.
	ExecutingBatches(delta int)
	// InflightCycles tracks pipeline cycles currently in flight.
	InflightCycles(delta int)
}

// NopObserver discards all events.
type NopObserver struct{}

func (NopObserver) BatchCollected(int, time.Duration)          {}
func (NopObserver) JobFinished(types.JobState, time.Duration)  {}
func (NopObserver) GateWait(time.Duration)                     {}
func (NopObserver) ExecutingBatches(int)                       {}
func (NopObserver) InflightCycles(int)                         {}

var _ Observer = NopObserver{}
