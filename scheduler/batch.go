// Package scheduler implements the micro-batching pipeline that turns the
// pending-job queue into batched execution against a single serialized
// compute resource: windowed batch collection, bounded-parallel
// preprocessing, gated strictly-sequential execution, and the overlap of one
// batch's preprocessing with another batch's execution.
package scheduler

import (
	"time"

	"github.com/google/uuid"

	"github.com/voxkit/batchd/types"
)

// Batch is an ordered, bounded collection of jobs gathered within one
// collection window. Insertion order is admission order and defines the
// execution order within the batch.
type Batch struct {
	ID       string
	Capacity int
	Jobs     []*types.Job

	WindowOpenedAt time.Time
	WindowClosedAt time.Time
}

// NewBatch creates an empty batch with the given capacity.
func NewBatch(capacity int) *Batch {
	return &Batch{
		ID:       uuid.New().String(),
		Capacity: capacity,
		Jobs:     make([]*types.Job, 0, capacity),
	}
}

// Size returns the number of jobs collected so far.
func (b *Batch) Size() int {
	return len(b.Jobs)
}

// Full reports whether the batch has reached capacity.
func (b *Batch) Full() bool {
	return len(b.Jobs) >= b.Capacity
}

// add appends jobs in order, never beyond capacity. It returns the number
// of jobs actually admitted.
func (b *Batch) add(jobs ...*types.Job) int {
	n := 0
	for _, job := range jobs {
		if b.Full() {
			break
		}
		b.Jobs = append(b.Jobs, job)
		n++
	}
	return n
}
