// Package queue provides the pending-job queue consumed by the batch
// collector and fed by the API layer.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/voxkit/batchd/types"
)

// ErrEmpty is returned by PopBlocking when the timeout elapses with no job
// available. It is a normal outcome, not a failure.
var ErrEmpty = errors.New("queue: no job available")

// Queue is a blocking, poppable, multi-item-drainable queue of pending jobs.
// The batch collector is the only reader; Enqueue and Len serve the API side.
type Queue interface {
	// PopBlocking blocks up to timeout for the next job. Returns ErrEmpty on
	// timeout. Connection-level failures surface as QUEUE_UNAVAILABLE errors.
	PopBlocking(ctx context.Context, timeout time.Duration) (*types.Job, error)

	// Drain returns immediately all jobs currently available, in arrival
	// order, up to max. An empty slice is a normal outcome.
	Drain(ctx context.Context, max int) ([]*types.Job, error)

	// Enqueue appends a job to the queue.
	Enqueue(ctx context.Context, job *types.Job) error

	// Len returns the number of pending jobs.
	Len(ctx context.Context) (int64, error)
}
