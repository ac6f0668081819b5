// Package sink delivers terminal job outcomes: to a synchronous waiter
// (the blocking API path) or to the job's dispatcher endpoint (the
// asynchronous callback path).
package sink

import (
	"context"

	"github.com/voxkit/batchd/types"
)

// Sink receives the terminal outcome of a job, exactly once per job.
type Sink interface {
	Deliver(ctx context.Context, job *types.Job, outcome types.Outcome) error
}

// Func adapts a function to the Sink interface.
type Func func(ctx context.Context, job *types.Job, outcome types.Outcome) error

func (f Func) Deliver(ctx context.Context, job *types.Job, outcome types.Outcome) error {
	return f(ctx, job, outcome)
}
