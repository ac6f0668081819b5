package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/voxkit/batchd/types"
)

// ExecuteFunc runs one prepared job against the serialized backend.
type ExecuteFunc func(ctx context.Context, job *types.Job, input any) (*types.TranscriptionResult, error)

// SequentialExecutor processes the preprocessed jobs of a batch one at a
// time, in batch order, never issuing two concurrent calls to the execute
// callback. This is the central correctness invariant of the service:
// nothing else prevents the serialized backend from being invoked
// reentrantly by this process.
type SequentialExecutor struct {
	execute ExecuteFunc
	logger  *zap.Logger

	// busy guards against reentrant Run calls, which would indicate
	// corrupted gate accounting.
	busy atomic.Int32
}

// NewSequentialExecutor creates an executor around the execute callback.
func NewSequentialExecutor(execute ExecuteFunc, logger *zap.Logger) *SequentialExecutor {
	return &SequentialExecutor{
		execute: execute,
		logger:  logger.With(zap.String("component", "executor")),
	}
}

// Run executes every preprocessed job in the batch sequentially. Per-job
// failures are recorded on that job only; the remainder of the batch is
// still processed. Jobs that never reached preprocessed are skipped.
//
// Run returns an error only for infrastructure-level corruption (a
// concurrent Run), which is fatal to the pipeline.
func (e *SequentialExecutor) Run(ctx context.Context, batch *Batch, prepared []any) error {
	if !e.busy.CompareAndSwap(0, 1) {
		return types.NewError(types.ErrInternalError, "sequential executor invoked concurrently: gate accounting corrupted")
	}
	defer e.busy.Store(0)

	for i, job := range batch.Jobs {
		if job.State() != types.JobStatePreprocessed {
			continue
		}
		e.runOne(ctx, job, prepared[i])
	}
	return nil
}

func (e *SequentialExecutor) runOne(ctx context.Context, job *types.Job, input any) {
	if err := job.Advance(types.JobStateExecuting); err != nil {
		e.logger.Error("job state corrupted", zap.String("job_id", job.ID), zap.Error(err))
		return
	}

	start := time.Now()
	result, err := e.safeExecute(ctx, job, input)
	elapsed := time.Since(start)

	if err != nil {
		execErr := types.AsError(err, types.ErrExecutionFailed)
		e.logger.Warn("execution failed",
			zap.String("job_id", job.ID),
			zap.String("code", string(execErr.Code)),
			zap.Duration("elapsed", elapsed),
			zap.Error(execErr),
		)
		if cErr := job.Complete(types.JobStateExecutionFailed, types.FailureOutcome(execErr)); cErr != nil {
			e.logger.Error("job completion corrupted", zap.String("job_id", job.ID), zap.Error(cErr))
		}
		return
	}

	if result == nil {
		result = &types.TranscriptionResult{}
	}
	if cErr := job.Complete(types.JobStateSucceeded, types.SuccessOutcome(result)); cErr != nil {
		e.logger.Error("job completion corrupted", zap.String("job_id", job.ID), zap.Error(cErr))
		return
	}
	e.logger.Debug("job executed",
		zap.String("job_id", job.ID),
		zap.Duration("elapsed", elapsed),
	)
}

// safeExecute invokes the execute callback, converting panics into per-job
// errors so the rest of the batch still runs.
func (e *SequentialExecutor) safeExecute(ctx context.Context, job *types.Job, input any) (result *types.TranscriptionResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = types.Errorf(types.ErrExecutionFailed, "execution panicked: %v", r)
		}
	}()
	return e.execute(ctx, job, input)
}
