package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/voxkit/batchd/types"
)

// PrepareFunc runs the CPU/network-bound preparation for one job (fetch,
// decode, normalize) and returns an opaque prepared input for execution.
type PrepareFunc func(ctx context.Context, job *types.Job) (any, error)

// PreprocessPool runs PrepareFunc for every job in a batch with bounded
// parallelism, independent of batch size. One job's failure (or panic) never
// aborts its siblings; the failed job is completed as preprocessing_failed
// and excluded from execution.
type PreprocessPool struct {
	prepare PrepareFunc
	workers int
	logger  *zap.Logger
}

// NewPreprocessPool creates a pool with the given worker bound.
func NewPreprocessPool(workers int, prepare PrepareFunc, logger *zap.Logger) *PreprocessPool {
	if workers <= 0 {
		workers = 4
	}
	return &PreprocessPool{
		prepare: prepare,
		workers: workers,
		logger:  logger.With(zap.String("component", "preprocess")),
	}
}

// Run prepares every job in the batch and returns the prepared inputs
// aligned with batch.Jobs. It returns only once every job has reached
// preprocessed or preprocessing_failed. Entries for failed jobs are nil.
func (p *PreprocessPool) Run(ctx context.Context, batch *Batch) []any {
	prepared := make([]any, batch.Size())

	var g errgroup.Group
	g.SetLimit(p.workers)
	for i, job := range batch.Jobs {
		g.Go(func() error {
			prepared[i] = p.prepareOne(ctx, job)
			return nil
		})
	}
	// Workers never return errors; failures are recorded per job.
	_ = g.Wait()

	return prepared
}

// prepareOne moves one job through the preprocessing states. It returns the
// prepared input, or nil after completing the job as preprocessing_failed.
func (p *PreprocessPool) prepareOne(ctx context.Context, job *types.Job) (input any) {
	if err := job.Advance(types.JobStatePreprocessing); err != nil {
		p.logger.Error("job state corrupted", zap.String("job_id", job.ID), zap.Error(err))
		return nil
	}

	start := time.Now()
	var prepErr *types.Error

	if invalid := job.Invalid(); invalid != nil {
		// The queue payload never decoded; surface that as the failure.
		prepErr = invalid
	} else {
		in, err := p.safePrepare(ctx, job)
		if err != nil {
			prepErr = types.AsError(err, types.ErrPreprocessingFailed)
		} else {
			input = in
		}
	}

	if prepErr != nil {
		p.logger.Warn("preprocessing failed",
			zap.String("job_id", job.ID),
			zap.String("code", string(prepErr.Code)),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(prepErr),
		)
		if err := job.Complete(types.JobStatePreprocessingFailed, types.FailureOutcome(prepErr)); err != nil {
			p.logger.Error("job completion corrupted", zap.String("job_id", job.ID), zap.Error(err))
		}
		return nil
	}

	if err := job.Advance(types.JobStatePreprocessed); err != nil {
		p.logger.Error("job state corrupted", zap.String("job_id", job.ID), zap.Error(err))
		return nil
	}
	p.logger.Debug("job preprocessed",
		zap.String("job_id", job.ID),
		zap.Duration("elapsed", time.Since(start)),
	)
	return input
}

// safePrepare invokes the prepare callback, converting panics into errors so
// a corrupt input cannot take down sibling jobs.
func (p *PreprocessPool) safePrepare(ctx context.Context, job *types.Job) (input any, err error) {
	defer func() {
		if r := recover(); r != nil {
			input = nil
			err = types.Errorf(types.ErrPreprocessingFailed, "preprocessing panicked: %v", r)
		}
	}()
	return p.prepare(ctx, job)
}
