package scheduler

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/voxkit/batchd/sink"
	"github.com/voxkit/batchd/types"
)

// PipelineConfig bounds the controller.
type PipelineConfig struct {
	// MaxInflightCycles bounds how many cycles may be in flight at once
	// (collecting, preprocessing, awaiting the gate, or executing), so
	// memory stays bounded when producers outpace the gate.
	MaxInflightCycles int `yaml:"max_inflight_cycles" json:"max_inflight_cycles"`
	// ExecDeadline, when positive, bounds the wait for a gate permit.
	// A batch that cannot acquire within the deadline fails its jobs with
	// GATE_TIMEOUT; the permit is never acquired, so nothing leaks.
	ExecDeadline time.Duration `yaml:"exec_deadline" json:"exec_deadline"`
}

// DefaultPipelineConfig returns production defaults.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{MaxInflightCycles: 4}
}

// Pipeline drives repeated batch cycles through
// collecting -> preprocessing -> awaiting_gate -> executing -> finalizing,
// overlapping cycle N+1's collection and preprocessing with cycle N's
// execution. Execution order across batches equals collection order: each
// cycle passes a turn token to its successor only after it has acquired
// the gate.
type Pipeline struct {
	collector *Collector
	pool      *PreprocessPool
	gate      *Gate
	executor  *SequentialExecutor
	sink      sink.Sink
	cfg       PipelineConfig
	logger    *zap.Logger
	obs       Observer
	tracer    trace.Tracer

	wg    sync.WaitGroup
	fatal chan error
}

// NewPipeline wires the pipeline stages together.
func NewPipeline(collector *Collector, pool *PreprocessPool, gate *Gate, executor *SequentialExecutor, deliverTo sink.Sink, cfg PipelineConfig, logger *zap.Logger, obs Observer) *Pipeline {
	if cfg.MaxInflightCycles <= 0 {
		cfg.MaxInflightCycles = DefaultPipelineConfig().MaxInflightCycles
	}
	if obs == nil {
		obs = NopObserver{}
	}
	return &Pipeline{
		collector: collector,
		pool:      pool,
		gate:      gate,
		executor:  executor,
		sink:      deliverTo,
		cfg:       cfg,
		logger:    logger.With(zap.String("component", "pipeline")),
		obs:       obs,
		tracer:    otel.Tracer("batchd/scheduler"),
		fatal:     make(chan error, 1),
	}
}

// Run consumes the queue until ctx is cancelled. It returns nil on clean
// shutdown and an error on infrastructure failure (queue unreachable, gate
// accounting corrupted); per-job errors never surface here.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started",
		zap.Int("max_inflight_cycles", p.cfg.MaxInflightCycles),
		zap.Int("gate_size", p.gate.Size()),
	)

	inflight := make(chan struct{}, p.cfg.MaxInflightCycles)

	// The first cycle's turn is already free.
	turn := make(chan struct{})
	close(turn)

	var cycle uint64
	for {
		select {
		case err := <-p.fatal:
			p.wg.Wait()
			return err
		case <-ctx.Done():
			p.wg.Wait()
			p.logger.Info("pipeline stopped")
			return nil
		case inflight <- struct{}{}:
		}

		batch, err := p.collector.Collect(ctx)
		if err != nil {
			<-inflight
			p.wg.Wait()
			if ctx.Err() != nil {
				p.logger.Info("pipeline stopped")
				return nil
			}
			p.logger.Error("collector failed", zap.Error(err))
			return err
		}

		cycle++
		myTurn := turn
		nextTurn := make(chan struct{})
		turn = nextTurn

		p.obs.InflightCycles(1)
		p.wg.Add(1)
		go p.runCycle(ctx, cycle, batch, myTurn, nextTurn, inflight)
	}
}

// runCycle moves one batch from preprocessing to done.
func (p *Pipeline) runCycle(ctx context.Context, cycle uint64, batch *Batch, myTurn <-chan struct{}, nextTurn chan struct{}, inflight <-chan struct{}) {
	defer p.wg.Done()
	defer func() {
		<-inflight
		p.obs.InflightCycles(-1)
	}()

	turnPassed := false
	passTurn := func() {
		if !turnPassed {
			turnPassed = true
			close(nextTurn)
		}
	}
	defer passTurn()

	ctx, span := p.tracer.Start(ctx, "pipeline.cycle",
		trace.WithAttributes(
			attribute.String("batch.id", batch.ID),
			attribute.Int("batch.size", batch.Size()),
			attribute.Int64("cycle", int64(cycle)),
		),
	)
	defer span.End()

	logger := p.logger.With(zap.Uint64("cycle", cycle), zap.String("batch_id", batch.ID))
	logger.Debug("cycle started", zap.Int("size", batch.Size()))

	// Preprocessing: bounded-parallel, failure-isolated.
	_, prepSpan := p.tracer.Start(ctx, "pipeline.preprocess")
	prepared := p.pool.Run(ctx, batch)
	prepSpan.End()

	// Awaiting gate: wait for our turn, then acquire. The turn chain keeps
	// gate acquisition (and therefore execution) in collection order.
	gateCtx := ctx
	if p.cfg.ExecDeadline > 0 {
		var cancel context.CancelFunc
		gateCtx, cancel = context.WithTimeout(ctx, p.cfg.ExecDeadline)
		defer cancel()
	}

	waitStart := time.Now()
	var permit *Permit
	var gateErr error
	select {
	case <-myTurn:
		permit, gateErr = p.gate.Acquire(gateCtx)
	case <-gateCtx.Done():
		gateErr = gateCtx.Err()
		if gateErr == context.DeadlineExceeded {
			gateErr = types.NewError(types.ErrGateTimeout, "timed out waiting for gate permit").WithCause(gateErr)
		}
	}
	p.obs.GateWait(time.Since(waitStart))

	if gateErr != nil {
		passTurn()
		logger.Warn("batch never entered execution", zap.Error(gateErr))
		p.failPending(batch, gateErr)
		p.finalize(ctx, logger, batch)
		return
	}
	passTurn()

	// Executing: strictly sequential within the batch, serialized across
	// batches by the gate.
	_, execSpan := p.tracer.Start(ctx, "pipeline.execute")
	p.obs.ExecutingBatches(1)
	execErr := p.executor.Run(ctx, batch, prepared)
	p.obs.ExecutingBatches(-1)
	execSpan.End()
	permit.Release()

	if execErr != nil {
		// Gate accounting corruption is fatal to the controller; still
		// deliver what this batch holds before surfacing it.
		logger.Error("executor failed", zap.Error(execErr))
		p.failPending(batch, execErr)
		select {
		case p.fatal <- execErr:
		default:
		}
	}

	p.finalize(ctx, logger, batch)
	logger.Debug("cycle finished")
}

// failPending completes every job that has not reached a terminal state,
// used when a batch never enters (or is torn out of) the execution phase.
func (p *Pipeline) failPending(batch *Batch, cause error) {
	failure := types.AsError(cause, types.ErrServiceUnavailable)
	for _, job := range batch.Jobs {
		if _, done := job.Outcome(); done {
			continue
		}
		if job.State() == types.JobStateQueued || job.State() == types.JobStatePreprocessing {
			// Should not happen after pool.Run returned; keep the state
			// machine legal by walking forward.
			_ = job.Advance(types.JobStatePreprocessing)
			_ = job.Complete(types.JobStatePreprocessingFailed, types.FailureOutcome(failure))
			continue
		}
		_ = job.Complete(types.JobStateExecutionFailed, types.FailureOutcome(failure))
	}
}

// finalize hands every job's terminal outcome to the sink, exactly once per
// job, and releases nothing else: the gate permit is already returned by the
// time finalize runs on the execution path.
func (p *Pipeline) finalize(ctx context.Context, logger *zap.Logger, batch *Batch) {
	_, span := p.tracer.Start(ctx, "pipeline.finalize")
	defer span.End()

	// Delivery must survive shutdown cancellation: these jobs are done and
	// their callers are owed an answer.
	deliveryCtx := context.WithoutCancel(ctx)

	for _, job := range batch.Jobs {
		outcome, done := job.Outcome()
		if !done {
			// Defensive: every job must be terminal by now.
			err := types.NewError(types.ErrInternalError, "job missed a terminal state")
			logger.Error("job missed a terminal state", zap.String("job_id", job.ID), zap.String("state", string(job.State())))
			p.failPending(&Batch{Jobs: []*types.Job{job}}, err)
			outcome, _ = job.Outcome()
		}
		if err := p.sink.Deliver(deliveryCtx, job, outcome); err != nil {
			logger.Warn("outcome delivery failed", zap.String("job_id", job.ID), zap.Error(err))
		}
		p.obs.JobFinished(job.State(), time.Since(job.ArrivalTime))
	}
}
