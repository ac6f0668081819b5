package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/voxkit/batchd/queue"
)

// CollectorConfig bounds one collection window.
type CollectorConfig struct {
	// Capacity is the maximum number of jobs per batch.
	Capacity int `yaml:"capacity" json:"capacity"`
	// BatchTimeout is the maximum wait for stragglers, measured from the
	// first job's arrival. The deadline is inclusive: the window closes
	// at or before it, never after.
	BatchTimeout time.Duration `yaml:"batch_timeout" json:"batch_timeout"`
	// BRPopTimeout is the maximum wait for the first job of a new batch
	// before the blocking pop retries. It bounds shutdown latency.
	BRPopTimeout time.Duration `yaml:"brpop_timeout" json:"brpop_timeout"`
	// PollInterval is the drain polling interval during the straggler wait.
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`
}

// DefaultCollectorConfig returns the defaults used in production.
func DefaultCollectorConfig() CollectorConfig {
	return CollectorConfig{
		Capacity:     6,
		BatchTimeout: 70 * time.Millisecond,
		BRPopTimeout: 5 * time.Second,
		PollInterval: 10 * time.Millisecond,
	}
}

// Collector forms one batch per Collect call using a three-step windowing
// policy: block for the first job, drain what is already queued, then poll
// for stragglers until capacity or the batch timeout.
type Collector struct {
	queue  queue.Queue
	cfg    CollectorConfig
	logger *zap.Logger
	obs    Observer
}

// NewCollector creates a collector reading from q.
func NewCollector(q queue.Queue, cfg CollectorConfig, logger *zap.Logger, obs Observer) *Collector {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCollectorConfig().Capacity
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultCollectorConfig().PollInterval
	}
	if obs == nil {
		obs = NopObserver{}
	}
	return &Collector{
		queue:  q,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "collector")),
		obs:    obs,
	}
}

// Collect blocks until at least one job is admitted and returns a batch with
// 1 <= size <= capacity. It never returns an empty batch: on an empty queue
// it retries the blocking pop until a job arrives or ctx is cancelled.
// Queue failures after the first job is held dispatch the partial batch so
// no admitted job is dropped; the failure resurfaces on the next Collect.
func (c *Collector) Collect(ctx context.Context) (*Batch, error) {
	// Block step: wait (unbounded across retries) for the first job.
	var batch *Batch
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		job, err := c.queue.PopBlocking(ctx, c.cfg.BRPopTimeout)
		if err == queue.ErrEmpty {
			continue
		}
		if err != nil {
			return nil, err
		}
		batch = NewBatch(c.cfg.Capacity)
		batch.WindowOpenedAt = job.ArrivalTime
		batch.add(job)
		break
	}

	// Drain step: collect what is already present, without sleeping.
	if !batch.Full() {
		jobs, err := c.queue.Drain(ctx, batch.Capacity-batch.Size())
		if err != nil {
			c.logger.Warn("drain failed, dispatching partial batch", zap.Error(err))
			return c.close(batch), nil
		}
		batch.add(jobs...)
	}

	// Straggler wait: poll the drain until capacity or the window deadline.
	deadline := batch.WindowOpenedAt.Add(c.cfg.BatchTimeout)
	for !batch.Full() {
		if !time.Now().Before(deadline) {
			break
		}
		select {
		case <-ctx.Done():
			return c.close(batch), nil
		case <-time.After(c.cfg.PollInterval):
		}
		jobs, err := c.queue.Drain(ctx, batch.Capacity-batch.Size())
		if err != nil {
			c.logger.Warn("drain failed, dispatching partial batch", zap.Error(err))
			break
		}
		batch.add(jobs...)
	}

	return c.close(batch), nil
}

func (c *Collector) close(batch *Batch) *Batch {
	batch.WindowClosedAt = time.Now()
	window := batch.WindowClosedAt.Sub(batch.WindowOpenedAt)
	c.obs.BatchCollected(batch.Size(), window)
	c.logger.Debug("batch collected",
		zap.String("batch_id", batch.ID),
		zap.Int("size", batch.Size()),
		zap.Duration("window", window),
	)
	return batch
}
