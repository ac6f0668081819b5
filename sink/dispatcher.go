package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/voxkit/batchd/types"
)

// Recorder receives delivery events for metrics.
type Recorder interface {
	RecordDelivery(mode, status string)
}

type nopRecorder struct{}

func (nopRecorder) RecordDelivery(string, string) {}

// Config configures the outcome dispatcher.
type Config struct {
	// CallbackTimeout bounds one callback POST.
	CallbackTimeout time.Duration `yaml:"callback_timeout" json:"callback_timeout"`
	// CallbackAttempts is the maximum number of POST attempts per outcome.
	CallbackAttempts int `yaml:"callback_attempts" json:"callback_attempts"`
	// RetryDelay is the pause between callback attempts.
	RetryDelay time.Duration `yaml:"retry_delay" json:"retry_delay"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		CallbackTimeout:  10 * time.Second,
		CallbackAttempts: 3,
		RetryDelay:       2 * time.Second,
	}
}

// Dispatcher routes each outcome to its destination: a registered
// synchronous waiter wins; otherwise the job's dispatcher_endpoint receives
// an HTTP callback; otherwise the outcome is logged and dropped
// (fire-and-forget submission).
type Dispatcher struct {
	waiters  *WaiterRegistry
	client   *http.Client
	cfg      Config
	logger   *zap.Logger
	recorder Recorder
}

// NewDispatcher creates a dispatcher delivering through the given registry.
func NewDispatcher(waiters *WaiterRegistry, cfg Config, logger *zap.Logger, recorder Recorder) *Dispatcher {
	if cfg.CallbackAttempts <= 0 {
		cfg.CallbackAttempts = DefaultConfig().CallbackAttempts
	}
	if cfg.CallbackTimeout <= 0 {
		cfg.CallbackTimeout = DefaultConfig().CallbackTimeout
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Dispatcher{
		waiters:  waiters,
		client:   &http.Client{Timeout: cfg.CallbackTimeout},
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "dispatcher")),
		recorder: recorder,
	}
}

// callbackBody is the payload POSTed to a dispatcher endpoint.
type callbackBody struct {
	JobID     string                     `json:"job_id"`
	Result    *types.TranscriptionResult `json:"result,omitempty"`
	Error     string                     `json:"error,omitempty"`
	ErrorType string                     `json:"error_type,omitempty"`
}

// endpointPeek extracts only the callback endpoint from an opaque payload.
type endpointPeek struct {
	DispatcherEndpoint string `json:"dispatcher_endpoint"`
}

// Deliver hands the outcome to its destination. Called exactly once per job
// by the pipeline; delivery failures are recorded but do not resurface into
// the scheduling path.
func (d *Dispatcher) Deliver(ctx context.Context, job *types.Job, outcome types.Outcome) error {
	if ch, ok := d.waiters.claim(job.ID); ok {
		ch <- outcome
		close(ch)
		d.recorder.RecordDelivery("sync", "ok")
		return nil
	}

	var peek endpointPeek
	_ = json.Unmarshal(job.Payload, &peek)
	if peek.DispatcherEndpoint == "" {
		d.logger.Debug("no delivery destination for job", zap.String("job_id", job.ID))
		d.recorder.RecordDelivery("none", "ok")
		return nil
	}

	if err := d.postCallback(ctx, peek.DispatcherEndpoint, job.ID, outcome); err != nil {
		d.recorder.RecordDelivery("callback", "failed")
		d.logger.Error("callback delivery failed",
			zap.String("job_id", job.ID),
			zap.String("endpoint", peek.DispatcherEndpoint),
			zap.Error(err),
		)
		return types.NewError(types.ErrDeliveryFailed, "callback delivery failed").WithCause(err)
	}
	d.recorder.RecordDelivery("callback", "ok")
	return nil
}

func (d *Dispatcher) postCallback(ctx context.Context, endpoint, jobID string, outcome types.Outcome) error {
	body := callbackBody{JobID: jobID}
	if result, ok := outcome.Result(); ok {
		body.Result = result
	}
	if oErr, ok := outcome.Err(); ok {
		body.Error = oErr.Message
		body.ErrorType = string(oErr.Code)
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= d.cfg.CallbackAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d.cfg.RetryDelay):
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := d.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		lastErr = fmt.Errorf("callback returned status %d", resp.StatusCode)
	}
	return lastErr
}

var _ Sink = (*Dispatcher)(nil)
