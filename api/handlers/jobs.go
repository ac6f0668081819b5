package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/voxkit/batchd/queue"
	"github.com/voxkit/batchd/sink"
	"github.com/voxkit/batchd/types"
)

// GateStatus exposes the execution gate's occupancy for status reporting.
type GateStatus interface {
	InFlight() int
	Size() int
}

// JobsHandler serves job submission, the synchronous transcribe path, and
// queue introspection.
type JobsHandler struct {
	queue           queue.Queue
	waiters         *sink.WaiterRegistry
	gate            GateStatus
	syncWaitTimeout time.Duration
	logger          *zap.Logger
}

// NewJobsHandler creates the handler.
func NewJobsHandler(q queue.Queue, waiters *sink.WaiterRegistry, gate GateStatus, syncWaitTimeout time.Duration, logger *zap.Logger) *JobsHandler {
	if syncWaitTimeout <= 0 {
		syncWaitTimeout = 10 * time.Minute
	}
	return &JobsHandler{
		queue:           q,
		waiters:         waiters,
		gate:            gate,
		syncWaitTimeout: syncWaitTimeout,
		logger:          logger.With(zap.String("component", "jobs_handler")),
	}
}

// SubmitResponse is the async submission response body.
type SubmitResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// HandleSubmit serves POST /api/v1/jobs: validate, enqueue, return 202.
// The outcome reaches the caller via dispatcher_endpoint, if set.
func (h *JobsHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	req, raw, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}

	jobID := uuid.New().String()
	job := types.NewJob(jobID, raw)
	if err := h.queue.Enqueue(r.Context(), job); err != nil {
		WriteError(w, types.AsError(err, types.ErrQueueUnavailable), h.logger)
		return
	}

	h.logger.Info("job submitted",
		zap.String("job_id", jobID),
		zap.Bool("has_callback", req.DispatcherEndpoint != ""),
	)
	WriteJSON(w, http.StatusAccepted, Response{
		Success:   true,
		Data:      SubmitResponse{JobID: jobID, Status: string(types.JobStateQueued)},
		Timestamp: time.Now(),
	})
}

// HandleTranscribeSync serves POST /api/v1/transcribe: enqueue and block
// until the job completes or the wait deadline passes.
func (h *JobsHandler) HandleTranscribeSync(w http.ResponseWriter, r *http.Request) {
	_, raw, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}

	jobID := uuid.New().String()
	job := types.NewJob(jobID, raw)

	// Register before enqueueing so the outcome cannot slip past the waiter.
	outcomeCh, cancel := h.waiters.Register(jobID)
	defer cancel()

	if err := h.queue.Enqueue(r.Context(), job); err != nil {
		WriteError(w, types.AsError(err, types.ErrQueueUnavailable), h.logger)
		return
	}

	select {
	case outcome := <-outcomeCh:
		h.writeOutcome(w, jobID, outcome)
	case <-time.After(h.syncWaitTimeout):
		h.logger.Warn("synchronous wait timed out", zap.String("job_id", jobID))
		WriteError(w, types.NewError(types.ErrTimeout, "transcription did not complete in time"), h.logger)
	case <-r.Context().Done():
		h.logger.Debug("synchronous caller went away", zap.String("job_id", jobID))
	}
}

func (h *JobsHandler) writeOutcome(w http.ResponseWriter, jobID string, outcome types.Outcome) {
	if oErr, failed := outcome.Err(); failed {
		WriteError(w, oErr, h.logger)
		return
	}
	result, _ := outcome.Result()
	WriteJSON(w, http.StatusOK, Response{
		Success:   true,
		Data:      result,
		Timestamp: time.Now(),
	})
	h.logger.Debug("synchronous job delivered", zap.String("job_id", jobID))
}

// decodeRequest reads, validates, and re-serializes the request so the
// queued payload carries applied defaults.
func (h *JobsHandler) decodeRequest(w http.ResponseWriter, r *http.Request) (*types.TranscriptionRequest, json.RawMessage, bool) {
	if !ValidateContentType(w, r, h.logger) {
		return nil, nil, false
	}

	var req types.TranscriptionRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return nil, nil, false
	}
	if err := req.Validate(); err != nil {
		WriteError(w, types.AsError(err, types.ErrInvalidRequest), h.logger)
		return nil, nil, false
	}

	raw, err := json.Marshal(&req)
	if err != nil {
		WriteError(w, types.NewError(types.ErrInternalError, "failed to serialize request").WithCause(err), h.logger)
		return nil, nil, false
	}
	return &req, raw, true
}

// QueueStatus is the queue introspection response body.
type QueueStatus struct {
	QueueSize        int64 `json:"queue_size"`
	ExecutingBatches int   `json:"executing_batches"`
	MaxConcurrency   int   `json:"max_concurrency"`
	SyncWaiters      int   `json:"sync_waiters"`
}

// HandleQueueStatus serves GET /queue_status.
func (h *JobsHandler) HandleQueueStatus(w http.ResponseWriter, r *http.Request) {
	size, err := h.queue.Len(r.Context())
	if err != nil {
		WriteError(w, types.AsError(err, types.ErrQueueUnavailable), h.logger)
		return
	}

	WriteSuccess(w, QueueStatus{
		QueueSize:        size,
		ExecutingBatches: h.gate.InFlight(),
		MaxConcurrency:   h.gate.Size(),
		SyncWaiters:      h.waiters.Len(),
	})
}

// HandleQueueSize serves GET /queue_size.
func (h *JobsHandler) HandleQueueSize(w http.ResponseWriter, r *http.Request) {
	size, err := h.queue.Len(r.Context())
	if err != nil {
		WriteError(w, types.AsError(err, types.ErrQueueUnavailable), h.logger)
		return
	}
	WriteSuccess(w, map[string]int64{"queue_size": size})
}
