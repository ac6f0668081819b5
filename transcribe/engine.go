package transcribe

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/voxkit/batchd/types"
)

// ComputeRatePerSecond is the default billing rate applied to execution
// wall time.
const ComputeRatePerSecond = 0.0007

// EngineConfig configures the inference backend client.
type EngineConfig struct {
	// Endpoint is the inference server URL.
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	// APIKey, when set, is sent as a bearer token.
	APIKey string `yaml:"api_key" json:"api_key"`
	// RequestTimeout bounds one inference call.
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`
	// ComputeRate is the billing rate per second of execution wall time.
	ComputeRate float64 `yaml:"compute_rate_per_second" json:"compute_rate_per_second"`
}

// DefaultEngineConfig returns production defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Endpoint:       "http://localhost:9000/v1/transcribe",
		RequestTimeout: 10 * time.Minute,
		ComputeRate:    ComputeRatePerSecond,
	}
}

// HTTPEngine runs inference by POSTing prepared audio to an HTTP inference
// server. The scheduler serializes calls, so a plain client is enough.
type HTTPEngine struct {
	client *http.Client
	cfg    EngineConfig
	logger *zap.Logger
}

// NewHTTPEngine creates an engine client.
func NewHTTPEngine(cfg EngineConfig, logger *zap.Logger) *HTTPEngine {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultEngineConfig().RequestTimeout
	}
	if cfg.ComputeRate <= 0 {
		cfg.ComputeRate = ComputeRatePerSecond
	}
	return &HTTPEngine{
		client: &http.Client{Timeout: cfg.RequestTimeout},
		cfg:    cfg,
		logger: logger.With(zap.String("component", "engine")),
	}
}

// engineRequest is the wire format sent to the inference server.
type engineRequest struct {
	Audio              string `json:"audio"`
	Language           string `json:"language,omitempty"`
	Task               string `json:"task,omitempty"`
	EnableDiarization  bool   `json:"enable_diarization,omitempty"`
	NumSpeakers        int    `json:"num_speakers,omitempty"`
	TranslateToEnglish bool   `json:"translate_to_english,omitempty"`
}

// Transcribe runs one inference call and stamps processing time and cost
// onto the result.
func (e *HTTPEngine) Transcribe(ctx context.Context, input *PreparedInput) (*types.TranscriptionResult, error) {
	req := input.Request
	wire := engineRequest{
		Audio:              base64.StdEncoding.EncodeToString(input.Audio),
		Language:           req.Language,
		Task:               req.Task,
		TranslateToEnglish: req.TranslateToEnglish,
	}
	if req.EnableDiarization != nil {
		wire.EnableDiarization = *req.EnableDiarization
	}
	if req.NumSpeakers != nil {
		wire.NumSpeakers = *req.NumSpeakers
	}

	payload, err := json.Marshal(wire)
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "encoding inference request failed").WithCause(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "building inference request failed").WithCause(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if e.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	}

	start := time.Now()
	resp, err := e.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, types.NewError(types.ErrTimeout, "inference call cancelled").WithCause(ctx.Err())
		}
		return nil, types.NewError(types.ErrExecutionFailed, "inference server unreachable").WithCause(err).WithRetryable(true)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg := readErrorMessage(resp.Body)
		return nil, types.Errorf(types.ErrExecutionFailed, "inference server returned status %d: %s", resp.StatusCode, msg).
			WithHTTPStatus(resp.StatusCode).
			WithRetryable(resp.StatusCode >= 500)
	}

	var result types.TranscriptionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, types.NewError(types.ErrExecutionFailed, "undecodable inference response").WithCause(err)
	}

	elapsed := time.Since(start).Seconds()
	result.ProcessingTime = elapsed
	result.Cost = elapsed * e.cfg.ComputeRate
	result.ExtraData = req.ExtraData

	e.logger.Debug("inference complete",
		zap.Float64("processing_time", elapsed),
		zap.String("language", result.Language),
	)
	return &result, nil
}

// readErrorMessage extracts a useful message from an error response body,
// falling back to raw text when it is not structured.
func readErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil {
		return "unreadable error response"
	}
	var errResp struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &errResp); err == nil {
		if errResp.Error != "" {
			return errResp.Error
		}
		if errResp.Message != "" {
			return errResp.Message
		}
	}
	return string(data)
}

var _ Engine = (*HTTPEngine)(nil)
