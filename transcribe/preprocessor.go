package transcribe

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/voxkit/batchd/types"
)

// PreprocessorConfig configures audio acquisition.
type PreprocessorConfig struct {
	// FetchTimeout bounds one audio download.
	FetchTimeout time.Duration `yaml:"fetch_timeout" json:"fetch_timeout"`
	// MaxDownloadBytes caps the size of a fetched or inline audio file.
	MaxDownloadBytes int64 `yaml:"max_download_bytes" json:"max_download_bytes"`
}

// DefaultPreprocessorConfig returns production defaults.
func DefaultPreprocessorConfig() PreprocessorConfig {
	return PreprocessorConfig{
		FetchTimeout:     30 * time.Second,
		MaxDownloadBytes: 256 << 20,
	}
}

// HTTPPreprocessor decodes and validates a job payload, acquires the audio
// (download for audio_url, base64 decode for audio_file), and normalizes it.
// It is safe for concurrent use; the scheduler runs several instances of its
// Prepare method in parallel.
type HTTPPreprocessor struct {
	client     *http.Client
	cfg        PreprocessorConfig
	normalizer Normalizer
	logger     *zap.Logger
}

// NewHTTPPreprocessor creates a preprocessor. A nil normalizer means identity.
func NewHTTPPreprocessor(cfg PreprocessorConfig, normalizer Normalizer, logger *zap.Logger) *HTTPPreprocessor {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultPreprocessorConfig().FetchTimeout
	}
	if cfg.MaxDownloadBytes <= 0 {
		cfg.MaxDownloadBytes = DefaultPreprocessorConfig().MaxDownloadBytes
	}
	if normalizer == nil {
		normalizer = IdentityNormalizer{}
	}
	return &HTTPPreprocessor{
		client:     &http.Client{Timeout: cfg.FetchTimeout},
		cfg:        cfg,
		normalizer: normalizer,
		logger:     logger.With(zap.String("component", "preprocessor")),
	}
}

// Prepare turns one job payload into a PreparedInput.
func (p *HTTPPreprocessor) Prepare(ctx context.Context, job *types.Job) (*PreparedInput, error) {
	var req types.TranscriptionRequest
	if err := json.Unmarshal(job.Payload, &req); err != nil {
		return nil, types.NewError(types.ErrInvalidPayload, "request payload is not valid JSON").WithCause(err)
	}
	if err := req.Validate(); err != nil {
		// Validation failures on queued payloads surface under the payload
		// code, not the API-side request code.
		return nil, types.NewError(types.ErrInvalidPayload, "request validation failed").WithCause(err)
	}

	var audio []byte
	var source string
	var err error
	switch {
	case req.AudioFile != "":
		source = "inline"
		audio, err = p.decodeInline(req.AudioFile)
	default:
		source = "url"
		audio, err = p.fetch(ctx, req.AudioURL)
	}
	if err != nil {
		return nil, err
	}

	audio, err = p.normalizer.Normalize(ctx, audio)
	if err != nil {
		return nil, types.NewError(types.ErrPreprocessingFailed, "audio normalization failed").WithCause(err)
	}

	p.logger.Debug("job prepared",
		zap.String("job_id", job.ID),
		zap.String("source", source),
		zap.Int("audio_bytes", len(audio)),
	)
	return &PreparedInput{Request: &req, Audio: audio, Source: source}, nil
}

func (p *HTTPPreprocessor) decodeInline(encoded string) ([]byte, error) {
	if int64(len(encoded)) > p.cfg.MaxDownloadBytes*4/3+4 {
		return nil, types.Errorf(types.ErrInvalidRequest, "inline audio exceeds %d bytes", p.cfg.MaxDownloadBytes)
	}
	audio, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, types.NewError(types.ErrDecodeFailed, "audio_file is not valid base64").WithCause(err)
	}
	return audio, nil
}

func (p *HTTPPreprocessor) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, "invalid audio_url").WithCause(err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, types.NewError(types.ErrFetchFailed, "audio download failed").WithCause(err).WithRetryable(true)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, types.Errorf(types.ErrFetchFailed, "audio download returned status %d", resp.StatusCode).
			WithHTTPStatus(resp.StatusCode).
			WithRetryable(resp.StatusCode >= 500)
	}

	// LimitReader with one extra byte so an oversized body is detectable.
	audio, err := io.ReadAll(io.LimitReader(resp.Body, p.cfg.MaxDownloadBytes+1))
	if err != nil {
		return nil, types.NewError(types.ErrFetchFailed, "audio download interrupted").WithCause(err).WithRetryable(true)
	}
	if int64(len(audio)) > p.cfg.MaxDownloadBytes {
		return nil, types.Errorf(types.ErrFetchFailed, "audio exceeds %d bytes", p.cfg.MaxDownloadBytes)
	}
	if len(audio) == 0 {
		return nil, types.NewError(types.ErrFetchFailed, fmt.Sprintf("empty audio body from %s", url))
	}
	return audio, nil
}
