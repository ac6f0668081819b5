package transcribe

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/voxkit/batchd/types"
)

func newPreprocessor(t *testing.T, cfg PreprocessorConfig) *HTTPPreprocessor {
	t.Helper()
	return NewHTTPPreprocessor(cfg, nil, zaptest.NewLogger(t))
}

func jobWithPayload(t *testing.T, payload string) *types.Job {
	t.Helper()
	return types.NewJob("job-1", json.RawMessage(payload))
}

func TestPreprocessor_FetchesAudioFromURL(t *testing.T) {
	audio := []byte("RIFF....WAVEfmt fake wav bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(audio)
	}))
	defer srv.Close()

	p := newPreprocessor(t, PreprocessorConfig{})
	job := jobWithPayload(t, fmt.Sprintf(`{"audio_url":%q,"language":"en"}`, srv.URL))

	input, err := p.Prepare(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, audio, input.Audio)
	assert.Equal(t, "url", input.Source)
	assert.Equal(t, "en", input.Request.Language)
	assert.Equal(t, types.TaskTranscribe, input.Request.Task)
}

func TestPreprocessor_DecodesInlineAudio(t *testing.T) {
	audio := []byte("inline audio bytes")
	encoded := base64.StdEncoding.EncodeToString(audio)

	p := newPreprocessor(t, PreprocessorConfig{})
	job := jobWithPayload(t, fmt.Sprintf(`{"audio_file":%q}`, encoded))

	input, err := p.Prepare(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, audio, input.Audio)
	assert.Equal(t, "inline", input.Source)
}

func TestPreprocessor_InlineWinsOverURL(t *testing.T) {
	var fetched bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetched = true
	}))
	defer srv.Close()

	encoded := base64.StdEncoding.EncodeToString([]byte("x"))
	p := newPreprocessor(t, PreprocessorConfig{})
	job := jobWithPayload(t, fmt.Sprintf(`{"audio_url":%q,"audio_file":%q}`, srv.URL, encoded))

	input, err := p.Prepare(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, "inline", input.Source)
	assert.False(t, fetched)
}

func TestPreprocessor_RejectsMalformedPayload(t *testing.T) {
	p := newPreprocessor(t, PreprocessorConfig{})
	job := jobWithPayload(t, `not json at all`)

	_, err := p.Prepare(context.Background(), job)
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidPayload, types.GetErrorCode(err))
}

func TestPreprocessor_RejectsInvalidRequest(t *testing.T) {
	p := newPreprocessor(t, PreprocessorConfig{})

	for name, payload := range map[string]string{
		"no audio":      `{}`,
		"bad task":      `{"audio_file":"eA==","task":"summarize"}`,
		"bad language":  `{"audio_file":"eA==","language":"english"}`,
		"zero speakers": `{"audio_file":"eA==","num_speakers":0}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := p.Prepare(context.Background(), jobWithPayload(t, payload))
			require.Error(t, err)
			assert.Equal(t, types.ErrInvalidPayload, types.GetErrorCode(err))
			// The validation detail stays reachable as the cause.
			assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(errors.Unwrap(err)))
		})
	}
}

func TestPreprocessor_RejectsBadBase64(t *testing.T) {
	p := newPreprocessor(t, PreprocessorConfig{})
	job := jobWithPayload(t, `{"audio_file":"!!! not base64 !!!"}`)

	_, err := p.Prepare(context.Background(), job)
	require.Error(t, err)
	assert.Equal(t, types.ErrDecodeFailed, types.GetErrorCode(err))
}

func TestPreprocessor_FetchStatusErrors(t *testing.T) {
	tests := []struct {
		status    int
		retryable bool
	}{
		{http.StatusNotFound, false},
		{http.StatusForbidden, false},
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("status %d", tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			p := newPreprocessor(t, PreprocessorConfig{})
			job := jobWithPayload(t, fmt.Sprintf(`{"audio_url":%q}`, srv.URL))

			_, err := p.Prepare(context.Background(), job)
			require.Error(t, err)
			assert.Equal(t, types.ErrFetchFailed, types.GetErrorCode(err))
			assert.Equal(t, tt.retryable, types.IsRetryable(err))
		})
	}
}

func TestPreprocessor_RejectsOversizedDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(bytes.Repeat([]byte("a"), 2048))
	}))
	defer srv.Close()

	p := newPreprocessor(t, PreprocessorConfig{MaxDownloadBytes: 1024})
	job := jobWithPayload(t, fmt.Sprintf(`{"audio_url":%q}`, srv.URL))

	_, err := p.Prepare(context.Background(), job)
	require.Error(t, err)
	assert.Equal(t, types.ErrFetchFailed, types.GetErrorCode(err))
	assert.Contains(t, err.Error(), "exceeds")
}

func TestPreprocessor_RejectsEmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	p := newPreprocessor(t, PreprocessorConfig{})
	job := jobWithPayload(t, fmt.Sprintf(`{"audio_url":%q}`, srv.URL))

	_, err := p.Prepare(context.Background(), job)
	require.Error(t, err)
	assert.Equal(t, types.ErrFetchFailed, types.GetErrorCode(err))
}

func TestPreprocessor_FetchUnreachableHostIsRetryable(t *testing.T) {
	p := newPreprocessor(t, PreprocessorConfig{})
	job := jobWithPayload(t, `{"audio_url":"http://127.0.0.1:1/audio.wav"}`)

	_, err := p.Prepare(context.Background(), job)
	require.Error(t, err)
	assert.Equal(t, types.ErrFetchFailed, types.GetErrorCode(err))
	assert.True(t, types.IsRetryable(err))
}

type upcaseNormalizer struct{}

func (upcaseNormalizer) Normalize(_ context.Context, audio []byte) ([]byte, error) {
	return bytes.ToUpper(audio), nil
}

func TestPreprocessor_AppliesNormalizer(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString([]byte("quiet"))
	p := NewHTTPPreprocessor(PreprocessorConfig{}, upcaseNormalizer{}, zaptest.NewLogger(t))
	job := jobWithPayload(t, fmt.Sprintf(`{"audio_file":%q}`, encoded))

	input, err := p.Prepare(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, []byte("QUIET"), input.Audio)
}
