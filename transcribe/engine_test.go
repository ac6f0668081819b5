package transcribe

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/voxkit/batchd/types"
)

func preparedInput(req *types.TranscriptionRequest, audio []byte) *PreparedInput {
	return &PreparedInput{Request: req, Audio: audio, Source: "inline"}
}

func TestHTTPEngine_TranscribeSuccess(t *testing.T) {
	var mu sync.Mutex
	var received engineRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		mu.Lock()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		mu.Unlock()
		json.NewEncoder(w).Encode(types.TranscriptionResult{
			Text:     "hello world",
			Language: "en",
			Duration: 3.5,
		})
	}))
	defer srv.Close()

	e := NewHTTPEngine(EngineConfig{Endpoint: srv.URL, APIKey: "secret"}, zaptest.NewLogger(t))

	audio := []byte("audio bytes")
	diarize := true
	speakers := 2
	result, err := e.Transcribe(context.Background(), preparedInput(&types.TranscriptionRequest{
		Language:          "en",
		Task:              types.TaskTranscribe,
		EnableDiarization: &diarize,
		NumSpeakers:       &speakers,
		ExtraData:         map[string]any{"tenant": "acme"},
	}, audio))
	require.NoError(t, err)

	mu.Lock()
	assert.Equal(t, base64.StdEncoding.EncodeToString(audio), received.Audio)
	assert.Equal(t, "en", received.Language)
	assert.True(t, received.EnableDiarization)
	assert.Equal(t, 2, received.NumSpeakers)
	mu.Unlock()

	assert.Equal(t, "hello world", result.Text)
	assert.Equal(t, "en", result.Language)
	assert.Greater(t, result.ProcessingTime, 0.0)
	assert.InEpsilon(t, result.ProcessingTime*ComputeRatePerSecond, result.Cost, 1e-9)
	assert.Equal(t, map[string]any{"tenant": "acme"}, result.ExtraData)
}

func TestHTTPEngine_NoAuthHeaderWithoutKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(types.TranscriptionResult{})
	}))
	defer srv.Close()

	e := NewHTTPEngine(EngineConfig{Endpoint: srv.URL}, zaptest.NewLogger(t))
	_, err := e.Transcribe(context.Background(), preparedInput(&types.TranscriptionRequest{}, []byte("x")))
	require.NoError(t, err)
}

func TestHTTPEngine_ServerErrorMessageExtracted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": "model out of memory"})
	}))
	defer srv.Close()

	e := NewHTTPEngine(EngineConfig{Endpoint: srv.URL}, zaptest.NewLogger(t))
	_, err := e.Transcribe(context.Background(), preparedInput(&types.TranscriptionRequest{}, []byte("x")))
	require.Error(t, err)
	assert.Equal(t, types.ErrExecutionFailed, types.GetErrorCode(err))
	assert.Contains(t, err.Error(), "model out of memory")
	assert.True(t, types.IsRetryable(err))
}

func TestHTTPEngine_ClientErrorNotRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("unsupported sample rate"))
	}))
	defer srv.Close()

	e := NewHTTPEngine(EngineConfig{Endpoint: srv.URL}, zaptest.NewLogger(t))
	_, err := e.Transcribe(context.Background(), preparedInput(&types.TranscriptionRequest{}, []byte("x")))
	require.Error(t, err)
	assert.Equal(t, types.ErrExecutionFailed, types.GetErrorCode(err))
	assert.Contains(t, err.Error(), "unsupported sample rate")
	assert.False(t, types.IsRetryable(err))
}

func TestHTTPEngine_UndecodableResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>not json</html>"))
	}))
	defer srv.Close()

	e := NewHTTPEngine(EngineConfig{Endpoint: srv.URL}, zaptest.NewLogger(t))
	_, err := e.Transcribe(context.Background(), preparedInput(&types.TranscriptionRequest{}, []byte("x")))
	require.Error(t, err)
	assert.Equal(t, types.ErrExecutionFailed, types.GetErrorCode(err))
}

func TestHTTPEngine_UnreachableServerRetryable(t *testing.T) {
	e := NewHTTPEngine(EngineConfig{Endpoint: "http://127.0.0.1:1/v1/transcribe"}, zaptest.NewLogger(t))
	_, err := e.Transcribe(context.Background(), preparedInput(&types.TranscriptionRequest{}, []byte("x")))
	require.Error(t, err)
	assert.Equal(t, types.ErrExecutionFailed, types.GetErrorCode(err))
	assert.True(t, types.IsRetryable(err))
}

func TestHTTPEngine_ContextCancellationMapsToTimeout(t *testing.T) {
	started := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Consume the body so the server notices the client disconnect and
		// lets the handler return when the request context is cancelled.
		io.Copy(io.Discard, r.Body)
		close(started)
		<-r.Context().Done()
	}))
	defer srv.Close()

	e := NewHTTPEngine(EngineConfig{Endpoint: srv.URL}, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	_, err := e.Transcribe(ctx, preparedInput(&types.TranscriptionRequest{}, []byte("x")))
	require.Error(t, err)
	assert.Equal(t, types.ErrTimeout, types.GetErrorCode(err))
}

func TestReadErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"error field", `{"error":"gpu busy"}`, "gpu busy"},
		{"message field", `{"message":"queue full"}`, "queue full"},
		{"error wins", `{"error":"a","message":"b"}`, "a"},
		{"raw text", "plain failure text", "plain failure text"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, readErrorMessage(strings.NewReader(tt.body)))
		})
	}
}
