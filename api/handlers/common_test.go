package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/voxkit/batchd/types"
)

func TestMapErrorCodeToHTTPStatus(t *testing.T) {
	tests := []struct {
		code types.ErrorCode
		want int
	}{
		{types.ErrInvalidRequest, http.StatusBadRequest},
		{types.ErrInvalidPayload, http.StatusBadRequest},
		{types.ErrDecodeFailed, http.StatusBadRequest},
		{types.ErrFetchFailed, http.StatusUnprocessableEntity},
		{types.ErrTimeout, http.StatusGatewayTimeout},
		{types.ErrGateTimeout, http.StatusGatewayTimeout},
		{types.ErrServiceUnavailable, http.StatusServiceUnavailable},
		{types.ErrQueueUnavailable, http.StatusServiceUnavailable},
		{types.ErrPreprocessingFailed, http.StatusInternalServerError},
		{types.ErrExecutionFailed, http.StatusInternalServerError},
		{types.ErrDeliveryFailed, http.StatusInternalServerError},
		{types.ErrInternalError, http.StatusInternalServerError},
		{types.ErrorCode("SOMETHING_NEW"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, mapErrorCodeToHTTPStatus(tt.code))
		})
	}
}

func TestWriteError_Envelope(t *testing.T) {
	rec := httptest.NewRecorder()
	err := types.NewError(types.ErrFetchFailed, "audio gone").WithRetryable(true)
	WriteError(rec, err, zaptest.NewLogger(t))

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "FETCH_FAILED", resp.Error.Code)
	assert.Equal(t, "audio gone", resp.Error.Message)
	assert.True(t, resp.Error.Retryable)
}

func TestWriteError_ExplicitStatusWins(t *testing.T) {
	rec := httptest.NewRecorder()
	err := types.NewError(types.ErrInvalidRequest, "nope").WithHTTPStatus(http.StatusTeapot)
	WriteError(rec, err, nil)

	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestWriteSuccess(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteSuccess(rec, map[string]string{"hello": "world"})

	require.Equal(t, http.StatusOK, rec.Code)
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Nil(t, resp.Error)
	assert.False(t, resp.Timestamp.IsZero())
}

func TestDecodeJSONBody_UnknownField(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"unexpected":1}`))

	var dst struct{}
	err := DecodeJSONBody(rec, req, &dst, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestValidateContentType(t *testing.T) {
	for _, ct := range []string{"application/json", "application/json; charset=utf-8"} {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.Header.Set("Content-Type", ct)
		assert.True(t, ValidateContentType(httptest.NewRecorder(), req, nil), ct)
	}

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Content-Type", "application/xml")
	rec := httptest.NewRecorder()
	assert.False(t, ValidateContentType(rec, req, nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResponseWriter_CapturesStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := NewResponseWriter(rec)

	rw.WriteHeader(http.StatusCreated)
	rw.WriteHeader(http.StatusInternalServerError) // second call is ignored
	rw.Write([]byte("body"))

	assert.Equal(t, http.StatusCreated, rw.StatusCode)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "body", rec.Body.String())
}

func TestResponseWriter_ImplicitOK(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := NewResponseWriter(rec)

	rw.Write([]byte("ok"))
	assert.Equal(t, http.StatusOK, rw.StatusCode)
	assert.True(t, rw.Written)
}
