package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranscriptionRequest_Validate_Defaults(t *testing.T) {
	req := TranscriptionRequest{AudioURL: "http://example.com/a.wav"}
	require.NoError(t, req.Validate())
	assert.Equal(t, TaskTranscribe, req.Task)
}

func TestTranscriptionRequest_Validate_RequiresAudio(t *testing.T) {
	req := TranscriptionRequest{}
	err := req.Validate()
	require.Error(t, err)
	assert.Equal(t, ErrInvalidRequest, GetErrorCode(err))
}

func TestTranscriptionRequest_Validate_Task(t *testing.T) {
	req := TranscriptionRequest{AudioURL: "http://x", Task: "summarize"}
	require.Error(t, req.Validate())

	req.Task = TaskTranslate
	require.NoError(t, req.Validate())
}

func TestTranscriptionRequest_Validate_Language(t *testing.T) {
	req := TranscriptionRequest{AudioURL: "http://x", Language: "en"}
	require.NoError(t, req.Validate())

	req.Language = "eng"
	require.NoError(t, req.Validate())

	req.Language = "english"
	require.Error(t, req.Validate())
}

func TestTranscriptionRequest_Validate_NumSpeakers(t *testing.T) {
	zero := 0
	req := TranscriptionRequest{AudioURL: "http://x", NumSpeakers: &zero}
	require.Error(t, req.Validate())

	two := 2
	req.NumSpeakers = &two
	require.NoError(t, req.Validate())
}

func TestSpeakerLabel(t *testing.T) {
	assert.Equal(t, "SPEAKER_1", SpeakerLabel(0))
	assert.Equal(t, "SPEAKER_3", SpeakerLabel(2))
}
