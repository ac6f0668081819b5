package types

import "fmt"

// Task values accepted by TranscriptionRequest.
const (
	TaskTranscribe = "transcribe"
	TaskTranslate  = "translate"
)

// TranscriptionRequest is the client-facing job payload. The scheduler never
// inspects it; it is decoded and validated by the preprocessing collaborator.
type TranscriptionRequest struct {
	// AudioURL is the location of the audio file to transcribe.
	AudioURL string `json:"audio_url,omitempty"`
	// AudioFile is a base64-encoded audio file, an alternative to AudioURL.
	AudioFile string `json:"audio_file,omitempty"`
	// Language is an ISO 639-1/639-2 code; auto-detected when empty.
	Language string `json:"language,omitempty"`
	// Task is "transcribe" or "translate". Defaults to "transcribe".
	Task string `json:"task,omitempty"`
	// EnableDiarization requests speaker diarization.
	EnableDiarization *bool `json:"enable_diarization,omitempty"`
	// NumSpeakers fixes the speaker count; auto-detected when nil.
	NumSpeakers *int `json:"num_speakers,omitempty"`
	// TranslateToEnglish requests an English translation alongside the transcript.
	TranslateToEnglish bool `json:"translate_to_english,omitempty"`
	// ExtraData is echoed back in the response.
	ExtraData map[string]any `json:"extra_data,omitempty"`
	// DispatcherEndpoint, when set, receives the outcome via HTTP callback.
	DispatcherEndpoint string `json:"dispatcher_endpoint,omitempty"`
}

// Validate checks the request fields. Defaults are applied in place.
func (r *TranscriptionRequest) Validate() error {
	if r.AudioURL == "" && r.AudioFile == "" {
		return NewError(ErrInvalidRequest, "either audio_url or audio_file must be provided")
	}
	if r.Task == "" {
		r.Task = TaskTranscribe
	}
	if r.Task != TaskTranscribe && r.Task != TaskTranslate {
		return Errorf(ErrInvalidRequest, "task must be %q or %q", TaskTranscribe, TaskTranslate)
	}
	if r.Language != "" && len(r.Language) != 2 && len(r.Language) != 3 {
		return NewError(ErrInvalidRequest, "language code must be 2 or 3 characters")
	}
	if r.NumSpeakers != nil && *r.NumSpeakers < 1 {
		return NewError(ErrInvalidRequest, "num_speakers must be at least 1")
	}
	return nil
}

// Segment is one transcribed span with timestamps.
type Segment struct {
	ID    int     `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// DiarizedSegment is a transcribed span attributed to a speaker.
type DiarizedSegment struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker"`
	Text    string  `json:"text"`
}

// TranscriptionResult is the terminal success payload for a job.
type TranscriptionResult struct {
	Text                string            `json:"text"`
	DiarizedText        string            `json:"diarized_text,omitempty"`
	Translation         string            `json:"translation,omitempty"`
	DiarizedTranslation string            `json:"diarized_translation,omitempty"`
	Language            string            `json:"language,omitempty"`
	LanguageProbability float64           `json:"language_probability,omitempty"`
	Duration            float64           `json:"duration,omitempty"`
	Segments            []Segment         `json:"segments,omitempty"`
	DiarizedSegments    []DiarizedSegment `json:"diarized_segments,omitempty"`
	NumSpeakers         int               `json:"num_speakers,omitempty"`
	ProcessingTime      float64           `json:"processing_time,omitempty"`
	Cost                float64           `json:"cost,omitempty"`
	ExtraData           map[string]any    `json:"extra_data,omitempty"`
}

// SpeakerLabel formats the canonical label for a zero-based speaker index.
func SpeakerLabel(index int) string {
	return fmt.Sprintf("SPEAKER_%d", index+1)
}
