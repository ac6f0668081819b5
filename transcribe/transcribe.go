// Package transcribe holds the domain collaborators of the scheduler: the
// preprocessor that turns an opaque job payload into engine-ready audio, and
// the engine that runs inference against the serialized compute backend.
package transcribe

import (
	"context"

	"github.com/voxkit/batchd/types"
)

// PreparedInput is the output of preprocessing: a validated request plus the
// fetched and normalized audio bytes, ready for the engine.
type PreparedInput struct {
	Request *types.TranscriptionRequest
	Audio   []byte
	// Source records where the audio came from ("url" or "inline").
	Source string
}

// Normalizer transforms raw audio bytes into the engine's expected format.
// The default is the identity normalizer; deployments that need resampling
// or container remuxing plug in their own.
type Normalizer interface {
	Normalize(ctx context.Context, audio []byte) ([]byte, error)
}

// IdentityNormalizer passes audio through unchanged.
type IdentityNormalizer struct{}

func (IdentityNormalizer) Normalize(_ context.Context, audio []byte) ([]byte, error) {
	return audio, nil
}

// Engine runs inference for one prepared job. Implementations are not
// required to be safe for concurrent use: the scheduler guarantees calls are
// strictly sequential.
type Engine interface {
	Transcribe(ctx context.Context, input *PreparedInput) (*types.TranscriptionResult, error)
}

var _ Normalizer = IdentityNormalizer{}
