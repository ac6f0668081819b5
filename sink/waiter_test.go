package sink

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxkit/batchd/types"
)

func TestWaiterRegistry_RegisterAndClaim(t *testing.T) {
	r := NewWaiterRegistry()
	assert.Equal(t, 0, r.Len())

	ch, cancel := r.Register("job-1")
	defer cancel()
	assert.Equal(t, 1, r.Len())

	claimed, ok := r.claim("job-1")
	require.True(t, ok)
	assert.Equal(t, 0, r.Len())

	claimed <- types.SuccessOutcome(&types.TranscriptionResult{Text: "hello"})
	outcome := <-ch
	result, valid := outcome.Result()
	require.True(t, valid)
	assert.Equal(t, "hello", result.Text)
}

func TestWaiterRegistry_ClaimIsSingleUse(t *testing.T) {
	r := NewWaiterRegistry()
	_, cancel := r.Register("job-1")
	defer cancel()

	_, ok := r.claim("job-1")
	require.True(t, ok)

	_, ok = r.claim("job-1")
	assert.False(t, ok)
}

func TestWaiterRegistry_ClaimUnknownJob(t *testing.T) {
	r := NewWaiterRegistry()
	_, ok := r.claim("never-registered")
	assert.False(t, ok)
}

func TestWaiterRegistry_CancelRemovesWaiter(t *testing.T) {
	r := NewWaiterRegistry()
	_, cancel := r.Register("job-1")
	cancel()

	assert.Equal(t, 0, r.Len())
	_, ok := r.claim("job-1")
	assert.False(t, ok)
}

func TestWaiterRegistry_CancelAfterClaimIsHarmless(t *testing.T) {
	r := NewWaiterRegistry()
	_, cancel := r.Register("job-1")

	_, ok := r.claim("job-1")
	require.True(t, ok)

	cancel()
	assert.Equal(t, 0, r.Len())
}

func TestWaiterRegistry_IndependentJobs(t *testing.T) {
	r := NewWaiterRegistry()
	chA, cancelA := r.Register("job-a")
	_, cancelB := r.Register("job-b")
	defer cancelA()
	defer cancelB()
	assert.Equal(t, 2, r.Len())

	claimed, ok := r.claim("job-a")
	require.True(t, ok)
	claimed <- types.FailureOutcome(types.NewError(types.ErrExecutionFailed, "boom"))

	outcome := <-chA
	oErr, failed := outcome.Err()
	require.True(t, failed)
	assert.Equal(t, types.ErrExecutionFailed, oErr.Code)

	assert.Equal(t, 1, r.Len())
}
