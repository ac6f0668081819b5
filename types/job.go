package types

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// JobState tracks a job through its lifecycle. Transitions are forward-only.
type JobState string

const (
	JobStateQueued              JobState = "queued"
	JobStatePreprocessing       JobState = "preprocessing"
	JobStatePreprocessed        JobState = "preprocessed"
	JobStatePreprocessingFailed JobState = "preprocessing_failed"
	JobStateExecuting           JobState = "executing"
	JobStateSucceeded           JobState = "succeeded"
	JobStateExecutionFailed     JobState = "execution_failed"
)

// IsTerminal reports whether the state is a terminal state.
func (s JobState) IsTerminal() bool {
	switch s {
	case JobStatePreprocessingFailed, JobStateSucceeded, JobStateExecutionFailed:
		return true
	}
	return false
}

// transitions is the set of legal forward transitions.
// preprocessed -> execution_failed covers jobs whose batch never acquired
// the gate (gate timeout, shutdown while awaiting a permit).
var transitions = map[JobState][]JobState{
	JobStateQueued:        {JobStatePreprocessing},
	JobStatePreprocessing: {JobStatePreprocessed, JobStatePreprocessingFailed},
	JobStatePreprocessed:  {JobStateExecuting, JobStateExecutionFailed},
	JobStateExecuting:     {JobStateSucceeded, JobStateExecutionFailed},
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s JobState) CanTransitionTo(next JobState) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Outcome is the terminal result of a job: exactly one of result or error.
// The zero Outcome is invalid; construct with SuccessOutcome or FailureOutcome.
type Outcome struct {
	result *TranscriptionResult
	err    *Error
}

// SuccessOutcome wraps a transcription result.
func SuccessOutcome(result *TranscriptionResult) Outcome {
	return Outcome{result: result}
}

// FailureOutcome wraps a terminal job error.
func FailureOutcome(err *Error) Outcome {
	return Outcome{err: err}
}

// Result returns the success payload, if any.
func (o Outcome) Result() (*TranscriptionResult, bool) {
	return o.result, o.result != nil
}

// Err returns the failure payload, if any.
func (o Outcome) Err() (*Error, bool) {
	return o.err, o.err != nil
}

// Failed reports whether the outcome is a failure.
func (o Outcome) Failed() bool {
	return o.err != nil
}

// Valid reports whether the outcome carries exactly one payload.
func (o Outcome) Valid() bool {
	return (o.result != nil) != (o.err != nil)
}

// Job is one admitted unit of work. The payload is opaque to the scheduler
// and only interpreted by the preprocessing and delivery collaborators.
type Job struct {
	ID          string
	Payload     json.RawMessage
	ArrivalTime time.Time

	mu      sync.Mutex
	state   JobState
	outcome Outcome
	done    bool

	// invalid is set when the queue payload could not be decoded. Such a
	// job still flows through the batch so its failure is delivered once.
	invalid *Error
}

// NewJob creates a queued job with the given ID and opaque payload.
func NewJob(id string, payload json.RawMessage) *Job {
	return &Job{
		ID:      id,
		Payload: payload,
		state:   JobStateQueued,
	}
}

// NewInvalidJob creates a job representing an undecodable queue payload.
// It is assigned a fresh ID so its failure remains addressable downstream.
func NewInvalidJob(raw []byte, cause error) *Job {
	return &Job{
		ID:      uuid.New().String(),
		Payload: json.RawMessage(raw),
		state:   JobStateQueued,
		invalid: NewError(ErrInvalidPayload, "undecodable queue payload").WithCause(cause),
	}
}

// State returns the current state.
func (j *Job) State() JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Invalid returns the payload decode error, if any.
func (j *Job) Invalid() *Error {
	return j.invalid
}

// Advance moves the job to a non-terminal successor state.
func (j *Job) Advance(next JobState) error {
	if next.IsTerminal() {
		return Errorf(ErrInternalError, "job %s: terminal state %s requires an outcome", j.ID, next)
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.state.CanTransitionTo(next) {
		return Errorf(ErrInternalError, "job %s: illegal transition %s -> %s", j.ID, j.state, next)
	}
	j.state = next
	return nil
}

// Complete moves the job to a terminal state and records its outcome.
// It succeeds at most once; the outcome must match the state (success
// outcome for succeeded, failure outcome otherwise).
func (j *Job) Complete(state JobState, outcome Outcome) error {
	if !state.IsTerminal() {
		return Errorf(ErrInternalError, "job %s: %s is not terminal", j.ID, state)
	}
	if !outcome.Valid() || outcome.Failed() == (state == JobStateSucceeded) {
		return Errorf(ErrInternalError, "job %s: outcome does not match state %s", j.ID, state)
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.done {
		return Errorf(ErrInternalError, "job %s: already completed", j.ID)
	}
	if !j.state.CanTransitionTo(state) {
		return Errorf(ErrInternalError, "job %s: illegal transition %s -> %s", j.ID, j.state, state)
	}
	j.state = state
	j.outcome = outcome
	j.done = true
	return nil
}

// Outcome returns the terminal outcome, if the job has completed.
func (j *Job) Outcome() (Outcome, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.outcome, j.done
}
