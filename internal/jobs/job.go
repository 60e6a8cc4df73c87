// Package jobs runs attribution computations on per-index worker pools.
package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/allenai/infinigram-api/internal/tracing"
)

// JobStatus represents the current state of a job.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
	// JobAbandoned marks a job aborted while running; its result is discarded.
	JobAbandoned JobStatus = "abandoned"
)

// FunctionPrefix is the prefix of every attribution function name.
const FunctionPrefix = "attribute_"

// FunctionName returns the function bound to the pool of index.
func FunctionName(index string) string {
	return FunctionPrefix + index
}

// NewJobKey returns a fresh random job key.
func NewJobKey() string {
	return uuid.New().String()
}

// Job is one queued attribution computation.
type Job struct {
	Key         string          `json:"key"`
	Function    string          `json:"function"`
	Index       string          `json:"index"`
	Args        json.RawMessage `json:"args"`
	OtelContext tracing.Carrier `json:"otelContext,omitempty"`
	Status      JobStatus       `json:"status"`
	CreatedAt   time.Time       `json:"createdAt"`
	StartedAt   *time.Time      `json:"startedAt,omitempty"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// NewJob creates a queued job with args encoded as a JSON object.
func NewJob(key, function, index string, args interface{}) (*Job, error) {
	if key == "" {
		return nil, fmt.Errorf("job key must not be empty")
	}
	data, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("failed to encode job args: %w", err)
	}
	return &Job{
		Key:       key,
		Function:  function,
		Index:     index,
		Args:      data,
		Status:    JobQueued,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// DecodeArgs unmarshals the job arguments into v.
func (j *Job) DecodeArgs(v interface{}) error {
	if err := json.Unmarshal(j.Args, v); err != nil {
		return fmt.Errorf("job %s has malformed args: %w", j.Key, err)
	}
	return nil
}

// MarkStarted transitions the job to running state.
func (j *Job) MarkStarted() {
	now := time.Now().UTC()
	j.Status = JobRunning
	j.StartedAt = &now
}

// MarkCompleted transitions the job to completed state.
func (j *Job) MarkCompleted() {
	now := time.Now().UTC()
	j.Status = JobCompleted
	j.CompletedAt = &now
}

// MarkFailed transitions the job to failed state with error.
func (j *Job) MarkFailed(err error) {
	now := time.Now().UTC()
	j.Status = JobFailed
	j.CompletedAt = &now
	if err != nil {
		j.Error = err.Error()
	}
}

// MarkCancelled transitions a queued job to cancelled state.
func (j *Job) MarkCancelled() {
	now := time.Now().UTC()
	j.Status = JobCancelled
	j.CompletedAt = &now
}

// MarkAbandoned transitions a running job to abandoned state.
func (j *Job) MarkAbandoned() {
	now := time.Now().UTC()
	j.Status = JobAbandoned
	j.CompletedAt = &now
}

// Duration returns how long the job took (or has been running).
func (j *Job) Duration() time.Duration {
	if j.StartedAt == nil {
		return 0
	}
	endTime := time.Now().UTC()
	if j.CompletedAt != nil {
		endTime = *j.CompletedAt
	}
	return endTime.Sub(*j.StartedAt)
}
