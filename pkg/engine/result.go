package engine

import (
	"time"

	"github.com/batonflow/baton/pkg/schema"
)

// StepResult is the outcome of one step attempt sequence. A retried step
// still yields one StepResult, from the attempt that finally returned.
// Immutable after creation.
type StepResult struct {
	StepID      string             `json:"step_id"`
	Success     bool               `json:"success"`
	Data        any                `json:"data,omitempty"`
	Error       *schema.BatonError `json:"error,omitempty"`
	StartedAt   time.Time          `json:"started_at"`
	CompletedAt time.Time          `json:"completed_at"`
	Duration    time.Duration      `json:"duration_ns"`
	Retries     int                `json:"retries,omitempty"`
}

// successResult builds a completed StepResult with timing filled in.
func successResult(stepID string, startedAt time.Time, data any, retries int) *StepResult {
	completed := time.Now().UTC()
	return &StepResult{
		StepID:      stepID,
		Success:     true,
		Data:        data,
		StartedAt:   startedAt,
		CompletedAt: completed,
		Duration:    completed.Sub(startedAt),
		Retries:     retries,
	}
}

// failureResult builds a failed StepResult carrying the step's error.
func failureResult(stepID string, startedAt time.Time, err error, retries int) *StepResult {
	completed := time.Now().UTC()
	return &StepResult{
		StepID:      stepID,
		Success:     false,
		Error:       schema.AsBatonError(err, schema.ErrCodeExecution).WithStep(stepID),
		StartedAt:   startedAt,
		CompletedAt: completed,
		Duration:    completed.Sub(startedAt),
		Retries:     retries,
	}
}

// ExecutionResult is the final outcome of a run, returned to the caller.
// The engine keeps no reference to the context after returning it.
type ExecutionResult struct {
	RunID       string             `json:"run_id"`
	WorkflowID  string             `json:"workflow_id"`
	Success     bool               `json:"success"`
	Status      RunStatus          `json:"status"`
	Context     *ExecutionContext  `json:"-"`
	Error       *schema.BatonError `json:"error,omitempty"`
	StartedAt   time.Time          `json:"started_at"`
	CompletedAt time.Time          `json:"completed_at"`
}
