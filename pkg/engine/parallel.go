package engine

import (
	"context"
	"sync"
	"time"

	"github.com/batonflow/baton/pkg/schema"
)

// NestedOutcome reports one nested step of a parallel group. Result is
// always present once the step settled; Error mirrors Result.Error on
// failure for compact serialization.
type NestedOutcome struct {
	StepID string             `json:"step_id"`
	Status StepStatus         `json:"status"`
	Result *StepResult        `json:"result,omitempty"`
	Error  *schema.BatonError `json:"error,omitempty"`
}

// parallelStep runs every nested step concurrently on the worker pool. Each
// nested step reads the same immutable context snapshot, so no nested step
// can observe a sibling's result. The join is settle-all: one failure does
// not cancel the others. Outcomes keep declared order.
type parallelStep struct {
	pool     *WorkerPool
	dispatch func(ctx context.Context, step *schema.WorkflowStep, ec *ExecutionContext) (*StepResult, error)
}

func (s *parallelStep) Execute(ctx context.Context, step *schema.WorkflowStep, ec *ExecutionContext) (*StepResult, error) {
	if len(step.Steps) == 0 {
		return nil, schema.NewErrorf(schema.ErrCodeConfiguration,
			"parallel step %q has no nested steps", step.ID).WithStep(step.ID)
	}

	started := time.Now().UTC()

	outcomes := make([]NestedOutcome, len(step.Steps))
	fatals := make([]error, len(step.Steps))

	var wg sync.WaitGroup
	for i := range step.Steps {
		nested := &step.Steps[i]
		slot := i

		wg.Add(1)
		err := s.pool.Submit(ctx, func(taskCtx context.Context) error {
			defer wg.Done()
			result, fatal := s.dispatch(taskCtx, nested, ec)
			if fatal != nil {
				fatals[slot] = fatal
				outcomes[slot] = NestedOutcome{
					StepID: nested.ID,
					Status: StepStatusFailed,
					Error:  schema.AsBatonError(fatal, schema.ErrCodeConfiguration).WithStep(nested.ID),
				}
				return fatal
			}
			outcomes[slot] = outcomeFor(nested.ID, result)
			if !result.Success {
				return result.Error
			}
			return nil
		})
		if err != nil {
			// Submission failed: the pool is shutting down or the run is
			// cancelled. Record the slot and keep settling the rest.
			wg.Done()
			submitErr := schema.NewErrorf(schema.ErrCodeCancelled,
				"nested step %q not started: %s", nested.ID, err.Error()).
				WithStep(nested.ID).WithCause(err)
			outcomes[slot] = NestedOutcome{
				StepID: nested.ID,
				Status: StepStatusSkipped,
				Error:  submitErr,
			}
		}
	}

	// Settle all before looking at outcomes.
	wg.Wait()

	for _, fatal := range fatals {
		if fatal != nil {
			return nil, fatal
		}
	}

	allSucceeded := true
	for _, outcome := range outcomes {
		if outcome.Status != StepStatusCompleted {
			allSucceeded = false
			break
		}
	}

	completed := time.Now().UTC()
	result := &StepResult{
		StepID:      step.ID,
		Success:     allSucceeded,
		Data:        outcomes,
		StartedAt:   started,
		CompletedAt: completed,
		Duration:    completed.Sub(started),
	}
	if !allSucceeded {
		result.Error = groupError(step.ID, outcomes)
	}
	return result, nil
}

func (s *parallelStep) Route(step *schema.WorkflowStep, result *StepResult) string {
	return defaultRoute(step, result)
}

func outcomeFor(stepID string, result *StepResult) NestedOutcome {
	outcome := NestedOutcome{
		StepID: stepID,
		Result: result,
	}
	if result.Success {
		outcome.Status = StepStatusCompleted
	} else {
		outcome.Status = StepStatusFailed
		outcome.Error = result.Error
	}
	return outcome
}

// groupError summarizes which nested steps failed.
func groupError(stepID string, outcomes []NestedOutcome) *schema.BatonError {
	var failed []string
	for _, outcome := range outcomes {
		if outcome.Status != StepStatusCompleted {
			failed = append(failed, outcome.StepID)
		}
	}
	return schema.NewErrorf(schema.ErrCodeExecution,
		"%d of %d nested steps failed", len(failed), len(outcomes)).
		WithStep(stepID).
		WithDetails(map[string]any{"failed_steps": failed})
}
