package engine

import (
	"context"

	"github.com/batonflow/baton/pkg/schema"
)

// StepExecutor runs one step type. Execute returns the step's outcome as a
// StepResult; the error return is reserved for fatal configuration-class
// problems that must stop the run without routing (a malformed step, a
// missing collaborator). Ordinary step failures are a StepResult with
// Success false, which Route may send to the step's on_error target.
//
// Route maps a completed result to the id of the next step, or "" to
// terminate the run.
type StepExecutor interface {
	Execute(ctx context.Context, step *schema.WorkflowStep, ec *ExecutionContext) (*StepResult, error)
	Route(step *schema.WorkflowStep, result *StepResult) string
}

// defaultRoute is the success/failure routing rule shared by agent,
// transform, and parallel steps: success goes to next, failure to on_error,
// an absent target terminates.
func defaultRoute(step *schema.WorkflowStep, result *StepResult) string {
	if result.Success {
		return step.Next
	}
	return step.OnError
}
