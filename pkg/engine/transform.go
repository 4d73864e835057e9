package engine

import (
	"context"
	"time"

	"github.com/batonflow/baton/internal/expressions"
	"github.com/batonflow/baton/pkg/schema"
)

// transformStep evaluates the step's expression against a read-only view of
// the run: the original input plus every prior result's data. An unresolved
// path or malformed expression fails the step, not the run.
type transformStep struct {
	engine *expressions.PathEngine
}

func (s *transformStep) Execute(ctx context.Context, step *schema.WorkflowStep, ec *ExecutionContext) (*StepResult, error) {
	if step.Transform == "" {
		return nil, schema.NewErrorf(schema.ErrCodeConfiguration,
			"transform step %q has no expression", step.ID).WithStep(step.ID)
	}

	started := time.Now().UTC()
	scope := expressions.BuildScope(ec.Input(), ec.ResultData())

	out, err := s.engine.Evaluate(ctx, step.Transform, scope)
	if err != nil {
		return failureResult(step.ID, started, err, 0), nil
	}
	return successResult(step.ID, started, out, 0), nil
}

func (s *transformStep) Route(step *schema.WorkflowStep, result *StepResult) string {
	return defaultRoute(step, result)
}
