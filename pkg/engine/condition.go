package engine

import (
	"context"
	"time"

	"github.com/batonflow/baton/internal/expressions"
	"github.com/batonflow/baton/pkg/schema"
)

// conditionStep evaluates a boolean expression and routes on its value
// rather than on success/failure: true goes to then, false to else, and an
// evaluation error goes to on_error. A non-boolean outcome is an
// evaluation error.
type conditionStep struct {
	engine *expressions.PathEngine
}

func (s *conditionStep) Execute(ctx context.Context, step *schema.WorkflowStep, ec *ExecutionContext) (*StepResult, error) {
	if step.Condition == "" {
		return nil, schema.NewErrorf(schema.ErrCodeConfiguration,
			"condition step %q has no expression", step.ID).WithStep(step.ID)
	}

	started := time.Now().UTC()
	scope := expressions.BuildScope(ec.Input(), ec.ResultData())

	out, err := s.engine.EvaluateBool(ctx, step.Condition, scope)
	if err != nil {
		return failureResult(step.ID, started, err, 0), nil
	}
	return successResult(step.ID, started, map[string]any{"result": out}, 0), nil
}

func (s *conditionStep) Route(step *schema.WorkflowStep, result *StepResult) string {
	if !result.Success {
		return step.OnError
	}
	data, _ := result.Data.(map[string]any)
	if verdict, _ := data["result"].(bool); verdict {
		return step.Then
	}
	return step.Else
}
