package engine

import (
	"context"
	"errors"
	"time"

	"github.com/batonflow/baton/internal/expressions"
	"github.com/batonflow/baton/internal/logging"
	"github.com/batonflow/baton/pkg/schema"
)

// ApprovalRequest is handed to the UIManager when an approval step needs a
// human decision. Context carries the completed step results and Input the
// original workflow input, so approval policies can decide without reaching
// back into the engine.
type ApprovalRequest struct {
	RunID      string         `json:"run_id"`
	WorkflowID string         `json:"workflow_id"`
	StepID     string         `json:"step_id"`
	Message    string         `json:"message"`
	Context    map[string]any `json:"context,omitempty"`
	Input      any            `json:"input,omitempty"`
	Timeout    time.Duration  `json:"timeout,omitempty"`
}

// UIManager is the human-facing collaborator. ShowApprovalPrompt blocks
// until a decision, an error, or ctx expiry. The Show* notification hooks
// are best-effort: the engine calls them with panic recovery and ignores
// any failure.
type UIManager interface {
	ShowApprovalPrompt(ctx context.Context, req ApprovalRequest) (bool, error)
	ShowWorkflowStart(workflowID string, runID string)
	ShowWorkflowComplete(result *ExecutionResult)
	ShowWorkflowError(workflowID string, err error)
	ShowStepProgress(stepID string, result *StepResult)
}

// approvalStep presents a message and waits for a boolean decision. Timeout
// expiry resolves to rejection; prompt I/O failure fails the step.
type approvalStep struct {
	ui     UIManager
	engine *expressions.PathEngine
	sink   EventSink
}

func (s *approvalStep) Execute(ctx context.Context, step *schema.WorkflowStep, ec *ExecutionContext) (*StepResult, error) {
	if step.Message == "" {
		return nil, schema.NewErrorf(schema.ErrCodeConfiguration,
			"approval step %q has no message", step.ID).WithStep(step.ID)
	}
	if s.ui == nil {
		return nil, schema.NewError(schema.ErrCodeConfiguration,
			"no UI manager configured for approval steps").WithStep(step.ID)
	}

	started := time.Now().UTC()

	scope := expressions.BuildScope(ec.Input(), ec.ResultData())
	message, err := expressions.RenderTemplate(ctx, s.engine, step.Message, scope)
	if err != nil {
		return failureResult(step.ID, started, err, 0), nil
	}

	timeout := step.ApprovalTimeoutOrZero()
	req := ApprovalRequest{
		RunID:      logging.RunID(ctx),
		WorkflowID: ec.WorkflowID(),
		StepID:     step.ID,
		Message:    message,
		Context:    ec.ResultData(),
		Input:      ec.Input(),
		Timeout:    timeout,
	}

	s.publish(ctx, ec, step, EventApprovalRequested, map[string]any{"message": message})

	promptCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		promptCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	approved, err := s.ui.ShowApprovalPrompt(promptCtx, req)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			// The run is shutting down, not the prompt timing out.
			cancelErr := schema.NewErrorf(schema.ErrCodeCancelled,
				"approval for step %q cancelled", step.ID).WithStep(step.ID).WithCause(ctx.Err())
			return failureResult(step.ID, started, cancelErr, 0), nil
		case errors.Is(err, context.DeadlineExceeded) || promptCtx.Err() != nil:
			// Timeout resolves to rejection so on_reject routing still runs.
			approved = false
		default:
			promptErr := schema.NewErrorf(schema.ErrCodeApproval,
				"approval prompt failed: %s", err.Error()).WithStep(step.ID).WithCause(err)
			return failureResult(step.ID, started, promptErr, 0), nil
		}
	}

	s.publish(ctx, ec, step, EventApprovalDecided, map[string]any{"approved": approved})

	return successResult(step.ID, started, map[string]any{"approved": approved}, 0), nil
}

func (s *approvalStep) Route(step *schema.WorkflowStep, result *StepResult) string {
	if !result.Success {
		return step.OnError
	}
	data, _ := result.Data.(map[string]any)
	if approved, _ := data["approved"].(bool); approved {
		if step.OnApprove != "" {
			return step.OnApprove
		}
		return step.Next
	}
	return step.OnReject
}

func (s *approvalStep) publish(ctx context.Context, ec *ExecutionContext, step *schema.WorkflowStep, eventType string, payload map[string]any) {
	if s.sink == nil {
		return
	}
	s.sink.Publish(Event{
		Type:       eventType,
		RunID:      logging.RunID(ctx),
		WorkflowID: ec.WorkflowID(),
		StepID:     step.ID,
		Payload:    payload,
		Timestamp:  time.Now().UTC(),
	})
}
