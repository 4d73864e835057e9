package ui

import (
	"context"

	"github.com/batonflow/baton/pkg/engine"
	"github.com/batonflow/baton/pkg/schema"
)

// NoopUI is the UIManager for headless hosts. Notifications are discarded.
// Approval prompts fail with APPROVAL_ERROR, so an approval step reached
// without an interactive surface routes through its on_error edge instead
// of deciding silently.
type NoopUI struct{}

var _ engine.UIManager = NoopUI{}

// ShowApprovalPrompt always fails; headless hosts cannot decide approvals.
func (NoopUI) ShowApprovalPrompt(_ context.Context, req engine.ApprovalRequest) (bool, error) {
	return false, schema.NewErrorf(schema.ErrCodeApproval,
		"no interactive UI available for approval step %q", req.StepID)
}

func (NoopUI) ShowWorkflowStart(string, string)             {}
func (NoopUI) ShowWorkflowComplete(*engine.ExecutionResult) {}
func (NoopUI) ShowWorkflowError(string, error)              {}
func (NoopUI) ShowStepProgress(string, *engine.StepResult)  {}
