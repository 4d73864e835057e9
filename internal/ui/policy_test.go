package ui

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/batonflow/baton/pkg/engine"
)

// recordingUI captures whether the inner prompt was reached.
type recordingUI struct {
	NoopUI
	prompted bool
	decision bool
	err      error
}

func (r *recordingUI) ShowApprovalPrompt(_ context.Context, _ engine.ApprovalRequest) (bool, error) {
	r.prompted = true
	return r.decision, r.err
}

func policyReq() engine.ApprovalRequest {
	return engine.ApprovalRequest{
		RunID:      "run-9",
		WorkflowID: "release",
		StepID:     "deploy",
		Message:    "Deploy to production?",
		Context: map[string]any{
			"plan": map[string]any{"risk": 2, "files": []any{"a.go"}},
		},
		Input: map[string]any{"env": "staging"},
	}
}

func newPolicy(t *testing.T, inner engine.UIManager, rules ...PolicyRule) *PolicyUI {
	t.Helper()
	p, err := NewPolicyUI(inner, rules, nil)
	require.NoError(t, err)
	return p
}

func TestPolicyUI_AutoApprove(t *testing.T) {
	inner := &recordingUI{}
	p := newPolicy(t, inner, PolicyRule{
		Name:   "low-risk",
		Rule:   `approval.step_id == "deploy" && results.plan.risk < 3`,
		Action: PolicyApprove,
	})

	approved, err := p.ShowApprovalPrompt(context.Background(), policyReq())
	require.NoError(t, err)
	assert.True(t, approved)
	assert.False(t, inner.prompted, "matched rule decides without prompting")
}

func TestPolicyUI_AutoReject(t *testing.T) {
	inner := &recordingUI{}
	p := newPolicy(t, inner, PolicyRule{
		Name:   "staging-only",
		Rule:   `input.env == "staging"`,
		Action: PolicyReject,
	})

	approved, err := p.ShowApprovalPrompt(context.Background(), policyReq())
	require.NoError(t, err)
	assert.False(t, approved)
	assert.False(t, inner.prompted)
}

func TestPolicyUI_FirstMatchWins(t *testing.T) {
	inner := &recordingUI{}
	p := newPolicy(t, inner,
		PolicyRule{Name: "reject-all", Rule: `true`, Action: PolicyReject},
		PolicyRule{Name: "approve-all", Rule: `true`, Action: PolicyApprove},
	)

	approved, err := p.ShowApprovalPrompt(context.Background(), policyReq())
	require.NoError(t, err)
	assert.False(t, approved)
}

func TestPolicyUI_FallsThroughToInner(t *testing.T) {
	inner := &recordingUI{decision: true}
	p := newPolicy(t, inner, PolicyRule{
		Name:   "never",
		Rule:   `approval.step_id == "other"`,
		Action: PolicyApprove,
	})

	approved, err := p.ShowApprovalPrompt(context.Background(), policyReq())
	require.NoError(t, err)
	assert.True(t, approved)
	assert.True(t, inner.prompted)
}

func TestPolicyUI_BrokenRuleSkipped(t *testing.T) {
	inner := &recordingUI{decision: false}
	p := newPolicy(t, inner,
		// References a result that does not exist; CEL errors at runtime.
		PolicyRule{Name: "broken", Rule: `results.missing.risk > 0`, Action: PolicyApprove},
	)

	approved, err := p.ShowApprovalPrompt(context.Background(), policyReq())
	require.NoError(t, err)
	assert.False(t, approved)
	assert.True(t, inner.prompted, "broken rule degrades to the inner prompt")
}

func TestPolicyUI_InnerErrorPropagates(t *testing.T) {
	inner := &recordingUI{err: errors.New("terminal gone")}
	p := newPolicy(t, inner)

	_, err := p.ShowApprovalPrompt(context.Background(), policyReq())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "terminal gone")
}

func TestNewPolicyUI_Validation(t *testing.T) {
	_, err := NewPolicyUI(nil, nil, nil)
	require.Error(t, err)

	_, err = NewPolicyUI(NoopUI{}, []PolicyRule{{Name: "x", Rule: ""}}, nil)
	require.Error(t, err)

	_, err = NewPolicyUI(NoopUI{}, []PolicyRule{{Name: "x", Rule: "true", Action: "maybe"}}, nil)
	require.Error(t, err)
}

func TestNoopUI_RejectsPrompts(t *testing.T) {
	_, err := NoopUI{}.ShowApprovalPrompt(context.Background(), policyReq())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no interactive UI")
}
