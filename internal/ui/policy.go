package ui

import (
	"context"
	"log/slog"

	"github.com/batonflow/baton/internal/expressions"
	"github.com/batonflow/baton/pkg/engine"
	"github.com/batonflow/baton/pkg/schema"
)

// PolicyAction is what a matched rule decides.
type PolicyAction string

const (
	PolicyApprove PolicyAction = "approve"
	PolicyReject  PolicyAction = "reject"
)

// PolicyRule is one CEL auto-decision rule. Rules evaluate against four
// variables: approval (step_id, message, workflow_id), results (step id ->
// result data), input (original workflow input), and workflow (id, run_id).
//
//	rule: approval.step_id == "deploy" && results.plan.risk < 3
type PolicyRule struct {
	Name   string       `json:"name" yaml:"name"`
	Rule   string       `json:"rule" yaml:"rule"`
	Action PolicyAction `json:"action" yaml:"action"`
}

// Validate checks the rule declaration.
func (r *PolicyRule) Validate() error {
	if r.Rule == "" {
		return schema.NewErrorf(schema.ErrCodeValidation, "policy rule %q has no expression", r.Name)
	}
	if r.Action != PolicyApprove && r.Action != PolicyReject {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"policy rule %q action must be approve or reject, got %q", r.Name, r.Action)
	}
	return nil
}

// PolicyUI wraps an inner UIManager with CEL auto-decision rules. The first
// rule that evaluates to true decides the approval without prompting; when
// no rule matches, the prompt falls through to the inner manager. A rule
// that fails to evaluate is skipped with a warning, so a broken policy
// degrades to a human decision rather than deciding wrongly.
type PolicyUI struct {
	inner  engine.UIManager
	rules  []PolicyRule
	cel    *expressions.CELEngine
	logger *slog.Logger
}

var _ engine.UIManager = (*PolicyUI)(nil)

// NewPolicyUI validates the rules and wraps inner with them.
func NewPolicyUI(inner engine.UIManager, rules []PolicyRule, logger *slog.Logger) (*PolicyUI, error) {
	if inner == nil {
		return nil, schema.NewError(schema.ErrCodeConfiguration,
			"policy UI requires an inner UI manager for unmatched prompts")
	}
	for i := range rules {
		if err := rules[i].Validate(); err != nil {
			return nil, err
		}
	}
	cel, err := expressions.NewCELEngine()
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeConfiguration,
			"create CEL engine for approval policies").WithCause(err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PolicyUI{inner: inner, rules: rules, cel: cel, logger: logger}, nil
}

// ShowApprovalPrompt runs the rules in order; the first match decides.
func (p *PolicyUI) ShowApprovalPrompt(ctx context.Context, req engine.ApprovalRequest) (bool, error) {
	data := policyScope(req)

	for i := range p.rules {
		rule := &p.rules[i]
		out, err := p.cel.Evaluate(ctx, rule.Rule, data)
		if err != nil {
			p.logger.Warn("approval policy rule skipped",
				"rule", rule.Name, "step_id", req.StepID, "error", err.Error())
			continue
		}
		matched, ok := out.(bool)
		if !ok {
			p.logger.Warn("approval policy rule returned non-boolean",
				"rule", rule.Name, "step_id", req.StepID)
			continue
		}
		if !matched {
			continue
		}

		approved := rule.Action == PolicyApprove
		p.logger.Info("approval decided by policy",
			"rule", rule.Name, "step_id", req.StepID, "approved", approved)
		return approved, nil
	}

	return p.inner.ShowApprovalPrompt(ctx, req)
}

// ShowWorkflowStart forwards to the inner manager.
func (p *PolicyUI) ShowWorkflowStart(workflowID, runID string) {
	p.inner.ShowWorkflowStart(workflowID, runID)
}

// ShowWorkflowComplete forwards to the inner manager.
func (p *PolicyUI) ShowWorkflowComplete(result *engine.ExecutionResult) {
	p.inner.ShowWorkflowComplete(result)
}

// ShowWorkflowError forwards to the inner manager.
func (p *PolicyUI) ShowWorkflowError(workflowID string, err error) {
	p.inner.ShowWorkflowError(workflowID, err)
}

// ShowStepProgress forwards to the inner manager.
func (p *PolicyUI) ShowStepProgress(stepID string, result *engine.StepResult) {
	p.inner.ShowStepProgress(stepID, result)
}

// policyScope builds the CEL variable bindings for one approval request.
func policyScope(req engine.ApprovalRequest) map[string]any {
	results := req.Context
	if results == nil {
		results = map[string]any{}
	}
	return map[string]any{
		"approval": map[string]any{
			"step_id":     req.StepID,
			"message":     req.Message,
			"workflow_id": req.WorkflowID,
		},
		"results": results,
		"input":   req.Input,
		"workflow": map[string]any{
			"id":     req.WorkflowID,
			"run_id": req.RunID,
		},
	}
}
