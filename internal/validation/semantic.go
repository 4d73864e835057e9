package validation

import (
	"fmt"
	"strings"

	"github.com/batonflow/baton/pkg/schema"
)

// reservedStepID names the run input in expression scopes, so no step may
// claim it.
const reservedStepID = "input"

// highRetryThreshold is where retry budgets start drawing a warning.
const highRetryThreshold = 10

// validateSemantic performs semantic analysis on the workflow definition.
// Checks: routing references resolve, per-type required fields present,
// nested step rules, reserved ids, agent names registered.
func validateSemantic(def *schema.WorkflowDefinition, lookup AgentLookup) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	// Routing targets must name top-level steps; nested steps are not
	// addressable by the run loop.
	topIDs := make(map[string]bool, len(def.Steps))
	for _, s := range def.Steps {
		topIDs[s.ID] = true
	}

	for i := range def.Steps {
		path := fmt.Sprintf("steps[%d]", i)
		validateStepSemantic(&def.Steps[i], path, topIDs, lookup, result)
	}

	return result
}

// validateStepSemantic checks a single top-level step.
func validateStepSemantic(step *schema.WorkflowStep, path string, topIDs map[string]bool, lookup AgentLookup, result *schema.ValidationResult) {
	if step.ID == reservedStepID {
		result.AddError(path+".id", schema.ErrCodeValidation,
			fmt.Sprintf("step id %q is reserved for the run input", reservedStepID))
	}

	for _, ref := range step.RoutingRefs() {
		if !topIDs[ref.Target] {
			result.AddError(fmt.Sprintf("%s.%s", path, ref.Field),
				schema.ErrCodeValidation,
				fmt.Sprintf("references non-existent step %q", ref.Target))
		}
	}

	checkRequiredFields(step, path, topIDs, lookup, result)
	checkMisplacedFields(step, path, result)

	if step.Type == schema.StepTypeParallel {
		for i := range step.Steps {
			subPath := fmt.Sprintf("%s.steps[%d]", path, i)
			validateNestedStep(&step.Steps[i], subPath, topIDs, lookup, result)
		}
	}

	if step.MaxRetries > highRetryThreshold {
		result.AddWarning(path+".max_retries", schema.ErrCodeValidation,
			fmt.Sprintf("high retry count (%d) may cause excessive delays", step.MaxRetries))
	}
}

// validateNestedStep checks one member of a parallel group. Nested steps
// run to produce group data only, so routing fields and group-level step
// kinds are rejected.
func validateNestedStep(step *schema.WorkflowStep, path string, topIDs map[string]bool, lookup AgentLookup, result *schema.ValidationResult) {
	if step.ID == reservedStepID {
		result.AddError(path+".id", schema.ErrCodeValidation,
			fmt.Sprintf("step id %q is reserved for the run input", reservedStepID))
	}

	switch step.Type {
	case schema.StepTypeParallel:
		result.AddError(path+".type", schema.ErrCodeValidation,
			"parallel steps cannot be nested")
		return
	case schema.StepTypeApproval:
		result.AddError(path+".type", schema.ErrCodeValidation,
			"approval steps cannot be nested in a parallel group")
		return
	}

	for _, ref := range step.RoutingRefs() {
		result.AddError(fmt.Sprintf("%s.%s", path, ref.Field),
			schema.ErrCodeValidation,
			"nested steps must not declare routing")
	}

	checkRequiredFields(step, path, topIDs, lookup, result)
	checkMisplacedFields(step, path, result)

	if step.MaxRetries > highRetryThreshold {
		result.AddWarning(path+".max_retries", schema.ErrCodeValidation,
			fmt.Sprintf("high retry count (%d) may cause excessive delays", step.MaxRetries))
	}
}

// checkRequiredFields verifies the fields each step type cannot run
// without.
func checkRequiredFields(step *schema.WorkflowStep, path string, topIDs map[string]bool, lookup AgentLookup, result *schema.ValidationResult) {
	switch step.Type {
	case schema.StepTypeAgent:
		if step.Agent == "" {
			result.AddError(path+".agent", schema.ErrCodeValidation,
				"agent steps require an agent name")
		} else if lookup != nil && !lookup.Has(step.Agent) {
			result.AddError(path+".agent", schema.ErrCodeAgentUnavailable,
				fmt.Sprintf("agent %q not registered", step.Agent))
		}
		// The focus reference degrades to the full payload at runtime, so
		// an unknown root is only a warning. Dotted refs like "plan.files"
		// are checked by their first segment.
		if root, _, _ := strings.Cut(step.Input, "."); root != "" && root != reservedStepID && !topIDs[root] {
			result.AddWarning(path+".input", schema.ErrCodeValidation,
				fmt.Sprintf("input reference %q does not name a step", step.Input))
		}

	case schema.StepTypeTransform:
		if step.Transform == "" {
			result.AddError(path+".transform", schema.ErrCodeValidation,
				"transform steps require a transform expression")
		}

	case schema.StepTypeCondition:
		if step.Condition == "" {
			result.AddError(path+".condition", schema.ErrCodeValidation,
				"condition steps require a condition expression")
		}
		if step.Then == "" && step.Else == "" {
			result.AddWarning(path, schema.ErrCodeValidation,
				"condition step has neither then nor else; both outcomes terminate the run")
		}

	case schema.StepTypeParallel:
		if len(step.Steps) == 0 {
			result.AddError(path+".steps", schema.ErrCodeValidation,
				"parallel steps require at least one nested step")
		}

	case schema.StepTypeApproval:
		if step.Message == "" {
			result.AddError(path+".message", schema.ErrCodeValidation,
				"approval steps require a message")
		}
	}
}

// checkMisplacedFields warns when a field that belongs to another step type
// is set; the engine ignores such fields silently.
func checkMisplacedFields(step *schema.WorkflowStep, path string, result *schema.ValidationResult) {
	warn := func(field string, set bool, owner schema.StepType) {
		if set && step.Type != owner {
			result.AddWarning(path+"."+field, schema.ErrCodeValidation,
				fmt.Sprintf("%s has no effect on %s steps", field, step.Type))
		}
	}

	warn("agent", step.Agent != "", schema.StepTypeAgent)
	warn("input", step.Input != "", schema.StepTypeAgent)
	warn("max_retries", step.MaxRetries != 0, schema.StepTypeAgent)
	warn("retry_delay", step.RetryDelay != "", schema.StepTypeAgent)
	warn("timeout", step.Timeout != "", schema.StepTypeAgent)
	warn("transform", step.Transform != "", schema.StepTypeTransform)
	warn("condition", step.Condition != "", schema.StepTypeCondition)
	warn("then", step.Then != "", schema.StepTypeCondition)
	warn("else", step.Else != "", schema.StepTypeCondition)
	warn("steps", len(step.Steps) > 0, schema.StepTypeParallel)
	warn("message", step.Message != "", schema.StepTypeApproval)
	warn("on_approve", step.OnApprove != "", schema.StepTypeApproval)
	warn("on_reject", step.OnReject != "", schema.StepTypeApproval)
	warn("approval_timeout", step.ApprovalTimeout != "", schema.StepTypeApproval)
}
