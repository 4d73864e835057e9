// Package validation checks workflow definitions before execution. The
// pipeline has three stages: structural (JSON Schema), semantic (routing
// references, per-type fields, nested step rules) and graph (reachability).
package validation

import (
	"sync"

	"github.com/batonflow/baton/pkg/schema"
)

// AgentLookup reports whether an agent name can be resolved. nil disables
// agent existence checks.
type AgentLookup interface {
	Has(name string) bool
}

// WorkflowValidator orchestrates the three-stage validation pipeline.
// Structural errors short-circuit: semantic and graph stages are skipped.
type WorkflowValidator struct {
	jsonSchema *JSONSchemaValidator
	agents     AgentLookup
}

// NewWorkflowValidator creates a WorkflowValidator.
// lookup may be nil to skip agent existence checks.
func NewWorkflowValidator(lookup AgentLookup) (*WorkflowValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &WorkflowValidator{
		jsonSchema: jsv,
		agents:     lookup,
	}, nil
}

// Validate runs the full pipeline and returns an aggregated result.
func (wv *WorkflowValidator) Validate(def *schema.WorkflowDefinition) *schema.ValidationResult {
	if def == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeValidation, "workflow definition is nil")
		return r
	}

	result := validateStructural(wv.jsonSchema, def)
	if !result.Valid() {
		return result
	}

	result.Merge(validateSemantic(def, wv.agents))

	// Graph analysis needs resolvable references, so skip it on semantic
	// errors.
	if result.Valid() {
		result.Merge(validateGraph(def))
	}

	return result
}

var (
	defaultOnce      sync.Once
	defaultValidator *WorkflowValidator
	defaultErr       error
)

// ValidateDefinition runs the pipeline with a shared validator and no agent
// lookup. The engine calls this before every run; hosts that know their
// agent set should build a WorkflowValidator with a lookup instead.
func ValidateDefinition(def *schema.WorkflowDefinition) *schema.ValidationResult {
	defaultOnce.Do(func() {
		defaultValidator, defaultErr = NewWorkflowValidator(nil)
	})
	if defaultErr != nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeValidation, defaultErr.Error())
		return r
	}
	return defaultValidator.Validate(def)
}

// validateStructural wraps JSONSchemaValidator.ValidateDefinition,
// converting its error output into a ValidationResult.
func validateStructural(v *JSONSchemaValidator, def *schema.WorkflowDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	err := v.ValidateDefinition(def)
	if err == nil {
		return result
	}

	batonErr, ok := err.(*schema.BatonError)
	if !ok {
		result.AddError("/", schema.ErrCodeValidation, err.Error())
		return result
	}

	if batonErr.Details != nil {
		if violations, ok := batonErr.Details["violations"].([]string); ok {
			for _, v := range violations {
				result.AddError("/", schema.ErrCodeValidation, v)
			}
			return result
		}
	}
	result.AddError("/", schema.ErrCodeValidation, batonErr.Message)
	return result
}
