package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/batonflow/baton/pkg/schema"
)

// workflowSchemaJSON is the JSON Schema for WorkflowDefinition validation.
// Embedded as a constant to avoid filesystem dependencies. Step ids share
// the word grammar of path expressions, so hyphens and dots are rejected
// here rather than failing strangely at evaluation time.
const workflowSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://batonflow.dev/schemas/workflow.json",
  "type": "object",
  "required": ["id", "steps"],
  "properties": {
    "id": {
      "type": "string",
      "minLength": 1
    },
    "description": { "type": "string" },
    "steps": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/step" }
    },
    "max_iterations": {
      "type": "integer",
      "minimum": 1
    },
    "max_duration": { "$ref": "#/$defs/duration" },
    "max_errors": {
      "type": "integer",
      "minimum": 1
    },
    "metadata": {
      "type": "object"
    }
  },
  "additionalProperties": false,
  "$defs": {
    "step": {
      "type": "object",
      "required": ["id", "type"],
      "properties": {
        "id": {
          "type": "string",
          "pattern": "^[a-zA-Z_][a-zA-Z0-9_]*$"
        },
        "type": {
          "type": "string",
          "enum": ["agent", "transform", "condition", "parallel", "approval"]
        },
        "next": { "type": "string" },
        "on_error": { "type": "string" },
        "max_retries": {
          "type": "integer",
          "minimum": 1
        },
        "retry_delay": { "$ref": "#/$defs/duration" },
        "timeout": { "$ref": "#/$defs/duration" },
        "agent": { "type": "string" },
        "input": { "type": "string" },
        "transform": { "type": "string" },
        "condition": { "type": "string" },
        "then": { "type": "string" },
        "else": { "type": "string" },
        "steps": {
          "type": "array",
          "items": { "$ref": "#/$defs/step" }
        },
        "message": { "type": "string" },
        "on_approve": { "type": "string" },
        "on_reject": { "type": "string" },
        "approval_timeout": { "$ref": "#/$defs/duration" }
      },
      "additionalProperties": false
    },
    "duration": {
      "type": "string",
      "pattern": "^[0-9]+(ns|us|µs|ms|s|m|h)$"
    }
  }
}`

// JSONSchemaValidator implements the structural stage using JSON Schema
// Draft 2020-12. It is safe for concurrent use.
type JSONSchemaValidator struct {
	workflowSchema *jsonschema.Schema
}

// NewJSONSchemaValidator creates a validator with the workflow schema
// pre-compiled.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(workflowSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal workflow schema: %w", err)
	}
	if err := c.AddResource("https://batonflow.dev/schemas/workflow.json", schemaDoc); err != nil {
		return nil, fmt.Errorf("add workflow schema resource: %w", err)
	}

	wfSchema, err := c.Compile("https://batonflow.dev/schemas/workflow.json")
	if err != nil {
		return nil, fmt.Errorf("compile workflow schema: %w", err)
	}

	return &JSONSchemaValidator{workflowSchema: wfSchema}, nil
}

// ValidateDefinition validates a WorkflowDefinition against the workflow
// JSON Schema, then checks id uniqueness across top-level and nested steps.
func (v *JSONSchemaValidator) ValidateDefinition(def *schema.WorkflowDefinition) error {
	if def == nil {
		return schema.NewError(schema.ErrCodeValidation, "workflow definition is nil")
	}

	doc, err := toJSONValue(def)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize workflow definition").WithCause(err)
	}

	if err := v.workflowSchema.Validate(doc); err != nil {
		return toBatonError(err)
	}

	// Uniqueness the JSON Schema cannot express: nested ids share one
	// namespace with top-level ids.
	seen := make(map[string]struct{}, len(def.Steps))
	var checkDup func(steps []schema.WorkflowStep) error
	checkDup = func(steps []schema.WorkflowStep) error {
		for i := range steps {
			id := steps[i].ID
			if _, exists := seen[id]; exists {
				return schema.NewErrorf(schema.ErrCodeValidation, "duplicate step id %q", id)
			}
			seen[id] = struct{}{}
			if len(steps[i].Steps) > 0 {
				if err := checkDup(steps[i].Steps); err != nil {
					return err
				}
			}
		}
		return nil
	}
	return checkDup(def.Steps)
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toBatonError converts a jsonschema.ValidationError into a BatonError
// carrying one message per leaf violation.
func toBatonError(err error) *schema.BatonError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}

	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}

	msg := fmt.Sprintf("validation failed with %d errors", len(violations))
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf error
// messages with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
