package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/batonflow/baton/pkg/schema"
)

func TestWorkflowValidator_NilDefinition(t *testing.T) {
	wv, err := NewWorkflowValidator(nil)
	require.NoError(t, err)

	result := wv.Validate(nil)
	require.False(t, result.Valid())
	assert.Contains(t, result.Errors[0].Message, "nil")
}

func TestWorkflowValidator_ValidPipeline(t *testing.T) {
	wv, err := NewWorkflowValidator(newMockLookup("planner", "coder"))
	require.NoError(t, err)

	def := &schema.WorkflowDefinition{
		ID: "build",
		Steps: []schema.WorkflowStep{
			agentStepDef("plan", "planner", "code"),
			agentStepDef("code", "coder", ""),
		},
	}
	result := wv.Validate(def)
	assert.True(t, result.Valid())
	assert.Empty(t, result.Warnings)
}

func TestWorkflowValidator_StructuralShortCircuits(t *testing.T) {
	wv, err := NewWorkflowValidator(nil)
	require.NoError(t, err)

	// Bad id fails structurally; the dangling next must not also be
	// reported because semantic never runs.
	def := &schema.WorkflowDefinition{
		ID: "wf",
		Steps: []schema.WorkflowStep{
			{ID: "bad-id", Type: schema.StepTypeAgent, Agent: "x", Next: "ghost"},
		},
	}
	result := wv.Validate(def)
	require.False(t, result.Valid())
	for _, e := range result.Errors {
		assert.NotContains(t, e.Message, "non-existent")
	}
}

func TestWorkflowValidator_SemanticErrorsSkipGraph(t *testing.T) {
	wv, err := NewWorkflowValidator(nil)
	require.NoError(t, err)

	// Dangling ref is a semantic error; the unreachable orphan must not
	// produce a graph warning because the graph stage is skipped.
	def := &schema.WorkflowDefinition{
		ID: "wf",
		Steps: []schema.WorkflowStep{
			agentStepDef("a", "x", "ghost"),
			agentStepDef("orphan", "x", ""),
		},
	}
	result := wv.Validate(def)
	require.False(t, result.Valid())
	for _, w := range result.Warnings {
		assert.NotContains(t, w.Message, "unreachable")
	}
}

func TestWorkflowValidator_WarningsDoNotFail(t *testing.T) {
	wv, err := NewWorkflowValidator(nil)
	require.NoError(t, err)

	def := &schema.WorkflowDefinition{
		ID: "wf",
		Steps: []schema.WorkflowStep{
			agentStepDef("a", "x", ""),
			agentStepDef("orphan", "x", ""),
		},
	}
	result := wv.Validate(def)
	assert.True(t, result.Valid())
	assert.NotEmpty(t, result.Warnings)
	assert.NoError(t, result.ToError())
}

func TestWorkflowValidator_AgentLookupEnforced(t *testing.T) {
	wv, err := NewWorkflowValidator(newMockLookup("planner"))
	require.NoError(t, err)

	def := &schema.WorkflowDefinition{
		ID:    "wf",
		Steps: []schema.WorkflowStep{agentStepDef("a", "stranger", "")},
	}
	result := wv.Validate(def)
	require.False(t, result.Valid())
	assert.Equal(t, schema.ErrCodeAgentUnavailable, result.Errors[0].Code)
}

func TestValidateDefinition_PackageDefault(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		def := &schema.WorkflowDefinition{
			ID:    "wf",
			Steps: []schema.WorkflowStep{agentStepDef("a", "x", "")},
		}
		result := ValidateDefinition(def)
		assert.True(t, result.Valid())
	})

	t.Run("invalid becomes BatonError", func(t *testing.T) {
		def := &schema.WorkflowDefinition{
			ID:    "wf",
			Steps: []schema.WorkflowStep{agentStepDef("a", "x", "ghost")},
		}
		result := ValidateDefinition(def)
		require.False(t, result.Valid())

		err := result.ToError()
		require.Error(t, err)
		assert.Equal(t, schema.ErrCodeValidation, schema.ErrorCode(err))
	})
}
