package e2e

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/batonflow/baton/internal/agents"
	"github.com/batonflow/baton/internal/diagram"
	"github.com/batonflow/baton/internal/scheduler"
	"github.com/batonflow/baton/internal/validation"
	"github.com/batonflow/baton/pkg/schema"
)

const exampleDir = "../../examples/report-generator"

// exampleRegistry registers every agent the example declares, ignoring the
// when rules so validation does not depend on what this host has installed.
func exampleRegistry(t *testing.T) *agents.Registry {
	t.Helper()

	data, err := os.ReadFile(filepath.Join(exampleDir, "agents.yaml"))
	require.NoError(t, err)

	defs, err := agents.ParseDefinitions(data)
	require.NoError(t, err)
	require.NotEmpty(t, defs)

	reg := agents.NewRegistry("local")
	for _, def := range defs {
		require.NoError(t, def.Validate(), "agent %s", def.Name)
		require.NoError(t, reg.Register(agents.NewCommandAgent(def)))
	}
	return reg
}

// The shipped example must parse, pass full validation against its own
// agent set, and carry no warnings.
func TestExampleWorkflowValidates(t *testing.T) {
	def, err := schema.LoadDefinition(filepath.Join(exampleDir, "workflow.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "report-generator", def.ID)

	validator, err := validation.NewWorkflowValidator(exampleRegistry(t))
	require.NoError(t, err)

	result := validator.Validate(def)
	assert.True(t, result.Valid(), "errors: %v", result.Errors)
	assert.Empty(t, result.Warnings, "warnings: %v", result.Warnings)
}

// The example renders to a Mermaid diagram with every top-level step and
// the approval branches present.
func TestExampleWorkflowRenders(t *testing.T) {
	def, err := schema.LoadDefinition(filepath.Join(exampleDir, "workflow.yaml"))
	require.NoError(t, err)

	out := diagram.RenderMermaid(diagram.Build(def))
	assert.True(t, strings.HasPrefix(out, "graph TD"))
	for _, id := range []string{"collect", "merge", "review", "publish", "discard"} {
		assert.Contains(t, out, id)
	}
	assert.Contains(t, out, "|approve|")
	assert.Contains(t, out, "|reject|")
}

// The example schedules parse, resolve their workflow paths against the
// example directory, and point at files that exist.
func TestExampleSchedulesLoad(t *testing.T) {
	schedules, err := scheduler.LoadSchedules(filepath.Join(exampleDir, "schedules.yaml"))
	require.NoError(t, err)
	require.Len(t, schedules, 2)

	assert.Equal(t, "nightly-report", schedules[0].Name)
	assert.Equal(t, "daily", schedules[0].Input["period"])
	assert.Equal(t, "weekly-report", schedules[1].Name)
	assert.Equal(t, "weekly", schedules[1].Input["period"])

	for _, s := range schedules {
		_, err := os.Stat(s.Workflow)
		assert.NoError(t, err, "schedule %s workflow path", s.Name)
	}
}

// The sample input carries the field the approval message interpolates.
func TestExampleInputMatchesWorkflow(t *testing.T) {
	def, err := schema.LoadDefinition(filepath.Join(exampleDir, "workflow.yaml"))
	require.NoError(t, err)

	review := def.StepByID("review")
	require.NotNil(t, review)
	assert.Contains(t, review.Message, "${{input.period}}")

	data, err := os.ReadFile(filepath.Join(exampleDir, "input.json"))
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "daily", doc["period"])
}
