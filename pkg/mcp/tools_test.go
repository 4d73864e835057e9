package mcp

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/batonflow/baton/internal/agents"
	"github.com/batonflow/baton/internal/journal"
	"github.com/batonflow/baton/pkg/engine"
	"github.com/batonflow/baton/pkg/schema"
)

// --- Mock runner ---

type mockRunner struct {
	result *engine.ExecutionResult
	err    error

	gotDef   *schema.WorkflowDefinition
	gotInput any
}

func (m *mockRunner) Execute(_ context.Context, def *schema.WorkflowDefinition, input any) (*engine.ExecutionResult, error) {
	m.gotDef = def
	m.gotInput = input
	return m.result, m.err
}

func completedResult(workflowID string) *engine.ExecutionResult {
	ec := engine.NewExecutionContext(workflowID, map[string]any{"env": "prod"})
	ec = ec.AddResult(&engine.StepResult{
		StepID:  "fetch",
		Success: true,
		Data:    map[string]any{"rows": 3},
	})
	now := time.Now().UTC()
	return &engine.ExecutionResult{
		RunID:       "run-123",
		WorkflowID:  workflowID,
		Success:     true,
		Status:      engine.RunStatusSucceeded,
		Context:     ec,
		StartedAt:   now,
		CompletedAt: now,
	}
}

// --- In-memory journal ---

type memJournal struct {
	runs   map[string]*journal.Run
	events map[string][]*journal.RunEvent
}

func newMemJournal() *memJournal {
	return &memJournal{
		runs:   make(map[string]*journal.Run),
		events: make(map[string][]*journal.RunEvent),
	}
}

func (m *memJournal) StartRun(_ context.Context, run *journal.Run) error {
	m.runs[run.RunID] = run
	return nil
}

func (m *memJournal) FinishRun(_ context.Context, runID string, update journal.RunUpdate) error {
	run, ok := m.runs[runID]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "run %s not found", runID)
	}
	run.Status = update.Status
	run.Error = update.Error
	completed := update.CompletedAt
	run.CompletedAt = &completed
	return nil
}

func (m *memJournal) AppendEvent(_ context.Context, event *journal.RunEvent) error {
	cp := *event
	cp.Sequence = int64(len(m.events[event.RunID]) + 1)
	m.events[event.RunID] = append(m.events[event.RunID], &cp)
	return nil
}

func (m *memJournal) GetRun(_ context.Context, runID string) (*journal.Run, error) {
	if run, ok := m.runs[runID]; ok {
		return run, nil
	}
	return nil, schema.NewErrorf(schema.ErrCodeNotFound, "run %s not found", runID)
}

func (m *memJournal) ListRuns(_ context.Context, filter journal.RunFilter) ([]*journal.Run, error) {
	out := make([]*journal.Run, 0)
	for _, run := range m.runs {
		if filter.WorkflowID != "" && run.WorkflowID != filter.WorkflowID {
			continue
		}
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		out = append(out, run)
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *memJournal) ListEvents(_ context.Context, runID string, since int64) ([]*journal.RunEvent, error) {
	out := make([]*journal.RunEvent, 0)
	for _, e := range m.events[runID] {
		if e.Sequence > since {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memJournal) Migrate(context.Context) error { return nil }

func (m *memJournal) Close() error { return nil }

// --- Helpers ---

func buildRequest(toolName string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	}
}

func extractText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	return mcp.GetTextFromContent(result.Content[0])
}

func unmarshalResult(t *testing.T, result *mcp.CallToolResult, target any) {
	t.Helper()
	text := extractText(t, result)
	require.NoError(t, json.Unmarshal([]byte(text), target))
}

func inlineDefinition() map[string]any {
	return map[string]any{
		"id": "pipeline",
		"steps": []any{
			map[string]any{"id": "fetch", "type": "transform", "transform": "input"},
		},
	}
}

// --- Run tool ---

func TestRunTool_InlineDefinition(t *testing.T) {
	runner := &mockRunner{result: completedResult("pipeline")}
	s := NewBatonServer(BatonServerDeps{Runner: runner})

	req := buildRequest("baton.run", map[string]any{
		"definition": inlineDefinition(),
		"input":      map[string]any{"env": "prod"},
	})

	result, err := s.handleRun(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.False(t, result.IsError)

	require.NotNil(t, runner.gotDef)
	assert.Equal(t, "pipeline", runner.gotDef.ID)
	assert.Equal(t, map[string]any{"env": "prod"}, runner.gotInput)

	var doc map[string]any
	unmarshalResult(t, result, &doc)
	assert.Equal(t, "run-123", doc["run_id"])
	assert.Equal(t, true, doc["success"])
	assert.Equal(t, "succeeded", doc["status"])

	results, ok := doc["results"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, results, "fetch")
}

func TestRunTool_WorkflowFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wf.yaml")
	content := "id: filed\nsteps:\n  - id: only\n    type: transform\n    transform: input\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	runner := &mockRunner{result: completedResult("filed")}
	s := NewBatonServer(BatonServerDeps{Runner: runner})

	req := buildRequest("baton.run", map[string]any{"workflow": path})
	result, err := s.handleRun(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	require.NotNil(t, runner.gotDef)
	assert.Equal(t, "filed", runner.gotDef.ID)
	assert.Nil(t, runner.gotInput)
}

func TestRunTool_MissingSource(t *testing.T) {
	s := NewBatonServer(BatonServerDeps{Runner: &mockRunner{}})

	req := buildRequest("baton.run", map[string]any{})
	result, err := s.handleRun(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestRunTool_BothSources(t *testing.T) {
	s := NewBatonServer(BatonServerDeps{Runner: &mockRunner{}})

	req := buildRequest("baton.run", map[string]any{
		"workflow":   "wf.yaml",
		"definition": inlineDefinition(),
	})
	result, err := s.handleRun(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestRunTool_NoRunner(t *testing.T) {
	s := NewBatonServer(BatonServerDeps{})

	req := buildRequest("baton.run", map[string]any{"definition": inlineDefinition()})
	result, err := s.handleRun(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestRunTool_RunnerRejects(t *testing.T) {
	runner := &mockRunner{err: schema.NewError(schema.ErrCodeValidation, "bad definition")}
	s := NewBatonServer(BatonServerDeps{Runner: runner})

	req := buildRequest("baton.run", map[string]any{"definition": inlineDefinition()})
	result, err := s.handleRun(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), "bad definition")
}

func TestRunTool_FailedRun(t *testing.T) {
	failed := completedResult("pipeline")
	failed.Success = false
	failed.Status = engine.RunStatusFailed
	failed.Error = schema.NewError(schema.ErrCodeExecution, "agent exploded").WithStep("fetch")

	runner := &mockRunner{result: failed}
	s := NewBatonServer(BatonServerDeps{Runner: runner})

	req := buildRequest("baton.run", map[string]any{"definition": inlineDefinition()})
	result, err := s.handleRun(context.Background(), req)
	require.NoError(t, err)
	// A failed run is still a successful tool call; the document carries
	// the failure.
	assert.False(t, result.IsError)

	var doc map[string]any
	unmarshalResult(t, result, &doc)
	assert.Equal(t, false, doc["success"])
	assert.Equal(t, "failed", doc["status"])
	require.Contains(t, doc, "error")
}

// --- Validate tool ---

func TestValidateTool_Valid(t *testing.T) {
	s := NewBatonServer(BatonServerDeps{})

	req := buildRequest("baton.validate", map[string]any{"definition": inlineDefinition()})
	result, err := s.handleValidate(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var doc struct {
		Valid  bool                     `json:"valid"`
		Errors []schema.ValidationIssue `json:"errors"`
	}
	unmarshalResult(t, result, &doc)
	assert.True(t, doc.Valid)
	assert.Empty(t, doc.Errors)
}

func TestValidateTool_DanglingReference(t *testing.T) {
	s := NewBatonServer(BatonServerDeps{})

	req := buildRequest("baton.validate", map[string]any{
		"definition": map[string]any{
			"id": "broken",
			"steps": []any{
				map[string]any{"id": "only", "type": "transform", "transform": "input", "next": "missing"},
			},
		},
	})
	result, err := s.handleValidate(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var doc struct {
		Valid  bool                     `json:"valid"`
		Errors []schema.ValidationIssue `json:"errors"`
	}
	unmarshalResult(t, result, &doc)
	assert.False(t, doc.Valid)
	require.NotEmpty(t, doc.Errors)
	assert.Contains(t, doc.Errors[0].Message, "missing")
}

func TestValidateTool_UnparsableFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wf.yaml")
	require.NoError(t, os.WriteFile(path, []byte("steps: [\n"), 0o644))

	s := NewBatonServer(BatonServerDeps{})

	req := buildRequest("baton.validate", map[string]any{"workflow": path})
	result, err := s.handleValidate(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

// --- Agents tool ---

func TestAgentsTool(t *testing.T) {
	registry := agents.NewRegistry("local")
	require.NoError(t, registry.Register(
		agents.NewFuncAgent("planner", func(context.Context, map[string]any) (any, error) { return nil, nil }).
			WithKind(agents.KindLLM)))
	require.NoError(t, registry.Register(
		agents.NewFuncAgent("backup", func(context.Context, map[string]any) (any, error) { return nil, nil }).
			WithKind(agents.KindSystem)))

	s := NewBatonServer(BatonServerDeps{Agents: agents.NewChainResolver(registry)})

	req := buildRequest("baton.agents", map[string]any{})
	result, err := s.handleAgents(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var doc struct {
		Agents []agents.Info `json:"agents"`
		Count  int           `json:"count"`
	}
	unmarshalResult(t, result, &doc)
	assert.Equal(t, 2, doc.Count)
	require.Len(t, doc.Agents, 2)
	assert.Equal(t, "backup", doc.Agents[0].Name)
	assert.Equal(t, "planner", doc.Agents[1].Name)

	// Kind filter.
	req = buildRequest("baton.agents", map[string]any{"kind": "llm"})
	result, err = s.handleAgents(context.Background(), req)
	require.NoError(t, err)
	unmarshalResult(t, result, &doc)
	assert.Equal(t, 1, doc.Count)
	assert.Equal(t, "planner", doc.Agents[0].Name)
}

func TestAgentsTool_NoResolver(t *testing.T) {
	s := NewBatonServer(BatonServerDeps{})

	req := buildRequest("baton.agents", map[string]any{})
	result, err := s.handleAgents(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

// --- Approve tool ---

func TestApproveTool(t *testing.T) {
	s := NewBatonServer(BatonServerDeps{})

	decided := make(chan bool, 1)
	go func() {
		approved, _ := s.Approvals().ShowApprovalPrompt(context.Background(), engine.ApprovalRequest{
			RunID:      "run-1",
			WorkflowID: "pipeline",
			StepID:     "gate",
			Message:    "ship it?",
		})
		decided <- approved
	}()

	require.Eventually(t, func() bool {
		return len(s.Approvals().Pending()) == 1
	}, time.Second, 10*time.Millisecond)

	req := buildRequest("baton.approve", map[string]any{
		"run_id":   "run-1",
		"decision": "approve",
		"reason":   "reviewed the plan",
	})
	result, err := s.handleApprove(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	select {
	case approved := <-decided:
		assert.True(t, approved)
	case <-time.After(time.Second):
		t.Fatal("approval prompt did not resolve")
	}
	assert.Empty(t, s.Approvals().Pending())
}

func TestApproveTool_UnknownRun(t *testing.T) {
	s := NewBatonServer(BatonServerDeps{})

	req := buildRequest("baton.approve", map[string]any{
		"run_id":   "ghost",
		"decision": "approve",
	})
	result, err := s.handleApprove(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestApproveTool_MissingParams(t *testing.T) {
	s := NewBatonServer(BatonServerDeps{})

	// Missing run_id.
	req := buildRequest("baton.approve", map[string]any{"decision": "approve"})
	result, err := s.handleApprove(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)

	// Missing decision.
	req = buildRequest("baton.approve", map[string]any{"run_id": "run-1"})
	result, err = s.handleApprove(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)

	// Decision outside the enum.
	req = buildRequest("baton.approve", map[string]any{"run_id": "run-1", "decision": "maybe"})
	result, err = s.handleApprove(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

// --- Query tool ---

func seedHistory(t *testing.T) *journal.Query {
	t.Helper()
	mj := newMemJournal()
	ctx := context.Background()

	started := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	require.NoError(t, mj.StartRun(ctx, &journal.Run{
		RunID:      "run-a",
		WorkflowID: "pipeline",
		Status:     "succeeded",
		Input:      json.RawMessage(`{"env":"prod"}`),
		StartedAt:  started,
	}))
	require.NoError(t, mj.StartRun(ctx, &journal.Run{
		RunID:      "run-b",
		WorkflowID: "pipeline",
		Status:     "failed",
		StartedAt:  started.Add(time.Minute),
	}))
	for _, eventType := range []string{"workflow_started", "step_completed", "workflow_completed"} {
		require.NoError(t, mj.AppendEvent(ctx, &journal.RunEvent{
			RunID:     "run-a",
			Type:      eventType,
			Timestamp: started,
		}))
	}
	return journal.NewQuery(mj)
}

func TestQueryTool_SingleRun(t *testing.T) {
	s := NewBatonServer(BatonServerDeps{History: seedHistory(t)})

	req := buildRequest("baton.query", map[string]any{
		"run_id": "run-a",
		"query":  ".run.status",
	})
	result, err := s.handleQuery(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var doc struct {
		Results []any `json:"results"`
	}
	unmarshalResult(t, result, &doc)
	assert.Equal(t, []any{"succeeded"}, doc.Results)
}

func TestQueryTool_RunListing(t *testing.T) {
	s := NewBatonServer(BatonServerDeps{History: seedHistory(t)})

	req := buildRequest("baton.query", map[string]any{
		"query":  ".runs | length",
		"filter": map[string]any{"status": "failed"},
	})
	result, err := s.handleQuery(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var doc struct {
		Results []any `json:"results"`
	}
	unmarshalResult(t, result, &doc)
	require.Len(t, doc.Results, 1)
	assert.EqualValues(t, 1, doc.Results[0])
}

func TestQueryTool_EventStream(t *testing.T) {
	s := NewBatonServer(BatonServerDeps{History: seedHistory(t)})

	req := buildRequest("baton.query", map[string]any{
		"run_id": "run-a",
		"query":  "[.events[].type]",
	})
	result, err := s.handleQuery(context.Background(), req)
	require.NoError(t, err)

	var doc struct {
		Results []any `json:"results"`
	}
	unmarshalResult(t, result, &doc)
	require.Len(t, doc.Results, 1)
	assert.Equal(t, []any{"workflow_started", "step_completed", "workflow_completed"}, doc.Results[0])
}

func TestQueryTool_UnknownRun(t *testing.T) {
	s := NewBatonServer(BatonServerDeps{History: seedHistory(t)})

	req := buildRequest("baton.query", map[string]any{"run_id": "ghost"})
	result, err := s.handleQuery(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestQueryTool_BadExpression(t *testing.T) {
	s := NewBatonServer(BatonServerDeps{History: seedHistory(t)})

	req := buildRequest("baton.query", map[string]any{"query": ".runs | foo("})
	result, err := s.handleQuery(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestQueryTool_NoJournal(t *testing.T) {
	s := NewBatonServer(BatonServerDeps{})

	req := buildRequest("baton.query", map[string]any{})
	result, err := s.handleQuery(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}
