package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/batonflow/baton/internal/journal"
	"github.com/batonflow/baton/internal/validation"
	"github.com/batonflow/baton/pkg/schema"
)

// handleRun executes a workflow from a file path or an inline definition.
func (s *BatonServer) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.runner == nil {
		return mcp.NewToolResultError("no workflow runner configured"), nil
	}

	def, errResult := s.requestDefinition(req)
	if errResult != nil {
		return errResult, nil
	}

	var input any
	if m := mcp.ParseStringMap(req, "input", nil); m != nil {
		input = m
	}

	result, err := s.runner.Execute(ctx, def, input)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("workflow rejected: %v", err)), nil
	}

	doc := map[string]any{
		"run_id":       result.RunID,
		"workflow_id":  result.WorkflowID,
		"success":      result.Success,
		"status":       result.Status,
		"started_at":   result.StartedAt,
		"completed_at": result.CompletedAt,
	}
	if result.Context != nil {
		doc["results"] = result.Context.ResultData()
		doc["iterations"] = result.Context.Iterations()
	}
	if result.Error != nil {
		doc["error"] = result.Error
	}
	return marshalResult(doc)
}

// handleValidate runs the validation pipeline without executing anything.
// Validation findings are a successful tool result; only an unreadable
// request is a tool error.
func (s *BatonServer) handleValidate(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	def, errResult := s.requestDefinition(req)
	if errResult != nil {
		return errResult, nil
	}

	result := s.validate(def)
	return marshalResult(map[string]any{
		"valid":    result.Valid(),
		"errors":   result.Errors,
		"warnings": result.Warnings,
	})
}

// handleAgents lists every resolvable agent, optionally filtered by kind.
func (s *BatonServer) handleAgents(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.agents == nil {
		return mcp.NewToolResultError("no agent resolver configured"), nil
	}

	kind := req.GetString("kind", "")
	infos := s.agents.List()
	if kind != "" {
		filtered := infos[:0]
		for _, info := range infos {
			if info.Kind == kind {
				filtered = append(filtered, info)
			}
		}
		infos = filtered
	}

	return marshalResult(map[string]any{
		"agents": infos,
		"count":  len(infos),
	})
}

// handleApprove resolves a pending approval so the blocked run continues.
func (s *BatonServer) handleApprove(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}
	decision, err := req.RequireString("decision")
	if err != nil {
		return mcp.NewToolResultError("decision is required"), nil
	}
	if decision != "approve" && decision != "reject" {
		return mcp.NewToolResultError("decision must be approve or reject"), nil
	}

	stepID := req.GetString("step_id", "")
	approved := decision == "approve"

	if resolveErr := s.approvals.Resolve(runID, stepID, approved); resolveErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("approve failed: %v", resolveErr)), nil
	}

	if reason := req.GetString("reason", ""); reason != "" {
		s.logger.Info("approval reason",
			"run_id", runID, "step_id", stepID, "approved", approved, "reason", reason)
	}

	return marshalResult(map[string]any{
		"ok":       true,
		"run_id":   runID,
		"approved": approved,
	})
}

// handleQuery reads run history: one run's document or a runs listing,
// filtered through an optional jq expression.
func (s *BatonServer) handleQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.history == nil {
		return mcp.NewToolResultError("no journal configured"), nil
	}

	runID := req.GetString("run_id", "")
	expression := req.GetString("query", "")

	var (
		outputs []any
		err     error
	)
	if runID != "" {
		outputs, err = s.history.EvalRun(ctx, runID, expression)
	} else {
		filter := runFilterFrom(mcp.ParseStringMap(req, "filter", nil))
		outputs, err = s.history.EvalRuns(ctx, filter, expression)
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}

	return marshalResult(map[string]any{"results": outputs})
}

// --- Internal helpers ---

// requestDefinition loads the workflow from the request: either the
// "workflow" file path or the inline "definition" object, exactly one of
// which must be present. The second return value is a ready tool error
// result when loading fails.
func (s *BatonServer) requestDefinition(req mcp.CallToolRequest) (*schema.WorkflowDefinition, *mcp.CallToolResult) {
	path := req.GetString("workflow", "")
	inline := mcp.ParseStringMap(req, "definition", nil)

	switch {
	case path == "" && inline == nil:
		return nil, mcp.NewToolResultError("one of workflow or definition is required")
	case path != "" && inline != nil:
		return nil, mcp.NewToolResultError("workflow and definition are mutually exclusive")
	}

	if path != "" {
		def, err := schema.LoadDefinition(path)
		if err != nil {
			return nil, mcp.NewToolResultError(fmt.Sprintf("load workflow failed: %v", err))
		}
		return def, nil
	}

	raw, err := json.Marshal(inline)
	if err != nil {
		return nil, mcp.NewToolResultError(fmt.Sprintf("invalid definition: %v", err))
	}
	var def schema.WorkflowDefinition
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, mcp.NewToolResultError(fmt.Sprintf("invalid definition: %v", err))
	}
	return &def, nil
}

// validate runs the configured validator, falling back to the shared
// pipeline without agent checks.
func (s *BatonServer) validate(def *schema.WorkflowDefinition) *schema.ValidationResult {
	if s.validator != nil {
		return s.validator.Validate(def)
	}
	return validation.ValidateDefinition(def)
}

// runFilterFrom maps the loosely typed filter object onto a journal filter.
func runFilterFrom(filter map[string]any) journal.RunFilter {
	rf := journal.RunFilter{
		Limit: extractInt(filter, "limit", 50),
	}
	if filter == nil {
		return rf
	}
	if workflowID, ok := filter["workflow_id"].(string); ok {
		rf.WorkflowID = workflowID
	}
	if status, ok := filter["status"].(string); ok {
		rf.Status = status
	}
	if since, ok := filter["since"].(string); ok && since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			rf.Since = &t
		}
	}
	return rf
}

// extractInt safely extracts an integer from a filter map.
func extractInt(filter map[string]any, key string, defaultVal int) int {
	if filter == nil {
		return defaultVal
	}
	v, ok := filter[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	}
	return defaultVal
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
