package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/batonflow/baton/pkg/engine"
	"github.com/batonflow/baton/pkg/schema"
)

// PendingApproval describes an approval step waiting for a decision.
type PendingApproval struct {
	RunID       string    `json:"run_id"`
	WorkflowID  string    `json:"workflow_id"`
	StepID      string    `json:"step_id"`
	Message     string    `json:"message"`
	RequestedAt time.Time `json:"requested_at"`
}

type pendingEntry struct {
	req         engine.ApprovalRequest
	requestedAt time.Time
	decision    chan bool
}

// Approvals parks approval prompts until an MCP client decides them. It is
// the serve-mode UIManager: ShowApprovalPrompt registers the request,
// notifies connected clients, and blocks; Resolve (reached through
// baton.approve) delivers the decision. A prompt whose context expires
// first is removed and reported back to the engine, which maps a deadline
// to rejection.
type Approvals struct {
	logger *slog.Logger

	// notify pushes an approval_requested notification to clients.
	// Set by NewBatonServer; nil in bare construction and tests.
	notify func(method string, params map[string]any)

	mu      sync.Mutex
	pending map[string]*pendingEntry // runID/stepID
}

var _ engine.UIManager = (*Approvals)(nil)

// NewApprovals creates an empty approval manager.
func NewApprovals(logger *slog.Logger) *Approvals {
	if logger == nil {
		logger = slog.Default()
	}
	return &Approvals{
		logger:  logger.With("component", "approvals"),
		pending: make(map[string]*pendingEntry),
	}
}

// ShowApprovalPrompt registers the request and blocks until Resolve is
// called for it or ctx expires.
func (a *Approvals) ShowApprovalPrompt(ctx context.Context, req engine.ApprovalRequest) (bool, error) {
	key := approvalKey(req.RunID, req.StepID)

	entry := &pendingEntry{
		req:         req,
		requestedAt: time.Now().UTC(),
		decision:    make(chan bool, 1),
	}

	a.mu.Lock()
	if _, exists := a.pending[key]; exists {
		a.mu.Unlock()
		return false, schema.NewErrorf(schema.ErrCodeApproval,
			"approval already pending for %s", key).WithStep(req.StepID)
	}
	a.pending[key] = entry
	a.mu.Unlock()

	a.logger.Info("approval pending",
		"run_id", req.RunID, "step_id", req.StepID, "message", req.Message)
	if a.notify != nil {
		a.notify("notifications/message", map[string]any{
			"type":        "approval_requested",
			"run_id":      req.RunID,
			"workflow_id": req.WorkflowID,
			"step_id":     req.StepID,
			"message":     req.Message,
		})
	}

	select {
	case approved := <-entry.decision:
		return approved, nil
	case <-ctx.Done():
		a.remove(key, entry)
		return false, ctx.Err()
	}
}

// Resolve delivers a decision to a pending approval. An empty stepID is
// accepted when exactly one approval is pending for the run; with several,
// the error lists the candidate step ids.
func (a *Approvals) Resolve(runID, stepID string, approved bool) error {
	a.mu.Lock()

	var key string
	var entry *pendingEntry
	if stepID != "" {
		key = approvalKey(runID, stepID)
		entry = a.pending[key]
	} else {
		var matches []string
		for k, e := range a.pending {
			if e.req.RunID == runID {
				matches = append(matches, k)
				key, entry = k, e
			}
		}
		if len(matches) > 1 {
			a.mu.Unlock()
			sort.Strings(matches)
			return schema.NewErrorf(schema.ErrCodeApproval,
				"run %s has %d approvals pending, specify step_id", runID, len(matches)).
				WithDetails(map[string]any{"pending": matches})
		}
	}

	if entry == nil {
		a.mu.Unlock()
		if stepID != "" {
			return schema.NewErrorf(schema.ErrCodeNotFound,
				"no approval pending for run %s step %s", runID, stepID)
		}
		return schema.NewErrorf(schema.ErrCodeNotFound,
			"no approval pending for run %s", runID)
	}

	delete(a.pending, key)
	a.mu.Unlock()

	entry.decision <- approved
	a.logger.Info("approval decided",
		"run_id", entry.req.RunID, "step_id", entry.req.StepID, "approved", approved)
	return nil
}

// Pending returns a snapshot of waiting approvals, oldest first.
func (a *Approvals) Pending() []PendingApproval {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]PendingApproval, 0, len(a.pending))
	for _, e := range a.pending {
		out = append(out, PendingApproval{
			RunID:       e.req.RunID,
			WorkflowID:  e.req.WorkflowID,
			StepID:      e.req.StepID,
			Message:     e.req.Message,
			RequestedAt: e.requestedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return out
}

// remove deletes the entry only if it still owns the key, so a prompt that
// lost the race with Resolve does not evict a newer registration.
func (a *Approvals) remove(key string, entry *pendingEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pending[key] == entry {
		delete(a.pending, key)
	}
}

// ShowWorkflowStart implements engine.UIManager. Serve mode has no console;
// lifecycle visibility comes from the event notifications.
func (a *Approvals) ShowWorkflowStart(workflowID, runID string) {
	a.logger.Debug("workflow started", "workflow_id", workflowID, "run_id", runID)
}

// ShowWorkflowComplete implements engine.UIManager.
func (a *Approvals) ShowWorkflowComplete(result *engine.ExecutionResult) {
	a.logger.Debug("workflow completed", "run_id", result.RunID)
}

// ShowWorkflowError implements engine.UIManager.
func (a *Approvals) ShowWorkflowError(workflowID string, err error) {
	a.logger.Debug("workflow failed", "workflow_id", workflowID, "error", err)
}

// ShowStepProgress implements engine.UIManager.
func (a *Approvals) ShowStepProgress(stepID string, result *engine.StepResult) {
	a.logger.Debug("step finished", "step_id", stepID, "success", result.Success)
}

func approvalKey(runID, stepID string) string {
	return fmt.Sprintf("%s/%s", runID, stepID)
}
