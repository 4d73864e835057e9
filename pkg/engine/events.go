package engine

import "time"

// Event type constants published on the run event stream.
const (
	EventWorkflowStarted   = "workflow_started"
	EventWorkflowCompleted = "workflow_completed"
	EventWorkflowFailed    = "workflow_failed"

	EventStepStarted   = "step_started"
	EventStepCompleted = "step_completed"
	EventStepFailed    = "step_failed"
	EventStepRetrying  = "step_retrying"

	EventApprovalRequested = "approval_requested"
	EventApprovalDecided   = "approval_decided"

	EventGuardViolated = "guard_violated"
)

// Event is a single engine occurrence. Events are observational: the engine
// publishes them best-effort and never reads them back.
type Event struct {
	Type       string         `json:"type"`
	RunID      string         `json:"run_id"`
	WorkflowID string         `json:"workflow_id"`
	StepID     string         `json:"step_id,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// EventSink receives engine events. Publish must not block; slow consumers
// drop rather than stall the run.
type EventSink interface {
	Publish(event Event)
}
