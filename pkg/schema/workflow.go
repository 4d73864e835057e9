package schema

import "time"

// Default safety bounds applied when a definition does not override them.
const (
	DefaultMaxIterations = 100
	DefaultMaxErrors     = 10
	DefaultMaxRetries    = 1 // a single attempt, no retry
)

// DefaultMaxDuration bounds total wall-clock time of a run.
const DefaultMaxDuration = 5 * time.Minute

// WorkflowDefinition is the declarative workflow format, loadable from JSON
// or YAML. Steps form a graph addressed by string ids; routing fields on each
// step name the successor. The definition is owned by the caller and read-only
// to the engine once execution starts.
type WorkflowDefinition struct {
	ID          string         `json:"id" yaml:"id"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Steps       []WorkflowStep `json:"steps" yaml:"steps"`

	// Safety overrides. Zero values mean "use the default".
	MaxIterations int    `json:"max_iterations,omitempty" yaml:"max_iterations,omitempty"`
	MaxDuration   string `json:"max_duration,omitempty" yaml:"max_duration,omitempty"`
	MaxErrors     int    `json:"max_errors,omitempty" yaml:"max_errors,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// WorkflowStep describes a single step. It is a tagged union keyed by Type;
// only the fields for the declared type are meaningful, the rest stay empty.
type WorkflowStep struct {
	ID   string   `json:"id" yaml:"id"`
	Type StepType `json:"type" yaml:"type"`

	// Routing. Empty means terminate.
	Next    string `json:"next,omitempty" yaml:"next,omitempty"`
	OnError string `json:"on_error,omitempty" yaml:"on_error,omitempty"`

	// Retry and timing (agent steps).
	MaxRetries int    `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
	RetryDelay string `json:"retry_delay,omitempty" yaml:"retry_delay,omitempty"` // initial backoff delay, e.g. "500ms"
	Timeout    string `json:"timeout,omitempty" yaml:"timeout,omitempty"`         // per-attempt timeout, e.g. "30s"

	// Agent steps.
	Agent string `json:"agent,omitempty" yaml:"agent,omitempty"`
	Input string `json:"input,omitempty" yaml:"input,omitempty"` // optional prior step id whose data becomes the focused payload

	// Transform steps.
	Transform string `json:"transform,omitempty" yaml:"transform,omitempty"`

	// Condition steps.
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`
	Then      string `json:"then,omitempty" yaml:"then,omitempty"`
	Else      string `json:"else,omitempty" yaml:"else,omitempty"`

	// Parallel steps.
	Steps []WorkflowStep `json:"steps,omitempty" yaml:"steps,omitempty"`

	// Approval steps.
	Message         string `json:"message,omitempty" yaml:"message,omitempty"`
	OnApprove       string `json:"on_approve,omitempty" yaml:"on_approve,omitempty"`
	OnReject        string `json:"on_reject,omitempty" yaml:"on_reject,omitempty"`
	ApprovalTimeout string `json:"approval_timeout,omitempty" yaml:"approval_timeout,omitempty"`
}

// StepType enumerates the kinds of steps in a workflow.
type StepType string

const (
	StepTypeAgent     StepType = "agent"
	StepTypeTransform StepType = "transform"
	StepTypeCondition StepType = "condition"
	StepTypeParallel  StepType = "parallel"
	StepTypeApproval  StepType = "approval"
)

// RoutingRef is one outgoing routing edge declared on a step.
type RoutingRef struct {
	Field  string // "next", "on_error", "then", "else", "on_approve", "on_reject"
	Target string // referenced step id, never empty
}

// RoutingRefs returns the non-empty routing references of the step.
// Shared by validation (dangling-reference checks) and diagram rendering.
func (s *WorkflowStep) RoutingRefs() []RoutingRef {
	refs := make([]RoutingRef, 0, 4)
	add := func(field, target string) {
		if target != "" {
			refs = append(refs, RoutingRef{Field: field, Target: target})
		}
	}
	add("next", s.Next)
	add("on_error", s.OnError)
	if s.Type == StepTypeCondition {
		add("then", s.Then)
		add("else", s.Else)
	}
	if s.Type == StepTypeApproval {
		add("on_approve", s.OnApprove)
		add("on_reject", s.OnReject)
	}
	return refs
}

// EffectiveMaxRetries returns the attempt budget for the step (minimum 1).
func (s *WorkflowStep) EffectiveMaxRetries() int {
	if s.MaxRetries < 1 {
		return DefaultMaxRetries
	}
	return s.MaxRetries
}

// RetryDelayOrDefault parses the step's retry_delay, falling back to def.
// Malformed values are rejected by structural validation, so parse failures
// here degrade to the default rather than erroring.
func (s *WorkflowStep) RetryDelayOrDefault(def time.Duration) time.Duration {
	return parseDurationOr(s.RetryDelay, def)
}

// TimeoutOrZero parses the step's per-attempt timeout. Zero means unbounded.
func (s *WorkflowStep) TimeoutOrZero() time.Duration {
	return parseDurationOr(s.Timeout, 0)
}

// ApprovalTimeoutOrZero parses the approval wait bound. Zero means wait forever.
func (s *WorkflowStep) ApprovalTimeoutOrZero() time.Duration {
	return parseDurationOr(s.ApprovalTimeout, 0)
}

// EffectiveMaxIterations returns the iteration bound for the definition.
func (d *WorkflowDefinition) EffectiveMaxIterations() int {
	if d.MaxIterations <= 0 {
		return DefaultMaxIterations
	}
	return d.MaxIterations
}

// EffectiveMaxDuration returns the wall-clock bound for the definition.
func (d *WorkflowDefinition) EffectiveMaxDuration() time.Duration {
	return parseDurationOr(d.MaxDuration, DefaultMaxDuration)
}

// EffectiveMaxErrors returns the failed-step bound for the definition.
func (d *WorkflowDefinition) EffectiveMaxErrors() int {
	if d.MaxErrors <= 0 {
		return DefaultMaxErrors
	}
	return d.MaxErrors
}

// StepByID returns the step with the given id, or nil if absent.
func (d *WorkflowDefinition) StepByID(id string) *WorkflowStep {
	for i := range d.Steps {
		if d.Steps[i].ID == id {
			return &d.Steps[i]
		}
	}
	return nil
}

func parseDurationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	dur, err := time.ParseDuration(s)
	if err != nil || dur <= 0 {
		return def
	}
	return dur
}
