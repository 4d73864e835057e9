package engine

// RunStatus is the lifecycle state of a workflow run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// StepStatus is the lifecycle state of a single step within a run.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
)

// validRunTransitions defines the allowed run state changes.
var validRunTransitions = map[RunStatus][]RunStatus{
	RunStatusPending:   {RunStatusRunning, RunStatusFailed},
	RunStatusRunning:   {RunStatusSucceeded, RunStatusFailed},
	RunStatusSucceeded: {},
	RunStatusFailed:    {},
}

// validStepTransitions defines the allowed step state changes.
var validStepTransitions = map[StepStatus][]StepStatus{
	StepStatusPending:   {StepStatusRunning, StepStatusSkipped},
	StepStatusRunning:   {StepStatusCompleted, StepStatusFailed},
	StepStatusCompleted: {},
	StepStatusFailed:    {},
	StepStatusSkipped:   {},
}

// CanTransitionRun reports whether a run may move from one status to another.
func CanTransitionRun(from, to RunStatus) bool {
	for _, allowed := range validRunTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// CanTransitionStep reports whether a step may move from one status to another.
func CanTransitionStep(from, to StepStatus) bool {
	for _, allowed := range validStepTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsTerminalRun reports whether a run status is final.
func IsTerminalRun(s RunStatus) bool {
	return s == RunStatusSucceeded || s == RunStatusFailed
}

// IsTerminalStep reports whether a step status is final.
func IsTerminalStep(s StepStatus) bool {
	return s == StepStatusCompleted || s == StepStatusFailed || s == StepStatusSkipped
}
