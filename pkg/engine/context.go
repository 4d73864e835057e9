package engine

import (
	"time"

	"github.com/batonflow/baton/internal/expressions"
)

// ExecutionContext is the immutable record of a workflow run: the original
// input, every completed step result, and the run's progress counters.
// Mutator operations return a new context and leave the receiver unchanged,
// so parallel branches can read a snapshot concurrently without locks and
// the full execution trace stays replayable.
//
// New contexts share the previous results map and visited list whenever the
// operation does not touch them; AddResult copies the map, the counters
// copy only the struct. StepResult pointers are shared across versions and
// are immutable after creation.
type ExecutionContext struct {
	workflowID  string
	startTime   time.Time
	input       any
	results     map[string]*StepResult
	currentStep string
	visited     []string
	iterations  int
	errorCount  int
}

// NewExecutionContext creates the initial context for a run. The input is
// deep-copied once so later caller-side mutations cannot leak into the run.
func NewExecutionContext(workflowID string, input any) *ExecutionContext {
	return &ExecutionContext{
		workflowID: workflowID,
		startTime:  time.Now().UTC(),
		input:      expressions.CopyValue(input),
		results:    map[string]*StepResult{},
	}
}

// AddResult returns a new context with the result recorded: the results map
// gains the entry, the step id is appended to the visited list, and the
// current step is updated.
func (c *ExecutionContext) AddResult(result *StepResult) *ExecutionContext {
	cp := *c

	results := make(map[string]*StepResult, len(c.results)+1)
	for id, r := range c.results {
		results[id] = r
	}
	results[result.StepID] = result
	cp.results = results

	visited := make([]string, len(c.visited), len(c.visited)+1)
	copy(visited, c.visited)
	cp.visited = append(visited, result.StepID)

	cp.currentStep = result.StepID
	return &cp
}

// IncrementIteration returns a new context with the iteration counter
// advanced by one.
func (c *ExecutionContext) IncrementIteration() *ExecutionContext {
	cp := *c
	cp.iterations++
	return &cp
}

// IncrementError returns a new context with the error counter advanced by one.
func (c *ExecutionContext) IncrementError() *ExecutionContext {
	cp := *c
	cp.errorCount++
	return &cp
}

// WorkflowID returns the id of the workflow this run executes.
func (c *ExecutionContext) WorkflowID() string { return c.workflowID }

// StartTime returns when the run began.
func (c *ExecutionContext) StartTime() time.Time { return c.startTime }

// Input returns the original workflow input. Callers must not mutate it.
func (c *ExecutionContext) Input() any { return c.input }

// Result looks up a step result by id.
func (c *ExecutionContext) Result(stepID string) (*StepResult, bool) {
	r, ok := c.results[stepID]
	return r, ok
}

// Results returns a copy of the results map. The StepResult pointers are
// shared; results are immutable after creation.
func (c *ExecutionContext) Results() map[string]*StepResult {
	out := make(map[string]*StepResult, len(c.results))
	for id, r := range c.results {
		out[id] = r
	}
	return out
}

// ResultData returns step id -> result data for every known result,
// successful or not. This is the expression scope and agent payload view.
func (c *ExecutionContext) ResultData() map[string]any {
	out := make(map[string]any, len(c.results))
	for id, r := range c.results {
		out[id] = r.Data
	}
	return out
}

// CurrentStep returns the id of the most recently completed step.
func (c *ExecutionContext) CurrentStep() string { return c.currentStep }

// VisitedSteps returns a copy of the ordered list of executed step ids.
// A step retried in place appears once; a step revisited by routing appears
// once per visit.
func (c *ExecutionContext) VisitedSteps() []string {
	out := make([]string, len(c.visited))
	copy(out, c.visited)
	return out
}

// Iterations returns how many steps have been dispatched this run.
func (c *ExecutionContext) Iterations() int { return c.iterations }

// ErrorCount returns how many steps have failed this run.
func (c *ExecutionContext) ErrorCount() int { return c.errorCount }
