package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/batonflow/baton/pkg/schema"
)

// SafetyGuard inspects the run before each step executes. A non-nil error
// is a guard violation and halts the run.
type SafetyGuard interface {
	Name() string
	Check(ec *ExecutionContext, def *schema.WorkflowDefinition) error
}

func guardViolation(guard string, format string, args ...any) error {
	return schema.NewErrorf(schema.ErrCodeGuardViolation,
		"%s: %s", guard, fmt.Sprintf(format, args...)).
		WithDetails(map[string]any{"guard": guard})
}

// IterationGuard bounds the total number of step executions. Checked before
// each dispatch, so a limit of N allows exactly N steps to run.
type IterationGuard struct{}

func (IterationGuard) Name() string { return "iteration_limit" }

func (IterationGuard) Check(ec *ExecutionContext, def *schema.WorkflowDefinition) error {
	limit := def.EffectiveMaxIterations()
	if ec.Iterations() >= limit {
		return guardViolation("iteration_limit",
			"workflow reached the limit of %d iterations", limit)
	}
	return nil
}

// DurationGuard bounds wall-clock run time.
type DurationGuard struct {
	// Now is overridable for tests. Defaults to time.Now.
	Now func() time.Time
}

func (g DurationGuard) Name() string { return "duration_limit" }

func (g DurationGuard) Check(ec *ExecutionContext, def *schema.WorkflowDefinition) error {
	now := time.Now
	if g.Now != nil {
		now = g.Now
	}
	limit := def.EffectiveMaxDuration()
	elapsed := now().Sub(ec.StartTime())
	if elapsed >= limit {
		return guardViolation("duration_limit",
			"workflow ran for %s, limit is %s", elapsed.Round(time.Millisecond), limit)
	}
	return nil
}

// ErrorGuard bounds the number of failed steps tolerated in one run.
type ErrorGuard struct{}

func (ErrorGuard) Name() string { return "error_limit" }

func (ErrorGuard) Check(ec *ExecutionContext, def *schema.WorkflowDefinition) error {
	limit := def.EffectiveMaxErrors()
	if ec.ErrorCount() >= limit {
		return guardViolation("error_limit",
			"workflow accumulated %d failed steps, limit is %d", ec.ErrorCount(), limit)
	}
	return nil
}

// CycleGuard flags tight routing loops. It counts repeats of each step id
// inside a sliding window of recently visited steps, so long-running
// iterative workflows stay below it while a.Next=b, b.Next=a ping-pong
// trips it quickly.
type CycleGuard struct {
	// MaxRepeats is how many times one step may appear inside the window.
	MaxRepeats int
	// Window is how many recent visits are inspected.
	Window int
}

func (g CycleGuard) Name() string { return "cycle_detection" }

func (g CycleGuard) Check(ec *ExecutionContext, def *schema.WorkflowDefinition) error {
	maxRepeats := g.MaxRepeats
	if maxRepeats <= 0 {
		maxRepeats = 3
	}
	window := g.Window
	if window <= 0 {
		window = 20
	}

	visited := ec.VisitedSteps()
	if len(visited) > window {
		visited = visited[len(visited)-window:]
	}

	counts := make(map[string]int, len(visited))
	for _, id := range visited {
		counts[id]++
		if counts[id] > maxRepeats {
			return guardViolation("cycle_detection",
				"step %q executed %d times in the last %d steps (%s)",
				id, counts[id], len(visited), strings.Join(visited, " -> "))
		}
	}
	return nil
}

// DefaultGuards returns the standard guard set applied to every run.
func DefaultGuards() []SafetyGuard {
	return []SafetyGuard{
		IterationGuard{},
		DurationGuard{},
		ErrorGuard{},
		CycleGuard{MaxRepeats: 3, Window: 20},
	}
}
