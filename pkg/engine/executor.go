package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/batonflow/baton/internal/expressions"
	"github.com/batonflow/baton/internal/logging"
	"github.com/batonflow/baton/internal/validation"
	"github.com/batonflow/baton/pkg/schema"
)

// DefaultPoolSize is the default concurrency for nested parallel steps.
const DefaultPoolSize = 4

// Config holds executor construction options. The zero value gets usable
// defaults from NewExecutor.
type Config struct {
	// PoolSize caps concurrent nested steps across all parallel groups.
	PoolSize int
	// Retry is the backoff policy applied to agent step retries.
	Retry RetryConfig
	// Guards replaces the default guard set when non-nil.
	Guards []SafetyGuard
	// Sink receives lifecycle events. Optional.
	Sink EventSink
	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Executor drives a workflow definition step by step until a route
// terminates, a guard trips, or a fatal error surfaces. One Executor is
// safe for concurrent runs; all per-run state lives in the
// ExecutionContext.
type Executor struct {
	ui       UIManager
	registry map[schema.StepType]StepExecutor
	guards   []SafetyGuard
	pool     *WorkerPool
	sink     EventSink
	logger   *slog.Logger
}

// NewExecutor wires the step executors for every supported step type.
// ui may be nil when no workflow uses approval steps.
func NewExecutor(agents AgentExecutor, ui UIManager, cfg Config) *Executor {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultPoolSize
	}
	if cfg.Retry == (RetryConfig{}) {
		cfg.Retry = DefaultRetryConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Guards == nil {
		cfg.Guards = DefaultGuards()
	}

	e := &Executor{
		ui:     ui,
		guards: cfg.Guards,
		pool:   NewWorkerPool(cfg.PoolSize),
		sink:   cfg.Sink,
		logger: cfg.Logger,
	}

	pathEngine := expressions.NewPathEngine()
	e.registry = map[schema.StepType]StepExecutor{
		schema.StepTypeAgent: &agentStep{
			agents: agents,
			retry:  cfg.Retry,
			sink:   cfg.Sink,
			logger: cfg.Logger,
		},
		schema.StepTypeTransform: &transformStep{engine: pathEngine},
		schema.StepTypeCondition: &conditionStep{engine: pathEngine},
		schema.StepTypeApproval: &approvalStep{
			ui:     ui,
			engine: pathEngine,
			sink:   cfg.Sink,
		},
		schema.StepTypeParallel: &parallelStep{
			pool:     e.pool,
			dispatch: e.dispatchNested,
		},
	}
	return e
}

// Close shuts down the nested-step worker pool. Call after all runs
// finish.
func (e *Executor) Close() {
	e.pool.Shutdown()
}

// Execute runs def from its first step. The returned error is non-nil only
// for pre-flight problems (nil or invalid definition); once a run starts,
// its outcome is reported through the ExecutionResult.
func (e *Executor) Execute(ctx context.Context, def *schema.WorkflowDefinition, input any) (*ExecutionResult, error) {
	if def == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow definition is nil")
	}
	vres := validation.ValidateDefinition(def)
	if err := vres.ToError(); err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	ctx = logging.WithRunID(ctx, runID)
	ctx = logging.WithWorkflowID(ctx, def.ID)
	logger := logging.LogWith(ctx, e.logger)

	for _, w := range vres.Warnings {
		logger.Warn("validation warning", "path", w.Path, "message", w.Message)
	}

	ec := NewExecutionContext(def.ID, input)
	result := &ExecutionResult{
		RunID:      runID,
		WorkflowID: def.ID,
		Status:     RunStatusRunning,
		StartedAt:  ec.StartTime(),
	}

	logger.Info("workflow started", "steps", len(def.Steps))
	e.publish(ctx, EventWorkflowStarted, "", map[string]any{
		"steps": len(def.Steps),
		"input": ec.Input(),
	})
	e.notify("workflow_start", func() { e.ui.ShowWorkflowStart(def.ID, runID) })

	var finalErr *schema.BatonError
	step := &def.Steps[0]

	for {
		if ctx.Err() != nil {
			finalErr = schema.NewError(schema.ErrCodeCancelled, "workflow cancelled").
				WithStep(step.ID).WithCause(ctx.Err())
			break
		}

		if err := e.checkGuards(ec, def); err != nil {
			finalErr = schema.AsBatonError(err, schema.ErrCodeGuardViolation).WithStep(step.ID)
			e.publish(ctx, EventGuardViolated, step.ID, map[string]any{"error": finalErr.Message})
			break
		}
		ec = ec.IncrementIteration()

		exec, ok := e.registry[step.Type]
		if !ok {
			finalErr = schema.NewErrorf(schema.ErrCodeConfiguration,
				"unknown step type %q", step.Type).WithStep(step.ID)
			break
		}

		stepCtx := logging.WithStepID(ctx, step.ID)
		stepLogger := logging.LogWith(stepCtx, e.logger)
		stepLogger.Info("step started", "type", string(step.Type))
		e.publish(stepCtx, EventStepStarted, step.ID, map[string]any{"type": string(step.Type)})

		stepResult, err := exec.Execute(stepCtx, step, ec)
		if err != nil {
			finalErr = schema.AsBatonError(err, schema.ErrCodeConfiguration).WithStep(step.ID)
			break
		}

		ec = ec.AddResult(stepResult)
		if stepResult.Success {
			stepLogger.Info("step completed", "duration", stepResult.Duration)
			e.publish(stepCtx, EventStepCompleted, step.ID, map[string]any{
				"duration_ms": stepResult.Duration.Milliseconds(),
				"retries":     stepResult.Retries,
			})
		} else {
			ec = ec.IncrementError()
			stepLogger.Warn("step failed", "error", stepResult.Error.Message, "code", stepResult.Error.Code)
			e.publish(stepCtx, EventStepFailed, step.ID, map[string]any{
				"error": stepResult.Error.Message,
				"code":  stepResult.Error.Code,
			})
		}
		e.notify("step_progress", func() { e.ui.ShowStepProgress(step.ID, stepResult) })

		nextID := exec.Route(step, stepResult)
		if nextID == "" {
			if !stepResult.Success {
				finalErr = stepResult.Error
				if finalErr == nil {
					finalErr = schema.NewErrorf(schema.ErrCodeExecution,
						"step %q failed", step.ID).WithStep(step.ID)
				}
			}
			break
		}

		next := def.StepByID(nextID)
		if next == nil {
			finalErr = schema.NewErrorf(schema.ErrCodeConfiguration,
				"step %q routed to unknown step %q", step.ID, nextID).WithStep(step.ID)
			break
		}
		step = next
	}

	completed := time.Now().UTC()
	result.Context = ec
	result.CompletedAt = completed

	if finalErr != nil {
		e.transition(result, RunStatusFailed, logger)
		result.Error = finalErr
		logger.Error("workflow failed",
			"error", finalErr.Message,
			"code", finalErr.Code,
			"iterations", ec.Iterations(),
			"duration", completed.Sub(result.StartedAt))
		e.publish(ctx, EventWorkflowFailed, finalErr.StepID, map[string]any{
			"error": finalErr.Message,
			"code":  finalErr.Code,
		})
		e.notify("workflow_error", func() { e.ui.ShowWorkflowError(def.ID, finalErr) })
		return result, nil
	}

	e.transition(result, RunStatusSucceeded, logger)
	result.Success = true
	logger.Info("workflow completed",
		"iterations", ec.Iterations(),
		"duration", completed.Sub(result.StartedAt))
	e.publish(ctx, EventWorkflowCompleted, "", map[string]any{
		"iterations":  ec.Iterations(),
		"duration_ms": completed.Sub(result.StartedAt).Milliseconds(),
	})
	e.notify("workflow_complete", func() { e.ui.ShowWorkflowComplete(result) })
	return result, nil
}

// dispatchNested executes one member of a parallel group. Validation keeps
// group-level step kinds out of nested lists; this re-checks so a stale
// definition cannot recurse.
func (e *Executor) dispatchNested(ctx context.Context, step *schema.WorkflowStep, ec *ExecutionContext) (*StepResult, error) {
	switch step.Type {
	case schema.StepTypeParallel, schema.StepTypeApproval:
		return nil, schema.NewErrorf(schema.ErrCodeConfiguration,
			"step type %q not allowed inside a parallel group", step.Type).WithStep(step.ID)
	}
	exec, ok := e.registry[step.Type]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeConfiguration,
			"unknown step type %q", step.Type).WithStep(step.ID)
	}
	return exec.Execute(ctx, step, ec)
}

func (e *Executor) checkGuards(ec *ExecutionContext, def *schema.WorkflowDefinition) error {
	for _, g := range e.guards {
		if err := g.Check(ec, def); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) transition(result *ExecutionResult, to RunStatus, logger *slog.Logger) {
	if !CanTransitionRun(result.Status, to) {
		logger.Warn("invalid run transition", "from", string(result.Status), "to", string(to))
		return
	}
	result.Status = to
}

// notify invokes a UI hook with panic recovery. Hooks are best-effort and
// never affect the run outcome.
func (e *Executor) notify(hook string, fn func()) {
	if e.ui == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("ui hook panicked", "hook", hook, "panic", fmt.Sprint(r))
		}
	}()
	fn()
}

// publish sends a lifecycle event to the sink, if any. Panics in sink
// implementations are contained.
func (e *Executor) publish(ctx context.Context, eventType, stepID string, payload map[string]any) {
	if e.sink == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("event sink panicked", "event", eventType, "panic", fmt.Sprint(r))
		}
	}()
	e.sink.Publish(Event{
		Type:       eventType,
		RunID:      logging.RunID(ctx),
		WorkflowID: logging.WorkflowID(ctx),
		StepID:     stepID,
		Payload:    payload,
		Timestamp:  time.Now().UTC(),
	})
}
