package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/batonflow/baton/internal/expressions"
	"github.com/batonflow/baton/internal/logging"
	"github.com/batonflow/baton/pkg/schema"
)

// AgentExecutor performs the actual work of an agent invocation. The engine
// only sequences agents; how a named agent does its work (an LLM session, a
// subprocess, an HTTP call) is the host's concern behind this interface.
//
// Execute returns the agent's output value, or an error when the invocation
// failed. Implementations should honor ctx cancellation and deadlines.
type AgentExecutor interface {
	Execute(ctx context.Context, agentName string, input map[string]any) (any, error)
}

// agentStep executes agent steps: build the payload, invoke the agent with
// retry and backoff, wrap the outcome.
type agentStep struct {
	agents AgentExecutor
	retry  RetryConfig
	sink   EventSink
	logger *slog.Logger
}

func (s *agentStep) Execute(ctx context.Context, step *schema.WorkflowStep, ec *ExecutionContext) (*StepResult, error) {
	if step.Agent == "" {
		return nil, schema.NewErrorf(schema.ErrCodeConfiguration,
			"agent step %q has no agent name", step.ID).WithStep(step.ID)
	}
	if s.agents == nil {
		return nil, schema.NewError(schema.ErrCodeConfiguration,
			"no agent executor configured").WithStep(step.ID)
	}

	ctx = logging.WithAgent(ctx, step.Agent)
	payload := s.buildPayload(step, ec)

	started := time.Now().UTC()
	maxAttempts := step.EffectiveMaxRetries()
	timeout := step.TimeoutOrZero()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			s.publishRetry(ctx, ec, step, attempt, maxAttempts)
		}

		out, err := s.invoke(ctx, step.Agent, payload, timeout)
		if err == nil {
			return successResult(step.ID, started, out, attempt), nil
		}
		lastErr = err

		if !IsRetryableError(err) {
			s.logger.WarnContext(ctx, "agent attempt failed, not retryable",
				"step_id", step.ID, "attempt", attempt, "error", err)
			return failureResult(step.ID, started, err, attempt), nil
		}
		if attempt == maxAttempts {
			break
		}

		delay := ComputeBackoff(s.retry, step.RetryDelayOrDefault(s.retry.InitialDelay), attempt)
		s.logger.DebugContext(ctx, "agent attempt failed, backing off",
			"step_id", step.ID, "attempt", attempt, "delay", delay, "error", err)
		if waitErr := WaitForBackoff(ctx, delay); waitErr != nil {
			lastErr = schema.NewError(schema.ErrCodeCancelled,
				"run cancelled during retry backoff").WithStep(step.ID).WithCause(waitErr)
			return failureResult(step.ID, started, lastErr, attempt), nil
		}
	}

	err := schema.NewErrorf(schema.ErrCodeRetryExhausted,
		"agent %q failed after %d attempts: %s", step.Agent, maxAttempts, lastErr.Error()).
		WithStep(step.ID).
		WithCause(lastErr).
		WithDetails(map[string]any{"agent": step.Agent, "attempts": maxAttempts})
	return failureResult(step.ID, started, err, maxAttempts), nil
}

func (s *agentStep) Route(step *schema.WorkflowStep, result *StepResult) string {
	return defaultRoute(step, result)
}

// buildPayload assembles the agent input: the original workflow input, the
// full map of prior result data, and, when the step declares an input
// reference that resolves, that value under "ref". An unresolvable
// reference falls back to the context map alone.
func (s *agentStep) buildPayload(step *schema.WorkflowStep, ec *ExecutionContext) map[string]any {
	resultData := ec.ResultData()
	payload := map[string]any{
		"input":   ec.Input(),
		"context": resultData,
	}

	if step.Input != "" {
		scope := expressions.BuildScope(ec.Input(), resultData)
		if val, err := expressions.ResolvePath(step.Input, scope); err == nil {
			payload["ref"] = val
		} else {
			s.logger.Debug("step input reference did not resolve, passing full context",
				"step_id", step.ID, "ref", step.Input, "error", err)
		}
	}

	return payload
}

// invoke runs a single attempt under the step's timeout, if any.
func (s *agentStep) invoke(ctx context.Context, agent string, payload map[string]any, timeout time.Duration) (any, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return s.agents.Execute(ctx, agent, payload)
}

func (s *agentStep) publishRetry(ctx context.Context, ec *ExecutionContext, step *schema.WorkflowStep, attempt, maxAttempts int) {
	if s.sink == nil {
		return
	}
	s.sink.Publish(Event{
		Type:       EventStepRetrying,
		RunID:      logging.RunID(ctx),
		WorkflowID: ec.WorkflowID(),
		StepID:     step.ID,
		Payload:    map[string]any{"attempt": attempt, "max_attempts": maxAttempts},
		Timestamp:  time.Now().UTC(),
	})
}
