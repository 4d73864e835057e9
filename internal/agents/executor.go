package agents

import (
	"context"
	"log/slog"
	"time"

	"github.com/batonflow/baton/internal/logging"
	"github.com/batonflow/baton/pkg/engine"
	"github.com/batonflow/baton/pkg/schema"
)

// Executor implements engine.AgentExecutor over a resolver chain with a
// per-agent circuit breaker. The engine owns retries and timeouts; this
// layer owns name resolution and failing fast on repeatedly dead agents.
type Executor struct {
	resolver Resolver
	breakers *BreakerRegistry
	logger   *slog.Logger
}

var _ engine.AgentExecutor = (*Executor)(nil)

// NewExecutor creates an Executor. breakers may be nil to disable circuit
// breaking; logger may be nil.
func NewExecutor(resolver Resolver, breakers *BreakerRegistry, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		resolver: resolver,
		breakers: breakers,
		logger:   logger,
	}
}

// Execute resolves the named agent and invokes it. Unknown names surface as
// AGENT_UNAVAILABLE (a configuration error the engine never retries); an
// open circuit surfaces as CIRCUIT_OPEN.
func (e *Executor) Execute(ctx context.Context, agentName string, input map[string]any) (any, error) {
	agent, err := e.resolver.Resolve(agentName)
	if err != nil {
		return nil, err
	}

	if e.breakers != nil {
		if err := e.breakers.Allow(agentName); err != nil {
			return nil, err
		}
	}

	logger := logging.LogWith(ctx, e.logger)
	started := time.Now()

	out, err := agent.Invoke(ctx, input)
	if err != nil {
		if e.breakers != nil {
			state := e.breakers.RecordFailure(agentName)
			if state == BreakerOpen {
				logger.Warn("agent circuit opened",
					"agent", agentName, "error", err.Error())
			}
		}
		return nil, schema.AsBatonError(err, schema.ErrCodeExecution)
	}

	if e.breakers != nil {
		e.breakers.RecordSuccess(agentName)
	}
	logger.Debug("agent invoked",
		"agent", agentName, "duration", time.Since(started))
	return out, nil
}

// List returns every agent the executor can resolve.
func (e *Executor) List() []Info {
	return e.resolver.List()
}
