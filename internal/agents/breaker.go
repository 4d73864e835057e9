package agents

import (
	"sync"
	"time"

	"github.com/batonflow/baton/pkg/schema"
)

// BreakerState represents the state of one agent's circuit breaker.
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // normal operation
	BreakerOpen                         // failing, rejecting invocations
	BreakerHalfOpen                     // testing recovery
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures circuit breaker behavior.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before the
	// circuit opens.
	FailureThreshold int
	// Cooldown is how long the circuit stays open before a test invocation
	// is allowed through.
	Cooldown time.Duration
	// HalfOpenMax is the number of test invocations allowed in half-open state.
	HalfOpenMax int
}

// DefaultBreakerConfig returns the default breaker configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		HalfOpenMax:      1,
	}
}

// breaker tracks failure state for a single agent.
type breaker struct {
	mu                  sync.Mutex
	state               BreakerState
	consecutiveFailures int
	lastFailureTime     time.Time
	halfOpenAttempts    int
	config              BreakerConfig
}

// BreakerRegistry manages per-agent circuit breakers. A repeatedly failing
// agent trips its breaker and subsequent invocations fail fast with
// CIRCUIT_OPEN instead of spending retries against a dead backend.
type BreakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*breaker
	config   BreakerConfig
}

// NewBreakerRegistry creates a registry with the given config.
func NewBreakerRegistry(config BreakerConfig) *BreakerRegistry {
	return &BreakerRegistry{
		breakers: make(map[string]*breaker),
		config:   config,
	}
}

// Allow checks whether an invocation of the agent may proceed. Returns nil
// if allowed, or a CIRCUIT_OPEN error while the circuit is open.
func (r *BreakerRegistry) Allow(agentName string) error {
	cb := r.getOrCreate(agentName)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		return nil

	case BreakerOpen:
		if time.Since(cb.lastFailureTime) >= cb.config.Cooldown {
			cb.state = BreakerHalfOpen
			cb.halfOpenAttempts = 1 // this invocation is the first test
			return nil
		}
		return schema.NewErrorf(schema.ErrCodeCircuitOpen,
			"circuit breaker open for agent %q: %d consecutive failures",
			agentName, cb.consecutiveFailures).
			WithDetails(map[string]any{
				"agent":                agentName,
				"consecutive_failures": cb.consecutiveFailures,
				"state":                cb.state.String(),
				"cooldown_remaining":   (cb.config.Cooldown - time.Since(cb.lastFailureTime)).String(),
			})

	case BreakerHalfOpen:
		if cb.halfOpenAttempts >= cb.config.HalfOpenMax {
			return schema.NewErrorf(schema.ErrCodeCircuitOpen,
				"circuit breaker half-open for agent %q: max test invocations reached", agentName)
		}
		cb.halfOpenAttempts++
		return nil
	}

	return nil
}

// RecordSuccess resets the agent's breaker to closed.
func (r *BreakerRegistry) RecordSuccess(agentName string) {
	cb := r.getOrCreate(agentName)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures = 0
	cb.halfOpenAttempts = 0
	cb.state = BreakerClosed
}

// RecordFailure records a failed invocation and returns the new state.
func (r *BreakerRegistry) RecordFailure(agentName string) BreakerState {
	cb := r.getOrCreate(agentName)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures++
	cb.lastFailureTime = time.Now()

	if cb.state == BreakerHalfOpen {
		// Any failure in half-open reopens the circuit.
		cb.state = BreakerOpen
		return BreakerOpen
	}

	if cb.consecutiveFailures >= cb.config.FailureThreshold {
		cb.state = BreakerOpen
		return BreakerOpen
	}

	return cb.state
}

// State returns the agent's current breaker state, applying the automatic
// open to half-open transition when the cooldown has elapsed.
func (r *BreakerRegistry) State(agentName string) BreakerState {
	cb := r.getOrCreate(agentName)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == BreakerOpen && time.Since(cb.lastFailureTime) >= cb.config.Cooldown {
		cb.state = BreakerHalfOpen
		cb.halfOpenAttempts = 0
	}

	return cb.state
}

// Stats returns diagnostic information about an agent's breaker.
func (r *BreakerRegistry) Stats(agentName string) map[string]any {
	cb := r.getOrCreate(agentName)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return map[string]any{
		"agent":                agentName,
		"state":                cb.state.String(),
		"consecutive_failures": cb.consecutiveFailures,
		"failure_threshold":    cb.config.FailureThreshold,
		"cooldown":             cb.config.Cooldown.String(),
	}
}

func (r *BreakerRegistry) getOrCreate(agentName string) *breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.breakers[agentName]
	if !ok {
		cb = &breaker{
			state:  BreakerClosed,
			config: r.config,
		}
		r.breakers[agentName] = cb
	}
	return cb
}
