package agents

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/batonflow/baton/pkg/schema"
)

func TestBreaker_StartsClosed(t *testing.T) {
	reg := NewBreakerRegistry(DefaultBreakerConfig())

	assert.NoError(t, reg.Allow("planner"))
	assert.Equal(t, BreakerClosed, reg.State("planner"))
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	cfg := BreakerConfig{FailureThreshold: 3, Cooldown: 10 * time.Second, HalfOpenMax: 1}
	reg := NewBreakerRegistry(cfg)

	reg.RecordFailure("flaky")
	reg.RecordFailure("flaky")
	assert.Equal(t, BreakerClosed, reg.State("flaky"))

	state := reg.RecordFailure("flaky")
	assert.Equal(t, BreakerOpen, state)

	err := reg.Allow("flaky")
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeCircuitOpen, schema.ErrorCode(err))

	var berr *schema.BatonError
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, "flaky", berr.Details["agent"])
}

func TestBreaker_SuccessResets(t *testing.T) {
	cfg := BreakerConfig{FailureThreshold: 3, Cooldown: 10 * time.Second, HalfOpenMax: 1}
	reg := NewBreakerRegistry(cfg)

	reg.RecordFailure("agent")
	reg.RecordFailure("agent")
	reg.RecordSuccess("agent")

	// Two more failures stay under the threshold after the reset.
	reg.RecordFailure("agent")
	reg.RecordFailure("agent")
	assert.Equal(t, BreakerClosed, reg.State("agent"))
}

func TestBreaker_HalfOpenAfterCooldown(t *testing.T) {
	cfg := BreakerConfig{FailureThreshold: 1, Cooldown: 10 * time.Millisecond, HalfOpenMax: 1}
	reg := NewBreakerRegistry(cfg)

	reg.RecordFailure("agent")
	require.Error(t, reg.Allow("agent"))

	time.Sleep(20 * time.Millisecond)

	// First request after cooldown is the half-open test.
	assert.NoError(t, reg.Allow("agent"))
	// Second concurrent test exceeds HalfOpenMax.
	err := reg.Allow("agent")
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeCircuitOpen, schema.ErrorCode(err))
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	cfg := BreakerConfig{FailureThreshold: 1, Cooldown: 10 * time.Millisecond, HalfOpenMax: 1}
	reg := NewBreakerRegistry(cfg)

	reg.RecordFailure("agent")
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, reg.Allow("agent"))

	state := reg.RecordFailure("agent")
	assert.Equal(t, BreakerOpen, state)
}

func TestBreaker_HalfOpenSuccessCloses(t *testing.T) {
	cfg := BreakerConfig{FailureThreshold: 1, Cooldown: 10 * time.Millisecond, HalfOpenMax: 1}
	reg := NewBreakerRegistry(cfg)

	reg.RecordFailure("agent")
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, reg.Allow("agent"))

	reg.RecordSuccess("agent")
	assert.Equal(t, BreakerClosed, reg.State("agent"))
	assert.NoError(t, reg.Allow("agent"))
}

func TestBreaker_IndependentPerAgent(t *testing.T) {
	cfg := BreakerConfig{FailureThreshold: 1, Cooldown: time.Minute, HalfOpenMax: 1}
	reg := NewBreakerRegistry(cfg)

	reg.RecordFailure("broken")
	require.Error(t, reg.Allow("broken"))
	assert.NoError(t, reg.Allow("healthy"))
}

func TestBreaker_Stats(t *testing.T) {
	reg := NewBreakerRegistry(DefaultBreakerConfig())
	reg.RecordFailure("agent")

	stats := reg.Stats("agent")
	assert.Equal(t, "agent", stats["agent"])
	assert.Equal(t, "closed", stats["state"])
	assert.Equal(t, 1, stats["consecutive_failures"])
}
