package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransitionRun(t *testing.T) {
	tests := []struct {
		name string
		from RunStatus
		to   RunStatus
		want bool
	}{
		{"pending to running", RunStatusPending, RunStatusRunning, true},
		{"pending to failed", RunStatusPending, RunStatusFailed, true},
		{"pending to succeeded", RunStatusPending, RunStatusSucceeded, false},
		{"running to succeeded", RunStatusRunning, RunStatusSucceeded, true},
		{"running to failed", RunStatusRunning, RunStatusFailed, true},
		{"running to pending", RunStatusRunning, RunStatusPending, false},
		{"succeeded is terminal", RunStatusSucceeded, RunStatusRunning, false},
		{"failed is terminal", RunStatusFailed, RunStatusRunning, false},
		{"unknown status", RunStatus("paused"), RunStatusRunning, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransitionRun(tt.from, tt.to))
		})
	}
}

func TestCanTransitionStep(t *testing.T) {
	tests := []struct {
		name string
		from StepStatus
		to   StepStatus
		want bool
	}{
		{"pending to running", StepStatusPending, StepStatusRunning, true},
		{"pending to skipped", StepStatusPending, StepStatusSkipped, true},
		{"running to completed", StepStatusRunning, StepStatusCompleted, true},
		{"running to failed", StepStatusRunning, StepStatusFailed, true},
		{"pending to completed", StepStatusPending, StepStatusCompleted, false},
		{"completed is terminal", StepStatusCompleted, StepStatusRunning, false},
		{"failed is terminal", StepStatusFailed, StepStatusPending, false},
		{"skipped is terminal", StepStatusSkipped, StepStatusRunning, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransitionStep(tt.from, tt.to))
		})
	}
}

func TestTerminalStates(t *testing.T) {
	assert.True(t, IsTerminalRun(RunStatusSucceeded))
	assert.True(t, IsTerminalRun(RunStatusFailed))
	assert.False(t, IsTerminalRun(RunStatusPending))
	assert.False(t, IsTerminalRun(RunStatusRunning))

	assert.True(t, IsTerminalStep(StepStatusCompleted))
	assert.True(t, IsTerminalStep(StepStatusFailed))
	assert.True(t, IsTerminalStep(StepStatusSkipped))
	assert.False(t, IsTerminalStep(StepStatusPending))
	assert.False(t, IsTerminalStep(StepStatusRunning))
}
