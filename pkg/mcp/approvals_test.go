package mcp

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/batonflow/baton/pkg/engine"
	"github.com/batonflow/baton/pkg/schema"
)

type promptOutcome struct {
	approved bool
	err      error
}

// startPrompt runs ShowApprovalPrompt in the background and waits until it
// is registered as pending.
func startPrompt(t *testing.T, ctx context.Context, a *Approvals, req engine.ApprovalRequest) <-chan promptOutcome {
	t.Helper()
	before := len(a.Pending())

	out := make(chan promptOutcome, 1)
	go func() {
		approved, err := a.ShowApprovalPrompt(ctx, req)
		out <- promptOutcome{approved: approved, err: err}
	}()

	require.Eventually(t, func() bool {
		return len(a.Pending()) == before+1
	}, time.Second, 5*time.Millisecond)
	return out
}

func waitOutcome(t *testing.T, out <-chan promptOutcome) promptOutcome {
	t.Helper()
	select {
	case o := <-out:
		return o
	case <-time.After(time.Second):
		t.Fatal("approval prompt did not resolve")
		return promptOutcome{}
	}
}

func TestApprovals_ResolveApprove(t *testing.T) {
	a := NewApprovals(nil)

	out := startPrompt(t, context.Background(), a, engine.ApprovalRequest{
		RunID: "run-1", StepID: "gate", Message: "deploy?",
	})

	require.NoError(t, a.Resolve("run-1", "gate", true))

	o := waitOutcome(t, out)
	require.NoError(t, o.err)
	assert.True(t, o.approved)
	assert.Empty(t, a.Pending())
}

func TestApprovals_ResolveReject(t *testing.T) {
	a := NewApprovals(nil)

	out := startPrompt(t, context.Background(), a, engine.ApprovalRequest{
		RunID: "run-1", StepID: "gate",
	})

	require.NoError(t, a.Resolve("run-1", "gate", false))

	o := waitOutcome(t, out)
	require.NoError(t, o.err)
	assert.False(t, o.approved)
}

func TestApprovals_ResolveWithoutStepID(t *testing.T) {
	a := NewApprovals(nil)

	out := startPrompt(t, context.Background(), a, engine.ApprovalRequest{
		RunID: "run-1", StepID: "gate",
	})

	// A single pending approval for the run needs no step id.
	require.NoError(t, a.Resolve("run-1", "", true))
	assert.True(t, waitOutcome(t, out).approved)
}

func TestApprovals_AmbiguousWithoutStepID(t *testing.T) {
	a := NewApprovals(nil)

	outGate := startPrompt(t, context.Background(), a, engine.ApprovalRequest{
		RunID: "run-1", StepID: "gate",
	})
	outShip := startPrompt(t, context.Background(), a, engine.ApprovalRequest{
		RunID: "run-1", StepID: "ship",
	})

	err := a.Resolve("run-1", "", true)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeApproval, schema.ErrorCode(err))
	assert.Len(t, a.Pending(), 2)

	// Explicit step ids still work.
	require.NoError(t, a.Resolve("run-1", "gate", true))
	require.NoError(t, a.Resolve("run-1", "ship", false))
	assert.True(t, waitOutcome(t, outGate).approved)
	assert.False(t, waitOutcome(t, outShip).approved)
}

func TestApprovals_ResolveUnknown(t *testing.T) {
	a := NewApprovals(nil)

	err := a.Resolve("ghost", "", true)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeNotFound, schema.ErrorCode(err))

	err = a.Resolve("ghost", "gate", true)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeNotFound, schema.ErrorCode(err))
}

func TestApprovals_DoubleResolve(t *testing.T) {
	a := NewApprovals(nil)

	out := startPrompt(t, context.Background(), a, engine.ApprovalRequest{
		RunID: "run-1", StepID: "gate",
	})

	require.NoError(t, a.Resolve("run-1", "gate", true))
	waitOutcome(t, out)

	err := a.Resolve("run-1", "gate", true)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeNotFound, schema.ErrorCode(err))
}

func TestApprovals_ContextExpiryCleansUp(t *testing.T) {
	a := NewApprovals(nil)

	ctx, cancel := context.WithCancel(context.Background())
	out := startPrompt(t, ctx, a, engine.ApprovalRequest{
		RunID: "run-1", StepID: "gate",
	})

	cancel()

	o := waitOutcome(t, out)
	require.ErrorIs(t, o.err, context.Canceled)
	assert.False(t, o.approved)

	require.Eventually(t, func() bool {
		return len(a.Pending()) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestApprovals_DuplicateKeyRejected(t *testing.T) {
	a := NewApprovals(nil)

	startPrompt(t, context.Background(), a, engine.ApprovalRequest{
		RunID: "run-1", StepID: "gate",
	})

	_, err := a.ShowApprovalPrompt(context.Background(), engine.ApprovalRequest{
		RunID: "run-1", StepID: "gate",
	})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeApproval, schema.ErrorCode(err))

	require.NoError(t, a.Resolve("run-1", "gate", true))
}

func TestApprovals_NotifiesOnRequest(t *testing.T) {
	a := NewApprovals(nil)

	var mu sync.Mutex
	var methods []string
	var params []map[string]any
	a.notify = func(method string, p map[string]any) {
		mu.Lock()
		defer mu.Unlock()
		methods = append(methods, method)
		params = append(params, p)
	}

	out := startPrompt(t, context.Background(), a, engine.ApprovalRequest{
		RunID: "run-1", WorkflowID: "pipeline", StepID: "gate", Message: "ship it?",
	})

	mu.Lock()
	require.Len(t, methods, 1)
	assert.Equal(t, "notifications/message", methods[0])
	assert.Equal(t, "approval_requested", params[0]["type"])
	assert.Equal(t, "run-1", params[0]["run_id"])
	assert.Equal(t, "ship it?", params[0]["message"])
	mu.Unlock()

	require.NoError(t, a.Resolve("run-1", "gate", true))
	waitOutcome(t, out)
}

func TestApprovals_PendingOrderedByAge(t *testing.T) {
	a := NewApprovals(nil)

	outFirst := startPrompt(t, context.Background(), a, engine.ApprovalRequest{
		RunID: "run-1", StepID: "first",
	})
	time.Sleep(5 * time.Millisecond)
	outSecond := startPrompt(t, context.Background(), a, engine.ApprovalRequest{
		RunID: "run-2", StepID: "second",
	})

	pending := a.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, "first", pending[0].StepID)
	assert.Equal(t, "second", pending[1].StepID)

	require.NoError(t, a.Resolve("run-1", "", true))
	require.NoError(t, a.Resolve("run-2", "", true))
	waitOutcome(t, outFirst)
	waitOutcome(t, outSecond)
}
