package journal

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/batonflow/baton/pkg/schema"
)

func newTestJournal(t *testing.T) *LibSQLJournal {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open("file:" + dbPath)
	require.NoError(t, err)
	require.NoError(t, j.Migrate(context.Background()))
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func seedRun(t *testing.T, j *LibSQLJournal, workflowID string) *Run {
	t.Helper()
	run := &Run{
		RunID:      uuid.NewString(),
		WorkflowID: workflowID,
		Status:     "running",
		Input:      json.RawMessage(`{"env":"staging"}`),
		StartedAt:  time.Now().UTC(),
	}
	require.NoError(t, j.StartRun(context.Background(), run))
	return run
}

func TestStartAndGetRun(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	run := seedRun(t, j, "deploy")

	got, err := j.GetRun(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, run.RunID, got.RunID)
	assert.Equal(t, "deploy", got.WorkflowID)
	assert.Equal(t, "running", got.Status)
	assert.JSONEq(t, `{"env":"staging"}`, string(got.Input))
	assert.Nil(t, got.Error)
	assert.Nil(t, got.CompletedAt)
}

func TestOpen_BarePathNormalized(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	require.NoError(t, j.Migrate(context.Background()))
	seedRun(t, j, "bare-path")
}

func TestGetRun_NotFound(t *testing.T) {
	j := newTestJournal(t)
	_, err := j.GetRun(context.Background(), "nonexistent")
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeNotFound, schema.ErrorCode(err))
}

func TestStartRun_RequiresID(t *testing.T) {
	j := newTestJournal(t)
	err := j.StartRun(context.Background(), &Run{WorkflowID: "deploy"})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.ErrorCode(err))
}

func TestFinishRun(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()
	run := seedRun(t, j, "deploy")

	completed := time.Now().UTC().Add(2 * time.Second)
	err := j.FinishRun(ctx, run.RunID, RunUpdate{
		Status:      "failed",
		Error:       json.RawMessage(`{"code":"TIMEOUT_ERROR"}`),
		CompletedAt: completed,
	})
	require.NoError(t, err)

	got, err := j.GetRun(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, "failed", got.Status)
	assert.JSONEq(t, `{"code":"TIMEOUT_ERROR"}`, string(got.Error))
	require.NotNil(t, got.CompletedAt)
	assert.WithinDuration(t, completed, *got.CompletedAt, time.Second)
}

func TestFinishRun_NotFound(t *testing.T) {
	j := newTestJournal(t)
	err := j.FinishRun(context.Background(), "nonexistent", RunUpdate{Status: "succeeded"})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeNotFound, schema.ErrorCode(err))
}

func TestListRuns_FilterAndOrder(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	old := &Run{
		RunID:      uuid.NewString(),
		WorkflowID: "deploy",
		Status:     "succeeded",
		StartedAt:  time.Now().UTC().Add(-time.Hour),
	}
	require.NoError(t, j.StartRun(ctx, old))
	recent := seedRun(t, j, "deploy")
	other := seedRun(t, j, "backup")

	all, err := j.ListRuns(ctx, RunFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	// newest first
	assert.Equal(t, old.RunID, all[2].RunID)

	deploys, err := j.ListRuns(ctx, RunFilter{WorkflowID: "deploy"})
	require.NoError(t, err)
	require.Len(t, deploys, 2)
	assert.Equal(t, recent.RunID, deploys[0].RunID)

	running, err := j.ListRuns(ctx, RunFilter{Status: "running"})
	require.NoError(t, err)
	assert.Len(t, running, 2)

	since := time.Now().UTC().Add(-time.Minute)
	fresh, err := j.ListRuns(ctx, RunFilter{Since: &since})
	require.NoError(t, err)
	assert.Len(t, fresh, 2)

	limited, err := j.ListRuns(ctx, RunFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)

	backups, err := j.ListRuns(ctx, RunFilter{WorkflowID: "backup"})
	require.NoError(t, err)
	require.Len(t, backups, 1)
	assert.Equal(t, other.RunID, backups[0].RunID)
}

func TestAppendEvent_SequencePerRun(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()
	runA := seedRun(t, j, "deploy")
	runB := seedRun(t, j, "deploy")

	for i := 0; i < 3; i++ {
		require.NoError(t, j.AppendEvent(ctx, &RunEvent{RunID: runA.RunID, Type: "step_started", StepID: "build"}))
	}
	require.NoError(t, j.AppendEvent(ctx, &RunEvent{RunID: runB.RunID, Type: "workflow_started"}))

	a, err := j.ListEvents(ctx, runA.RunID, 0)
	require.NoError(t, err)
	require.Len(t, a, 3)
	for i, e := range a {
		assert.Equal(t, int64(i+1), e.Sequence)
		assert.Equal(t, "build", e.StepID)
	}

	b, err := j.ListEvents(ctx, runB.RunID, 0)
	require.NoError(t, err)
	require.Len(t, b, 1)
	assert.Equal(t, int64(1), b[0].Sequence)
}

func TestListEvents_Since(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()
	run := seedRun(t, j, "deploy")

	for _, typ := range []string{"workflow_started", "step_started", "step_completed"} {
		require.NoError(t, j.AppendEvent(ctx, &RunEvent{
			RunID:   run.RunID,
			Type:    typ,
			Payload: json.RawMessage(`{"k":1}`),
		}))
	}

	tail, err := j.ListEvents(ctx, run.RunID, 1)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, "step_started", tail[0].Type)
	assert.JSONEq(t, `{"k":1}`, string(tail[0].Payload))
}

func TestAppendEvent_RequiresRunID(t *testing.T) {
	j := newTestJournal(t)
	err := j.AppendEvent(context.Background(), &RunEvent{Type: "step_started"})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.ErrorCode(err))
}

func TestMigrate_Idempotent(t *testing.T) {
	j := newTestJournal(t)
	// newTestJournal already migrated once
	require.NoError(t, j.Migrate(context.Background()))
	seedRun(t, j, "deploy")
}
