// Package journal persists an append-only record of workflow runs and their
// event streams in libSQL. It is an audit artifact: a Recorder subscribes to
// the event hub and writes what it sees, and only the history surfaces (CLI,
// query tool) ever read it back. The engine has no journal dependency and
// never resumes a run from it.
package journal

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/batonflow/baton/internal/events"
	"github.com/batonflow/baton/pkg/engine"
)

// Run is one row of the runs table.
type Run struct {
	RunID       string          `json:"run_id"`
	WorkflowID  string          `json:"workflow_id"`
	Status      string          `json:"status"`
	Input       json.RawMessage `json:"input,omitempty"`
	Error       json.RawMessage `json:"error,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// RunEvent is one row of the run_events table. Sequence is monotonic per run,
// starting at 1, assigned on append.
type RunEvent struct {
	ID        int64           `json:"id"`
	RunID     string          `json:"run_id"`
	StepID    string          `json:"step_id,omitempty"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Sequence  int64           `json:"sequence"`
}

// RunUpdate carries the terminal fields written when a run finishes.
type RunUpdate struct {
	Status      string
	Error       json.RawMessage
	CompletedAt time.Time
}

// RunFilter narrows ListRuns.
type RunFilter struct {
	WorkflowID string
	Status     string
	Since      *time.Time
	Limit      int
	Offset     int
}

// Journal is the persistence contract for run history.
// Implementations must be safe for concurrent use.
type Journal interface {
	StartRun(ctx context.Context, run *Run) error
	FinishRun(ctx context.Context, runID string, update RunUpdate) error
	AppendEvent(ctx context.Context, event *RunEvent) error

	GetRun(ctx context.Context, runID string) (*Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error)
	ListEvents(ctx context.Context, runID string, since int64) ([]*RunEvent, error)

	Migrate(ctx context.Context) error
	Close() error
}

// Recorder bridges the event hub to a Journal. Writes are best-effort: a
// failed insert is logged and dropped, never surfaced to the run. Stop drains
// whatever the hub already delivered before returning.
type Recorder struct {
	journal Journal
	hub     *events.Hub
	logger  *slog.Logger

	unsubscribe func()
	quit        chan struct{}
	done        chan struct{}
}

// NewRecorder creates a recorder writing hub events to j.
func NewRecorder(j Journal, hub *events.Hub, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		journal: j,
		hub:     hub,
		logger:  logger.With("component", "journal"),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start subscribes to the hub and begins recording. The subscription outlives
// ctx cancellation so that terminal events of an aborted run still land;
// call Stop to end recording.
func (r *Recorder) Start(ctx context.Context) error {
	ch, cancel, err := r.hub.Subscribe(ctx, events.Filter{})
	if err != nil {
		return err
	}
	r.unsubscribe = cancel

	// Journal writes use a detached context: a cancelled run must still get
	// its workflow_failed row.
	writeCtx := context.WithoutCancel(ctx)

	go func() {
		defer close(r.done)
		for {
			select {
			case e := <-ch:
				r.record(writeCtx, e)
			case <-r.quit:
				for {
					select {
					case e := <-ch:
						r.record(writeCtx, e)
					default:
						return
					}
				}
			}
		}
	}()
	return nil
}

// Stop unsubscribes, drains buffered events, and waits for the writer to exit.
func (r *Recorder) Stop() {
	if r.unsubscribe != nil {
		r.unsubscribe()
	}
	close(r.quit)
	<-r.done
}

func (r *Recorder) record(ctx context.Context, e engine.Event) {
	payload := e.Payload

	switch e.Type {
	case engine.EventWorkflowStarted:
		run := &Run{
			RunID:      e.RunID,
			WorkflowID: e.WorkflowID,
			Status:     string(engine.RunStatusRunning),
			Input:      marshalOrNil(e.Payload["input"]),
			StartedAt:  e.Timestamp,
		}
		if err := r.journal.StartRun(ctx, run); err != nil {
			r.logger.Warn("journal start_run failed", "run_id", e.RunID, "error", err)
		}
		// The input lives on the runs row; don't store it twice.
		payload = withoutKey(e.Payload, "input")

	case engine.EventWorkflowCompleted:
		r.finish(ctx, e, RunUpdate{
			Status:      string(engine.RunStatusSucceeded),
			CompletedAt: e.Timestamp,
		})

	case engine.EventWorkflowFailed:
		r.finish(ctx, e, RunUpdate{
			Status:      string(engine.RunStatusFailed),
			Error:       marshalOrNil(e.Payload),
			CompletedAt: e.Timestamp,
		})
	}

	ev := &RunEvent{
		RunID:     e.RunID,
		StepID:    e.StepID,
		Type:      e.Type,
		Payload:   marshalOrNil(payload),
		Timestamp: e.Timestamp,
	}
	if err := r.journal.AppendEvent(ctx, ev); err != nil {
		r.logger.Warn("journal append failed",
			"run_id", e.RunID, "type", e.Type, "error", err)
	}
}

func (r *Recorder) finish(ctx context.Context, e engine.Event, update RunUpdate) {
	if err := r.journal.FinishRun(ctx, e.RunID, update); err != nil {
		r.logger.Warn("journal finish_run failed", "run_id", e.RunID, "error", err)
	}
}

func marshalOrNil(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	if m, ok := v.(map[string]any); ok && len(m) == 0 {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}

func withoutKey(m map[string]any, key string) map[string]any {
	if _, ok := m[key]; !ok {
		return m
	}
	out := make(map[string]any, len(m)-1)
	for k, v := range m {
		if k != key {
			out[k] = v
		}
	}
	return out
}
