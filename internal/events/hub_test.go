package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/batonflow/baton/pkg/engine"
)

func TestPublishSubscribe(t *testing.T) {
	hub := NewHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, Filter{})
	require.NoError(t, err)
	defer cancel()

	event := engine.Event{
		Type:       engine.EventStepCompleted,
		RunID:      "run-1",
		WorkflowID: "deploy",
		StepID:     "plan",
		Payload:    map[string]any{"duration_ms": int64(12)},
		Timestamp:  time.Now().UTC(),
	}
	hub.Publish(event)

	select {
	case got := <-ch:
		assert.Equal(t, event.Type, got.Type)
		assert.Equal(t, event.RunID, got.RunID)
		assert.Equal(t, event.StepID, got.StepID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestFilterByRunID(t *testing.T) {
	hub := NewHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, Filter{RunID: "run-1"})
	require.NoError(t, err)
	defer cancel()

	hub.Publish(engine.Event{Type: engine.EventStepStarted, RunID: "run-1"})
	hub.Publish(engine.Event{Type: engine.EventStepStarted, RunID: "run-2"})

	select {
	case got := <-ch:
		assert.Equal(t, "run-1", got.RunID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}

	select {
	case evt := <-ch:
		t.Fatalf("unexpected event: %+v", evt)
	case <-time.After(50 * time.Millisecond):
		// expected: the run-2 event was filtered out
	}
}

func TestFilterByWorkflowID(t *testing.T) {
	hub := NewHub()

	ch, cancel, err := hub.Subscribe(context.Background(), Filter{WorkflowID: "deploy"})
	require.NoError(t, err)
	defer cancel()

	hub.Publish(engine.Event{Type: engine.EventWorkflowStarted, WorkflowID: "deploy"})
	hub.Publish(engine.Event{Type: engine.EventWorkflowStarted, WorkflowID: "backup"})

	select {
	case got := <-ch:
		assert.Equal(t, "deploy", got.WorkflowID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}

	select {
	case evt := <-ch:
		t.Fatalf("unexpected event: %+v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFilterByType(t *testing.T) {
	hub := NewHub()

	ch, cancel, err := hub.Subscribe(context.Background(), Filter{
		Types: []string{engine.EventStepCompleted, engine.EventWorkflowFailed},
	})
	require.NoError(t, err)
	defer cancel()

	hub.Publish(engine.Event{Type: engine.EventStepCompleted, RunID: "r"})
	hub.Publish(engine.Event{Type: engine.EventStepStarted, RunID: "r"})
	hub.Publish(engine.Event{Type: engine.EventWorkflowFailed, RunID: "r"})

	var received []string
	for i := 0; i < 2; i++ {
		select {
		case got := <-ch:
			received = append(received, got.Type)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
	assert.Equal(t, []string{engine.EventStepCompleted, engine.EventWorkflowFailed}, received)

	select {
	case evt := <-ch:
		t.Fatalf("unexpected event: %+v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMultipleSubscribers(t *testing.T) {
	hub := NewHub()
	ctx := context.Background()

	ch1, cancel1, err := hub.Subscribe(ctx, Filter{})
	require.NoError(t, err)
	defer cancel1()

	ch2, cancel2, err := hub.Subscribe(ctx, Filter{})
	require.NoError(t, err)
	defer cancel2()

	hub.Publish(engine.Event{Type: engine.EventStepCompleted, RunID: "run-1"})

	for _, ch := range []<-chan engine.Event{ch1, ch2} {
		select {
		case got := <-ch:
			assert.Equal(t, "run-1", got.RunID)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestCancelSubscription(t *testing.T) {
	hub := NewHub()

	ch, cancel, err := hub.Subscribe(context.Background(), Filter{})
	require.NoError(t, err)

	cancel()
	hub.Publish(engine.Event{Type: engine.EventStepCompleted})

	select {
	case evt := <-ch:
		t.Fatalf("unexpected event after cancel: %+v", evt)
	case <-time.After(50 * time.Millisecond):
		// expected: subscriber was removed
	}

	hub.mu.RLock()
	assert.Empty(t, hub.subs)
	hub.mu.RUnlock()
}

func TestBackpressure(t *testing.T) {
	hub := NewHub()

	ch, cancel, err := hub.Subscribe(context.Background(), Filter{})
	require.NoError(t, err)
	defer cancel()

	// Overfill the buffer; none of these publishes may block.
	for i := 0; i < defaultChannelBuffer+10; i++ {
		hub.Publish(engine.Event{Type: "tick"})
	}

	drained := 0
	for {
		select {
		case <-ch:
			drained++
		default:
			assert.Equal(t, defaultChannelBuffer, drained)
			return
		}
	}
}

func TestConcurrentAccess(t *testing.T) {
	hub := NewHub()
	ctx := context.Background()
	const goroutines = 20
	const eventsPerGoroutine = 50

	var wg sync.WaitGroup

	cancels := make([]func(), goroutines)
	for i := 0; i < goroutines; i++ {
		_, cancel, err := hub.Subscribe(ctx, Filter{})
		require.NoError(t, err)
		cancels[i] = cancel
	}
	defer func() {
		for _, c := range cancels {
			c()
		}
	}()

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < eventsPerGoroutine; j++ {
				hub.Publish(engine.Event{Type: "tick", RunID: "concurrent"})
			}
		}()
	}

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch, cancel, err := hub.Subscribe(ctx, Filter{})
			if err != nil {
				return
			}
			for i := 0; i < 5; i++ {
				select {
				case <-ch:
				case <-time.After(10 * time.Millisecond):
				}
			}
			cancel()
		}()
	}

	wg.Wait()
}

func TestSubscribeCancelledContext(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := hub.Subscribe(ctx, Filter{})
	assert.ErrorIs(t, err, context.Canceled)
}
