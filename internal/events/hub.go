// Package events fans engine events out to in-process subscribers: the
// console stream, the run journal recorder, MCP sessions. Delivery is
// fire-and-forget; a slow subscriber loses events rather than stalling
// a run.
package events

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/batonflow/baton/pkg/engine"
)

const defaultChannelBuffer = 64

// Filter selects which events a subscriber receives. The zero value
// receives everything.
type Filter struct {
	RunID      string   `json:"run_id,omitempty"`
	WorkflowID string   `json:"workflow_id,omitempty"`
	Types      []string `json:"types,omitempty"`
}

type subscriber struct {
	ch     chan engine.Event
	filter Filter
}

// Hub is an in-memory event fan-out. It implements engine.EventSink, so an
// Executor publishes straight into it.
type Hub struct {
	mu   sync.RWMutex
	subs map[uint64]*subscriber
	seq  atomic.Uint64
}

var _ engine.EventSink = (*Hub)(nil)

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		subs: make(map[uint64]*subscriber),
	}
}

// Publish delivers the event to every matching subscriber.
// Non-blocking: if a subscriber's channel is full the event is dropped.
func (h *Hub) Publish(event engine.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs {
		if !matchFilter(sub.filter, event) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			// backpressure: drop event for slow subscriber
		}
	}
}

// Subscribe registers a subscriber for events passing the filter. The
// returned cancel removes the subscription. The channel is never closed,
// so receives must be bounded by the caller's own context.
func (h *Hub) Subscribe(ctx context.Context, filter Filter) (<-chan engine.Event, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	id := h.seq.Add(1)
	ch := make(chan engine.Event, defaultChannelBuffer)

	h.mu.Lock()
	h.subs[id] = &subscriber{ch: ch, filter: filter}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}

	return ch, cancel, nil
}

// matchFilter returns true if the event passes the filter criteria.
func matchFilter(f Filter, e engine.Event) bool {
	if f.RunID != "" && f.RunID != e.RunID {
		return false
	}
	if f.WorkflowID != "" && f.WorkflowID != e.WorkflowID {
		return false
	}
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if t == e.Type {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
