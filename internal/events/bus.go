// Package events provides a publish/subscribe event bus for operational
// observability. Events flow from components (turn orchestrator,
// compaction engine, snapshot manager) to subscribers (WebSocket
// handler, future metrics collector). The bus is nil-safe: calling
// Publish on a nil *Bus is a no-op, so components do not need guard
// checks.
package events

import (
	"sync"
	"time"
)

// Source constants identify which component published an event.
const (
	// SourceOrchestrator identifies events from the turn orchestrator.
	SourceOrchestrator = "orchestrator"
	// SourceCompaction identifies events from the compaction engine.
	SourceCompaction = "compaction"
	// SourceSnapshot identifies events from the snapshot manager.
	SourceSnapshot = "snapshot"
	// SourceRouter identifies events from the task router.
	SourceRouter = "router"
)

// Kind constants describe the type of event within a source.
const (
	// KindTurnStart signals the beginning of a turn.
	// Data: turn, input_len.
	KindTurnStart = "turn_start"
	// KindLLMCall signals the start of a provider call.
	// Data: turn, iter, model.
	KindLLMCall = "llm_call"
	// KindLLMResponse signals completion of a provider call.
	// Data: turn, iter, model, tokens_in, tokens_out, tool_calls.
	KindLLMResponse = "llm_response"
	// KindToolCall signals the start of a tool execution.
	// Data: turn, tool, decision.
	KindToolCall = "tool_call"
	// KindToolDone signals completion of a tool execution.
	// Data: turn, tool, ok, duration_ms.
	KindToolDone = "tool_done"
	// KindToolDenied signals a tool call rejected by policy.
	// Data: turn, tool.
	KindToolDenied = "tool_denied"
	// KindTurnComplete signals the end of a turn.
	// Data: turn, state, iterations, elapsed_ms.
	KindTurnComplete = "turn_complete"

	// KindCompaction signals a completed history compaction.
	// Data: evicted, retained, ratio, forced.
	KindCompaction = "compaction"
	// KindOverflowRecovery signals a context-overflow recovery cycle.
	// Data: turn, model.
	KindOverflowRecovery = "overflow_recovery"

	// KindSnapshotSaved signals a persisted turn snapshot.
	// Data: turn, bytes.
	KindSnapshotSaved = "snapshot_saved"

	// KindRouteDecision signals a routing decision.
	// Data: request_id, class, model, routed.
	KindRouteDecision = "route_decision"
)

// Event represents a single operational event published by a component.
type Event struct {
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"ts"`
	// Source identifies the component that published the event.
	Source string `json:"source"`
	// Kind describes the type of event within the source.
	Kind string `json:"kind"`
	// Data holds event-specific key/value pairs.
	Data map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast event bus. Subscribers receive events
// on buffered channels; slow subscribers miss events rather than
// blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	// recvToSend maps the receive-only channel returned by Subscribe
	// back to the bidirectional channel stored in subs. This allows
	// Unsubscribe to accept <-chan Event (the caller's view) without
	// an illegal type conversion.
	recvToSend map[<-chan Event]chan Event
}

// New creates a new event bus ready for use.
func New() *Bus {
	return &Bus{
		subs:       make(map[chan Event]struct{}),
		recvToSend: make(map[<-chan Event]chan Event),
	}
}

// Publish sends an event to all subscribers. Non-blocking: if a
// subscriber's channel is full, the event is dropped for that
// subscriber. Safe to call on a nil receiver (no-op).
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// Subscriber is full, drop the event rather than block.
		}
	}
}

// Emit publishes an event with the current timestamp. Safe on a nil
// receiver.
func (b *Bus) Emit(source, kind string, data map[string]any) {
	b.Publish(Event{
		Timestamp: time.Now().UTC(),
		Source:    source,
		Kind:      kind,
		Data:      data,
	})
}

// Subscribe returns a channel that receives published events. The
// caller must eventually call Unsubscribe to avoid resource leaks.
// bufSize controls the channel buffer; 64 is a reasonable default for
// WebSocket consumers.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes the channel. Safe to
// call with a channel that is already unsubscribed (no-op).
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
