package orchestrator

import (
	"log/slog"
	"sync"
)

// EventCallback receives orchestration lifecycle events. eventData is a
// JSON document whose shape depends on eventType.
type EventCallback func(eventType string, eventData string)

// Event types emitted during batch execution.
const (
	// EventTypeBatchStart is sent when a batch begins execution.
	EventTypeBatchStart = "batch_start"
	// EventTypeBatchEnd is sent when a batch finishes.
	EventTypeBatchEnd = "batch_end"
	// EventTypeTaskStart is sent when a task starts executing.
	EventTypeTaskStart = "task_start"
	// EventTypeTaskEnd is sent when a task finishes executing.
	EventTypeTaskEnd = "task_end"
	// EventTypeContextShared is sent when a shared-context key is set.
	EventTypeContextShared = "context_shared"
	// EventTypeBroadcast is sent when a message is broadcast to workers.
	EventTypeBroadcast = "broadcast"
)

// EventDispatcher delivers events to the callback strictly sequentially,
// decoupled from the goroutines that produce them.
type EventDispatcher struct {
	callback EventCallback
	eventCh  chan event
	wg       sync.WaitGroup
	closed   bool
	dropped  int
	mu       sync.Mutex
	traceID  string
}

type event struct {
	Type string
	Data string
}

// NewEventDispatcher creates a dispatcher for one orchestration request.
// A nil callback yields a no-op dispatcher.
func NewEventDispatcher(traceID string, callback EventCallback) *EventDispatcher {
	if callback == nil {
		return &EventDispatcher{traceID: traceID}
	}

	d := &EventDispatcher{
		callback: callback,
		eventCh:  make(chan event, 100),
		traceID:  traceID,
	}
	d.wg.Add(1)
	go d.dispatchLoop()
	return d
}

func (d *EventDispatcher) dispatchLoop() {
	defer d.wg.Done()
	for e := range d.eventCh {
		// Recover from panic in callback to protect the loop
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("event dispatcher: recovered from panic",
						"panic", r, "trace_id", d.traceID)
				}
			}()
			d.callback(e.Type, e.Data)
		}()
	}
}

// Send enqueues an event for sequential delivery. Events are advisory:
// when a slow callback lets the buffer fill up, the event is dropped
// rather than stalling the task that produced it.
func (d *EventDispatcher) Send(eventType, eventData string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.callback == nil || d.closed {
		return
	}
	select {
	case d.eventCh <- event{Type: eventType, Data: eventData}:
	default:
		d.dropped++
		slog.Warn("event dispatcher: buffer full, dropping event",
			"type", eventType, "trace_id", d.traceID)
	}
}

// Dropped reports how many events were discarded because the buffer
// was full.
func (d *EventDispatcher) Dropped() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}

// Close stops the dispatcher after draining all queued events.
func (d *EventDispatcher) Close() {
	d.mu.Lock()
	if d.callback == nil || d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	close(d.eventCh)
	d.wg.Wait()
}
