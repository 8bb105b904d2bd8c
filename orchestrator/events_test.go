package orchestrator

import (
	"sync"
	"testing"
)

func TestEventDispatcher_SequentialDelivery(t *testing.T) {
	var mu sync.Mutex
	var received []string

	d := NewEventDispatcher("trace-test", func(eventType, eventData string) {
		mu.Lock()
		received = append(received, eventType+":"+eventData)
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Send(EventTypeTaskStart, "{}")
		}()
	}
	wg.Wait()
	d.Close()

	if len(received) != 20 {
		t.Errorf("expected 20 events delivered, got %d", len(received))
	}
}

func TestEventDispatcher_NilCallback(t *testing.T) {
	d := NewEventDispatcher("trace-test", nil)

	// Must be safe no-ops.
	d.Send(EventTypeTaskStart, "{}")
	d.Close()
}

func TestEventDispatcher_PanicRecovery(t *testing.T) {
	calls := 0
	d := NewEventDispatcher("trace-test", func(eventType, eventData string) {
		calls++
		if calls == 1 {
			panic("callback exploded")
		}
	})

	d.Send(EventTypeTaskStart, "{}")
	d.Send(EventTypeTaskEnd, "{}")
	d.Close()

	if calls != 2 {
		t.Errorf("a panicking callback must not stop later deliveries, got %d calls", calls)
	}
}

func TestEventDispatcher_DropsWhenBufferFull(t *testing.T) {
	release := make(chan struct{})
	d := NewEventDispatcher("trace-test", func(eventType, eventData string) {
		<-release
	})

	// With the callback stalled, at most one event is in flight and the
	// buffer holds 100 more; the rest must be dropped, not block Send.
	for i := 0; i < 150; i++ {
		d.Send(EventTypeTaskStart, "{}")
	}
	if d.Dropped() == 0 {
		t.Error("expected events dropped once the buffer filled")
	}

	close(release)
	d.Close()
}

func TestEventDispatcher_SendAfterClose(t *testing.T) {
	d := NewEventDispatcher("trace-test", func(eventType, eventData string) {})
	d.Close()

	// Must not panic on a closed dispatcher.
	d.Send(EventTypeTaskStart, "{}")
	d.Close()
}
