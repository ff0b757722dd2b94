package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/soochol/convograph/internal/flow"
)

func TestEventBus_Subscribe_Publish(t *testing.T) {
	bus := NewEventBus()
	var received []flow.Event
	var mu sync.Mutex
	bus.Subscribe(func(e flow.Event) {
		mu.Lock()
		received = append(received, e)
		mu.Unlock()
	})
	bus.Publish(flow.Event{ThreadID: "t1", Type: flow.EventTransition, Timestamp: time.Now()})
	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("received: got %d, want 1", len(received))
	}
	if received[0].ThreadID != "t1" {
		t.Errorf("thread ID: got %q, want t1", received[0].ThreadID)
	}
}

func TestEventBus_MultipleSubscribers(t *testing.T) {
	bus := NewEventBus()
	var count1, count2 int
	var mu sync.Mutex
	bus.Subscribe(func(e flow.Event) { mu.Lock(); count1++; mu.Unlock() })
	bus.Subscribe(func(e flow.Event) { mu.Lock(); count2++; mu.Unlock() })
	bus.Publish(flow.Event{ThreadID: "t1", Type: flow.EventTransition, Timestamp: time.Now()})
	mu.Lock()
	defer mu.Unlock()
	if count1 != 1 || count2 != 1 {
		t.Errorf("counts: got %d/%d, want 1/1", count1, count2)
	}
}

func TestEventBus_Unsubscribe(t *testing.T) {
	bus := NewEventBus()
	count := 0
	unsubscribe := bus.Subscribe(func(e flow.Event) { count++ })
	bus.Publish(flow.Event{Type: flow.EventTransition})
	unsubscribe()
	bus.Publish(flow.Event{Type: flow.EventTransition})
	if count != 1 {
		t.Errorf("count: got %d, want 1", count)
	}
}
