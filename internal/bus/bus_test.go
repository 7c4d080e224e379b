package bus

import (
	"sync"
	"testing"
)

func TestBroadcastReachesAllSubscribers(t *testing.T) {
	b := New()

	var mu sync.Mutex
	got := map[string]int{}

	b.Subscribe("a", func(e Event) {
		mu.Lock()
		got["a"]++
		mu.Unlock()
	})
	b.Subscribe("b", func(e Event) {
		mu.Lock()
		got["b"]++
		mu.Unlock()
	})

	b.Broadcast(Event{Name: "sent"})
	b.Broadcast(Event{Name: "decision"})

	mu.Lock()
	defer mu.Unlock()
	if got["a"] != 2 || got["b"] != 2 {
		t.Errorf("deliveries = %v, want a:2 b:2", got)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()

	calls := 0
	b.Subscribe("x", func(e Event) { calls++ })
	b.Broadcast(Event{Name: "run_start"})
	b.Unsubscribe("x")
	b.Broadcast(Event{Name: "run_complete"})

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if b.SubscriberCount() != 0 {
		t.Errorf("SubscriberCount() = %d, want 0", b.SubscriberCount())
	}
}
