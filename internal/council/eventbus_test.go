package council

import (
	"testing"
	"time"
)

func TestEventBusDeliversInOrder(t *testing.T) {
	bus := NewEventBus()
	ch, unsubscribe := bus.Subscribe("req1")
	defer unsubscribe()

	kinds := []EventKind{EventDeliberationStart, EventStage1Complete, EventStage2Complete, EventStage3Complete, EventComplete}
	for _, k := range kinds {
		bus.Publish(Event{Kind: k, RequestID: "req1", Timestamp: time.Now()})
	}

	for _, want := range kinds {
		select {
		case ev := <-ch:
			if ev.Kind != want {
				t.Fatalf("got event %v, want %v", ev.Kind, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %v", want)
		}
	}
}

func TestEventBusIsolatesSubscribersByRequest(t *testing.T) {
	bus := NewEventBus()
	ch1, unsub1 := bus.Subscribe("req1")
	defer unsub1()
	ch2, unsub2 := bus.Subscribe("req2")
	defer unsub2()

	bus.Publish(Event{Kind: EventComplete, RequestID: "req1", Timestamp: time.Now()})

	select {
	case <-ch1:
	case <-time.After(time.Second):
		t.Fatal("req1 subscriber never received its event")
	}

	select {
	case ev := <-ch2:
		t.Fatalf("req2 subscriber unexpectedly received an event meant for req1: %+v", ev)
	case <-time.After(50 * time.Millisecond):
		// expected: no cross-request delivery
	}
}

func TestEventBusDropsSlowSubscriberInsteadOfBlocking(t *testing.T) {
	bus := NewEventBus()
	ch, unsubscribe := bus.Subscribe("req1")
	defer unsubscribe()

	// Flood well past the bounded buffer without draining; Publish must
	// never block regardless.
	done := make(chan struct{})
	go func() {
		for i := 0; i < defaultSubscriberBuffer*4; i++ {
			bus.Publish(Event{Kind: EventStage1Complete, RequestID: "req1", Timestamp: time.Now()})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber instead of dropping events")
	}
	_ = ch
}

func TestEventBusCloseClosesChannel(t *testing.T) {
	bus := NewEventBus()
	ch, _ := bus.Subscribe("req1")
	bus.Close("req1")

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected channel to be closed with no pending events")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for channel close")
	}
}
