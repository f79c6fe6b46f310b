package council

import (
	"sync"
	"time"
)

// EventKind enumerates the lifecycle events the Orchestrator publishes at
// every stage boundary (spec.md §4.11).
type EventKind string

const (
	EventDeliberationStart EventKind = "council.deliberation_start"
	EventStage1Complete    EventKind = "council.stage1.complete"
	EventVoteCast          EventKind = "model.vote_cast"
	EventStage2Complete    EventKind = "council.stage2.complete"
	EventStage3Complete    EventKind = "council.stage3.complete"
	EventComplete          EventKind = "council.complete"
	EventError             EventKind = "council.error"
)

// Event is the envelope delivered to subscribers; Data carries whatever is
// relevant to Kind (spec.md §6 event envelope).
type Event struct {
	Kind      EventKind
	RequestID string
	Timestamp time.Time
	Data      any
}

// defaultSubscriberBuffer is the bounded per-subscriber channel size
// (spec.md §4.11 default 64).
const defaultSubscriberBuffer = 64

// EventBus is an in-process pub/sub keyed by request: subscribers register
// per request and receive events in emission order. Emission never blocks
// the Orchestrator — a subscriber that falls behind its bounded buffer is
// dropped (unsubscribed, its channel closed) after a best-effort
// SubscriberLagged diagnostic rather than stalling the pipeline. Modeled on the teacher pack's debate-orchestrator Subscribe/
// broadcast shape (mutex-guarded subscriber slice, buffered channel per
// subscriber, non-blocking send) since the teacher itself writes SSE frames
// directly in the handler and has no pub/sub of its own.
type EventBus struct {
	mu          sync.Mutex
	subscribers map[string][]*subscriber
}

type subscriber struct {
	ch     chan Event
	lagged bool
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]*subscriber)}
}

// Subscribe registers a new listener for requestID and returns the channel
// it will receive events on, plus an unsubscribe func. The channel is
// closed on Unsubscribe, on Close, or when the subscriber is dropped for
// lagging; callers must keep draining it until then.
func (b *EventBus) Subscribe(requestID string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscriber{ch: make(chan Event, defaultSubscriberBuffer)}
	b.subscribers[requestID] = append(b.subscribers[requestID], sub)

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subscribers[requestID]
		for i, s := range subs {
			if s == sub {
				b.subscribers[requestID] = append(subs[:i], subs[i+1:]...)
				close(sub.ch)
				break
			}
		}
		if len(b.subscribers[requestID]) == 0 {
			delete(b.subscribers, requestID)
		}
	}
	return sub.ch, unsubscribe
}

// Publish delivers ev to every subscriber of ev.RequestID in emission
// order, never blocking on a slow subscriber: a full buffer means that
// subscriber is dropped (see markLagged) and misses this and every later
// event, while everyone else still receives it.
func (b *EventBus) Publish(ev Event) {
	b.mu.Lock()
	subs := append([]*subscriber(nil), b.subscribers[ev.RequestID]...)
	b.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- ev:
		default:
			b.markLagged(ev.RequestID, s)
		}
	}
}

func (b *EventBus) markLagged(requestID string, s *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s.lagged {
		return
	}
	s.lagged = true
	// Best-effort diagnostic delivery; if even this would block, the
	// subscriber is already far enough behind that dropping it is fine.
	select {
	case s.ch <- Event{Kind: EventError, RequestID: requestID, Timestamp: time.Now(), Data: "SubscriberLagged"}:
	default:
	}
	subs := b.subscribers[requestID]
	for i, other := range subs {
		if other == s {
			b.subscribers[requestID] = append(subs[:i], subs[i+1:]...)
			close(s.ch)
			break
		}
	}
	if len(b.subscribers[requestID]) == 0 {
		delete(b.subscribers, requestID)
	}
}

// Close releases every subscriber channel for requestID, used once the
// Orchestrator reaches a terminal state.
func (b *EventBus) Close(requestID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subscribers[requestID] {
		close(s.ch)
	}
	delete(b.subscribers, requestID)
}
