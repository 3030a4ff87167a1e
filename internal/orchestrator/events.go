package orchestrator

import (
	"log/slog"
	"sync"
	"time"
)

// EventType names an orchestrator event.
type EventType string

const (
	EventActionComplete       EventType = "actionComplete"
	EventConfirmationRequired EventType = "confirmationRequired"
	EventIntentQueued         EventType = "intentQueued"
	EventIntentDenied         EventType = "intentDenied"
	EventHeartbeat            EventType = "heartbeat"
	EventSuggestion           EventType = "suggestion"
	EventAnnouncement         EventType = "announcement"
	EventStateChanged         EventType = "stateChanged"
)

// Event is one message on the bus.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// Bus fans events out to subscribers. Each subscriber receives events in
// publish order; a subscriber whose buffer is full misses events instead of
// blocking the publisher.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	next   int
	buffer int
	drops  int
	logger *slog.Logger
}

func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	return &Bus{
		subs:   make(map[int]chan Event),
		buffer: buffer,
		logger: slog.Default().With("component", "events"),
	}
}

// Subscribe returns a channel of events and a function that closes it.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	ch := make(chan Event, b.buffer)
	b.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			close(ch)
		})
	}
}

// Publish delivers e to every subscriber without blocking.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.drops++
			b.logger.Warn("subscriber lagging, event dropped", "subscriber", id, "type", e.Type)
		}
	}
}

// Dropped returns how many deliveries were skipped for slow subscribers.
func (b *Bus) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.drops
}

// Subscribers returns the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
