package memory

import (
	"sync"

	"breach-session-service/internal/domain"
)

// Bus is an in-process implementation of app.Bus. Each session code is a
// topic; each subscriber (player or teacher) owns a buffered channel.
// Delivery never blocks the publisher.
type Bus struct {
	mu     sync.RWMutex
	topics map[string]map[string]chan domain.Event
}

func NewBus() *Bus {
	return &Bus{topics: make(map[string]map[string]chan domain.Event)}
}

// Subscribe registers a recipient on a session topic. The caller must invoke
// the returned cancel function to avoid leaks.
func (b *Bus) Subscribe(code, recipientID string) (<-chan domain.Event, func()) {
	ch := make(chan domain.Event, 16)

	b.mu.Lock()
	topic, ok := b.topics[code]
	if !ok {
		topic = make(map[string]chan domain.Event)
		b.topics[code] = topic
	}
	if old, ok := topic[recipientID]; ok {
		close(old)
	}
	topic[recipientID] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		topic, ok := b.topics[code]
		if !ok {
			return
		}
		if current, ok := topic[recipientID]; ok && current == ch {
			delete(topic, recipientID)
			close(ch)
		}
		if len(topic) == 0 {
			delete(b.topics, code)
		}
	}
	return ch, cancel
}

// Broadcast delivers an event to every subscriber of a session topic.
func (b *Bus) Broadcast(code string, event domain.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.topics[code] {
		deliver(ch, event)
	}
}

// Send delivers an event to one recipient only. Unknown recipients (e.g., a
// disconnected player) drop the event; the engine never waits for delivery.
func (b *Bus) Send(code, recipientID string, event domain.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if ch, ok := b.topics[code][recipientID]; ok {
		deliver(ch, event)
	}
}

// deliver drops the oldest buffered event when a subscriber falls behind so a
// slow client can never stall the engine.
func deliver(ch chan domain.Event, event domain.Event) {
	select {
	case ch <- event:
	default:
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- event:
		default:
		}
	}
}
