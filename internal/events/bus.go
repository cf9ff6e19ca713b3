// Package events is the engine's audit stream. Every significant action
// (strategy lifecycle, decisions, orders, capital warnings, shutdown
// steps) is published here; the WebSocket stream and the notifier
// subscribe. Publishing never blocks: a subscriber that cannot keep up
// loses events rather than stalling the engine.
package events

import (
	"sync"
	"time"
)

// EventType tags what happened.
type EventType string

const (
	TypeStrategyStarted EventType = "strategy_started"
	TypeStrategyStopped EventType = "strategy_stopped"
	TypeDecision        EventType = "decision"
	TypeOrderExecuted   EventType = "order_executed"
	TypePositionOpened  EventType = "position_opened"
	TypePositionClosed  EventType = "position_closed"
	TypeCapitalWarning  EventType = "capital_warning"
	TypeAuthBreaker     EventType = "auth_breaker_tripped"
	TypeEmergency       EventType = "emergency_action"
	TypeShutdown        EventType = "shutdown"
	TypeRestore         EventType = "restore"
)

// Event is one audit record.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	Payload   any       `json:"payload,omitempty"`
}

const subscriberBuffer = 64

// Bus fans events out to subscribers. Slow subscribers drop events.
type Bus struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

func NewBus() *Bus {
	return &Bus{subs: make(map[chan Event]struct{})}
}

// Publish delivers an event to every subscriber without blocking.
func (b *Bus) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Emit is shorthand for Publish with just a type and message.
func (b *Bus) Emit(t EventType, message string, payload any) {
	b.Publish(Event{Type: t, Message: message, Payload: payload})
}

// Subscribe registers a new subscriber. The returned cancel func must be
// called to release it; the channel is closed on cancel.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// SubscriberCount reports active subscribers, for metrics.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
