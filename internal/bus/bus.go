// Package bus provides an internal event bus for component communication
package bus

import (
	"sync"
)

// EventType identifies different event types
type EventType string

const (
	// Conversation events
	EventTypeStateChanged      EventType = "conversation.state_changed"
	EventTypeCaptureChanged    EventType = "conversation.capture_changed"
	EventTypeTranscriptDropped EventType = "conversation.transcript_dropped"
	EventTypeTurnStarted       EventType = "conversation.turn_started"
	EventTypeTurnFailed        EventType = "conversation.turn_failed"
	EventTypeReply             EventType = "conversation.reply"
	EventTypePlaybackRequested EventType = "conversation.playback_requested"
	EventTypePlaybackEnded     EventType = "conversation.playback_ended"

	// Animation events
	EventTypeClipChanged        EventType = "animation.clip_changed"
	EventTypeClipFallback       EventType = "animation.clip_fallback"
	EventTypeTransitionComplete EventType = "animation.transition_complete"
)

// Event represents a bus event
type Event struct {
	Type EventType
	Data map[string]any
}

// Handler is a function that handles events
type Handler func(Event)

// EventBus is a simple pub/sub event bus
type EventBus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[EventType][]Handler),
	}
}

// Subscribe adds a handler for an event type
func (b *EventBus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// SubscribeMultiple adds a handler for multiple event types
func (b *EventBus) SubscribeMultiple(eventTypes []EventType, handler Handler) {
	for _, et := range eventTypes {
		b.Subscribe(et, handler)
	}
}

// Publish hands the event to every subscribed handler, each on its own
// goroutine. Safe to call with a nil bus.
func (b *EventBus) Publish(event Event) {
	if b == nil {
		return
	}
	for _, handler := range b.snapshot(event.Type) {
		go handler(event)
	}
}

// PublishSync calls every handler in subscription order on the caller's
// goroutine. Handlers must not publish synchronously back into the bus
// while holding locks the publisher also holds.
func (b *EventBus) PublishSync(event Event) {
	if b == nil {
		return
	}
	for _, handler := range b.snapshot(event.Type) {
		handler(event)
	}
}

func (b *EventBus) snapshot(eventType EventType) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	handlers := make([]Handler, len(b.handlers[eventType]))
	copy(handlers, b.handlers[eventType])
	return handlers
}

// Clear removes all handlers
func (b *EventBus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = make(map[EventType][]Handler)
}
