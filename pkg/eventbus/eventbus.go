package eventbus

import (
	"reflect"
	"sync"
)

// Handler is a function that handles an event.
type Handler func(event any)

// EventBus provides in-process pub/sub, keyed by event type. It decouples the
// order manager from fan-out consumers (websocket stream, alert publisher)
// so a slow consumer never sits on the order path.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[reflect.Type][]Handler
}

// New creates a new EventBus.
func New() *EventBus {
	return &EventBus{handlers: make(map[reflect.Type][]Handler)}
}

// Subscribe registers a handler for the concrete type of eventType.
func (e *EventBus) Subscribe(eventType any, handler Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t := reflect.TypeOf(eventType)
	e.handlers[t] = append(e.handlers[t], handler)
}

// Publish delivers an event to all subscribers asynchronously.
func (e *EventBus) Publish(event any) {
	for _, h := range e.subscribers(event) {
		go h(event)
	}
}

// PublishSync delivers an event to all subscribers on the calling goroutine.
// Used in tests and shutdown paths where delivery must complete.
func (e *EventBus) PublishSync(event any) {
	for _, h := range e.subscribers(event) {
		h(event)
	}
}

// SubscriberCount returns the number of subscribers for an event type.
func (e *EventBus) SubscriberCount(eventType any) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.handlers[reflect.TypeOf(eventType)])
}

func (e *EventBus) subscribers(event any) []Handler {
	e.mu.RLock()
	defer e.mu.RUnlock()
	hs := e.handlers[reflect.TypeOf(event)]
	out := make([]Handler, len(hs))
	copy(out, hs)
	return out
}
