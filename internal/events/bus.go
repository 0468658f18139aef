// Package events provides an in-process pub/sub bus for job lifecycle events.
package events

import (
	"sync"
	"time"
)

// Type identifies a lifecycle event.
type Type string

const (
	JobProcessing      Type = "job:processing"
	JobSucceeded       Type = "job:succeeded"
	JobFailed          Type = "job:failed"
	JobTimeout         Type = "job:timeout"
	JobWaitingApproval Type = "job:waiting_approval"
	JobDeadLettered    Type = "job:dead_lettered"
)

// Event carries a lifecycle notification.
type Event struct {
	Type      Type              `json:"type"`
	JobID     string            `json:"job_id"`
	Fields    map[string]string `json:"fields,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Handler receives published events. Handlers run synchronously on the
// publisher's goroutine and must not block.
type Handler func(Event)

// Bus is a simple fan-out event bus.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Type][]Handler
	all      []Handler
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[Type][]Handler),
	}
}

// Subscribe registers a handler for a specific event type.
func (b *Bus) Subscribe(t Type, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], h)
}

// SubscribeAll registers a handler for every event type.
func (b *Bus) SubscribeAll(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, h)
}

// Publish delivers an event to all matching handlers.
func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	typed := b.handlers[e.Type]
	all := b.all
	b.mu.RUnlock()

	for _, h := range typed {
		h(e)
	}
	for _, h := range all {
		h(e)
	}
}
