// Package events provides the in-process event bus used to decouple the
// engine's state transitions from notification dispatch. The bus is an
// explicit dependency handed to each service at construction; there is no
// process-wide listener registry.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/concord-io/concord/pkg/observability"
)

// EventType identifies a class of engine event
type EventType string

// Engine event types
const (
	EventBookingAdmitted     EventType = "booking.admitted"
	EventBookingDenied       EventType = "booking.denied"
	EventBookingProvisional  EventType = "booking.pending_negotiation"
	EventConflictDetected    EventType = "conflict.detected"
	EventNegotiationResolved EventType = "negotiation.resolved"
	EventNegotiationPending  EventType = "negotiation.pending_approval"
	EventNegotiationEscalate EventType = "negotiation.escalated"
	EventCascadeApplied      EventType = "schedule.cascade_applied"
)

// Event is a single engine occurrence published on the bus
type Event struct {
	ID        uuid.UUID              `json:"id"`
	Type      EventType              `json:"type"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Handler processes a published event. Handler errors are logged and never
// propagate back to the publisher.
type Handler func(ctx context.Context, event *Event) error

// Bus dispatches events to subscribed handlers
type Bus interface {
	Publish(ctx context.Context, eventType EventType, payload map[string]interface{})
	Subscribe(eventType EventType, handler Handler)
	Close()
}

// MemoryBus is the default in-process Bus implementation. Handlers run on
// a single dispatch goroutine so subscribers observe events in publish order.
type MemoryBus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	queue    chan *Event
	done     chan struct{}
	closed   bool
	logger   observability.Logger
}

// NewMemoryBus creates a bus with the given queue depth.
func NewMemoryBus(queueSize int, logger observability.Logger) *MemoryBus {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	b := &MemoryBus{
		handlers: make(map[EventType][]Handler),
		queue:    make(chan *Event, queueSize),
		done:     make(chan struct{}),
		logger:   logger.WithPrefix("events"),
	}
	go b.dispatch()
	return b
}

// Publish enqueues an event. Publishing never blocks the caller's state
// transition: when the queue is full the event is dropped and logged.
// The read lock is held across the send so Close cannot close the queue
// underneath an in-flight enqueue.
func (b *MemoryBus) Publish(ctx context.Context, eventType EventType, payload map[string]interface{}) {
	event := &Event{
		ID:        uuid.New(),
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	select {
	case b.queue <- event:
	default:
		b.logger.Warn("event queue full, dropping event", map[string]interface{}{
			"event_type": eventType,
		})
	}
}

// Subscribe registers a handler for an event type.
func (b *MemoryBus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// Close stops dispatch after draining queued events.
func (b *MemoryBus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	close(b.queue)
	<-b.done
}

func (b *MemoryBus) dispatch() {
	defer close(b.done)
	for event := range b.queue {
		b.mu.RLock()
		handlers := make([]Handler, len(b.handlers[event.Type]))
		copy(handlers, b.handlers[event.Type])
		b.mu.RUnlock()

		for _, h := range handlers {
			if err := h(context.Background(), event); err != nil {
				b.logger.Error("event handler failed", map[string]interface{}{
					"event_type": event.Type,
					"event_id":   event.ID,
					"error":      err.Error(),
				})
			}
		}
	}
}
