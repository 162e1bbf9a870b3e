package events

import "time"

// DomainEvent is implemented by every strongly typed event raised by the domain.
type DomainEvent interface {
	EventType() EventType
	OccurredAt() time.Time
}

// EventEnvelope encapsulates event data flowing through the system, providing
// a standardized format for event processing and distribution.
type EventEnvelope struct {
	// Type identifies the category of this event for routing and handling.
	Type EventType

	// Key groups related events, typically a business identifier such as a scan id.
	Key string

	// Headers contain metadata key-value pairs attached to the event.
	Headers map[string]string

	// Timestamp records when this event was created.
	Timestamp time.Time

	// Payload contains the actual event data. The concrete type depends on the EventType.
	Payload DomainEvent
}

// NewEnvelope wraps evt for delivery.
func NewEnvelope(evt DomainEvent, opts ...PublishOption) EventEnvelope {
	p := ApplyOptions(opts...)
	return EventEnvelope{
		Type:      evt.EventType(),
		Key:       p.Key,
		Headers:   p.Headers,
		Timestamp: evt.OccurredAt(),
		Payload:   evt,
	}
}
