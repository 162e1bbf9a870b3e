// Package events provides domain event handling capabilities for communicating state changes
// and important activities across component boundaries in a decoupled way.
package events

import "context"

// DomainEventPublisher publishes domain events to notify other parts of the system about
// important domain changes. It decouples event producers from the delivery mechanism.
type DomainEventPublisher interface {
	// PublishDomainEvent sends a domain event to interested subscribers. The provided context
	// controls cancellation and deadlines.
	PublishDomainEvent(ctx context.Context, event DomainEvent, opts ...PublishOption) error
}

// EventBus enables publishing and subscribing to domain events.
type EventBus interface {
	// Publish broadcasts an event to all subscribers of its type.
	Publish(ctx context.Context, event EventEnvelope, opts ...PublishOption) error

	// Subscribe registers a handler function to process events of specified types.
	// The subscription is removed when ctx is done.
	Subscribe(ctx context.Context, eventTypes []EventType, handler HandlerFunc) error

	// Close releases the bus. Publishing after Close fails.
	Close() error
}

// NoopPublisher discards every event.
type NoopPublisher struct{}

// PublishDomainEvent implements DomainEventPublisher.
func (NoopPublisher) PublishDomainEvent(context.Context, DomainEvent, ...PublishOption) error {
	return nil
}
