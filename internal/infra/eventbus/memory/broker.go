// Package memory provides an in-memory implementation of the event bus.
// It offers a lightweight, non-persistent broker used to fan catalog and scan
// notifications out to watchers within a single process.
package memory

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/ahrav/vulnguard/internal/domain/events"
)

// ErrBrokerClosed is returned when publishing to or subscribing on a closed broker.
var ErrBrokerClosed = errors.New("broker closed")

type subscription struct {
	id      uint64
	types   []events.EventType
	handler events.HandlerFunc
}

func (s subscription) wants(t events.EventType) bool {
	return len(s.types) == 0 || slices.Contains(s.types, t)
}

// Broker provides an in-memory implementation of events.EventBus and
// events.DomainEventPublisher. Handlers run synchronously on the publishing
// goroutine, in subscription order.
type Broker struct {
	mu     sync.RWMutex
	nextID uint64
	subs   []subscription
	closed bool
}

var (
	_ events.EventBus             = (*Broker)(nil)
	_ events.DomainEventPublisher = (*Broker)(nil)
)

// NewBroker creates and initializes a new in-memory event broker.
func NewBroker() *Broker { return new(Broker) }

// Subscribe registers handler for the given event types. An empty type list
// subscribes to every event. The handler is removed once ctx is done.
func (b *Broker) Subscribe(ctx context.Context, eventTypes []events.EventType, handler events.HandlerFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if handler == nil {
		return errors.New("handler cannot be nil")
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBrokerClosed
	}
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, types: slices.Clone(eventTypes), handler: handler})
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.unsubscribe(id)
	}()

	return nil
}

func (b *Broker) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = slices.DeleteFunc(b.subs, func(s subscription) bool { return s.id == id })
}

// Publish delivers evt to every matching handler, stopping at the first error.
// The handlers are copied before iteration so a handler may itself subscribe
// or publish without deadlocking.
func (b *Broker) Publish(ctx context.Context, evt events.EventEnvelope, opts ...events.PublishOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if len(opts) > 0 {
		p := events.ApplyOptions(opts...)
		if p.Key != "" {
			evt.Key = p.Key
		}
		if len(p.Headers) > 0 {
			evt.Headers = p.Headers
		}
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBrokerClosed
	}
	handlers := make([]events.HandlerFunc, 0, len(b.subs))
	for _, s := range b.subs {
		if s.wants(evt.Type) {
			handlers = append(handlers, s.handler)
		}
	}
	b.mu.RUnlock()

	for _, handler := range handlers {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := handler(ctx, evt); err != nil {
			return err
		}
	}
	return nil
}

// PublishDomainEvent wraps event in an envelope and publishes it.
func (b *Broker) PublishDomainEvent(ctx context.Context, event events.DomainEvent, opts ...events.PublishOption) error {
	return b.Publish(ctx, events.NewEnvelope(event, opts...))
}

// Close drops every subscription. Subsequent calls are no-ops.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = nil
	return nil
}
