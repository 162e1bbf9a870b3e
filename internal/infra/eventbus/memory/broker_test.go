package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/vulnguard/internal/domain/events"
)

const (
	typeA events.EventType = "A"
	typeB events.EventType = "B"
)

type testEvent struct {
	typ  events.EventType
	name string
	at   time.Time
}

func (e testEvent) EventType() events.EventType { return e.typ }
func (e testEvent) OccurredAt() time.Time       { return e.at }

func newEvent(typ events.EventType, name string) testEvent {
	return testEvent{typ: typ, name: name, at: time.Now()}
}

func TestPublishAndSubscribe(t *testing.T) {
	t.Parallel()

	broker := NewBroker()
	ctx := context.Background()
	var wg sync.WaitGroup
	wg.Add(1)

	expected := newEvent(typeA, "reloaded")

	err := broker.Subscribe(ctx, []events.EventType{typeA}, func(_ context.Context, evt events.EventEnvelope) error {
		defer wg.Done()
		assert.Equal(t, typeA, evt.Type)
		assert.Equal(t, expected, evt.Payload)
		assert.Equal(t, "scan-1", evt.Key)
		return nil
	})
	require.NoError(t, err)

	err = broker.PublishDomainEvent(ctx, expected, events.WithKey("scan-1"))
	require.NoError(t, err)

	wg.Wait()
}

func TestSubscribeFiltersByType(t *testing.T) {
	t.Parallel()

	broker := NewBroker()
	ctx := context.Background()

	var gotA, gotAll int
	require.NoError(t, broker.Subscribe(ctx, []events.EventType{typeA}, func(context.Context, events.EventEnvelope) error {
		gotA++
		return nil
	}))
	require.NoError(t, broker.Subscribe(ctx, nil, func(context.Context, events.EventEnvelope) error {
		gotAll++
		return nil
	}))

	require.NoError(t, broker.PublishDomainEvent(ctx, newEvent(typeA, "a")))
	require.NoError(t, broker.PublishDomainEvent(ctx, newEvent(typeB, "b")))

	assert.Equal(t, 1, gotA)
	assert.Equal(t, 2, gotAll)
}

func TestMultipleSubscribers(t *testing.T) {
	t.Parallel()

	broker := NewBroker()
	ctx := context.Background()
	var wg sync.WaitGroup
	subscriberCount := 3
	wg.Add(subscriberCount)

	evt := newEvent(typeA, "multi")
	for i := 0; i < subscriberCount; i++ {
		err := broker.Subscribe(ctx, []events.EventType{typeA}, func(_ context.Context, got events.EventEnvelope) error {
			defer wg.Done()
			assert.Equal(t, evt, got.Payload)
			return nil
		})
		require.NoError(t, err)
	}

	require.NoError(t, broker.PublishDomainEvent(ctx, evt))
	wg.Wait()
}

func TestHandlerError(t *testing.T) {
	t.Parallel()

	broker := NewBroker()
	ctx := context.Background()
	expectedErr := errors.New("handler error")

	err := broker.Subscribe(ctx, nil, func(context.Context, events.EventEnvelope) error {
		return expectedErr
	})
	require.NoError(t, err)

	err = broker.PublishDomainEvent(ctx, newEvent(typeA, "boom"))
	assert.ErrorIs(t, err, expectedErr)
}

func TestConcurrentPublishSubscribe(t *testing.T) {
	t.Parallel()

	broker := NewBroker()
	ctx := context.Background()
	var wg sync.WaitGroup
	eventCount := 100
	subscriberCount := 5
	wg.Add(eventCount * subscriberCount)

	for i := 0; i < subscriberCount; i++ {
		err := broker.Subscribe(ctx, nil, func(context.Context, events.EventEnvelope) error {
			wg.Done()
			return nil
		})
		require.NoError(t, err)
	}

	for i := 0; i < eventCount; i++ {
		go func(id int) {
			err := broker.PublishDomainEvent(ctx, newEvent(typeA, fmt.Sprintf("evt-%d", id)))
			assert.NoError(t, err)
		}(i)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for handlers")
	}
}

func TestUnsubscribeOnContextDone(t *testing.T) {
	t.Parallel()

	broker := NewBroker()
	subCtx, cancel := context.WithCancel(context.Background())

	var mu sync.Mutex
	calls := 0
	require.NoError(t, broker.Subscribe(subCtx, nil, func(context.Context, events.EventEnvelope) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	}))
	cancel()

	assert.Eventually(t, func() bool {
		broker.mu.RLock()
		defer broker.mu.RUnlock()
		return len(broker.subs) == 0
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, broker.PublishDomainEvent(context.Background(), newEvent(typeA, "late")))
	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, calls)
}

func TestContextCancellation(t *testing.T) {
	t.Parallel()

	broker := NewBroker()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := broker.PublishDomainEvent(ctx, newEvent(typeA, "cancelled"))
	assert.ErrorIs(t, err, context.Canceled)

	err = broker.Subscribe(ctx, nil, func(context.Context, events.EventEnvelope) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClosedBroker(t *testing.T) {
	t.Parallel()

	broker := NewBroker()
	require.NoError(t, broker.Close())

	err := broker.PublishDomainEvent(context.Background(), newEvent(typeA, "closed"))
	assert.ErrorIs(t, err, ErrBrokerClosed)

	err = broker.Subscribe(context.Background(), nil, func(context.Context, events.EventEnvelope) error { return nil })
	assert.ErrorIs(t, err, ErrBrokerClosed)
}
