// Package eventbus is the in-process pub/sub spine between the push-channel
// generators and the subscriber transports. Topics are channel names; a
// single dispatch goroutine preserves publication order per topic.
package eventbus

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event is one published payload.
type Event struct {
	Topic     string
	Payload   []byte
	Batch     int64
	Timestamp time.Time
}

// Handler consumes events for a topic. Handlers must not block: slow
// subscribers buffer or drop on their own side.
type Handler func(ctx context.Context, event Event)

// Bus is the pub/sub capability handed to producers and transports.
type Bus interface {
	// Publish enqueues an event; it never blocks the producer. A full
	// buffer drops the event with a warning.
	Publish(ctx context.Context, event Event)
	// Subscribe registers a handler for a topic ("*" for all topics) and
	// returns a handle for removal.
	Subscribe(topic string, handler Handler) *Subscription
	// Unsubscribe removes a previously returned subscription.
	Unsubscribe(sub *Subscription)
	// Close drains and stops the dispatch loop.
	Close()
}

// Subscription identifies one registered handler.
type Subscription struct {
	topic   string
	id      int64
	handler Handler
}

type eventWrapper struct {
	ctx   context.Context
	event Event
}

// InMemoryBus is the process-local Bus.
type InMemoryBus struct {
	mu        sync.RWMutex
	handlers  map[string][]*Subscription
	nextID    int64
	eventChan chan eventWrapper
	closed    bool
	logger    *zap.Logger
	wg        sync.WaitGroup
}

// NewInMemoryBus creates a bus with the given buffer size and starts its
// dispatch goroutine.
func NewInMemoryBus(logger *zap.Logger, bufferSize int) *InMemoryBus {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	bus := &InMemoryBus{
		handlers:  make(map[string][]*Subscription),
		eventChan: make(chan eventWrapper, bufferSize),
		logger:    logger.With(zap.String("component", "eventbus")),
	}
	bus.wg.Add(1)
	go bus.dispatch()
	return bus
}

// Compile-time interface check
var _ Bus = (*InMemoryBus)(nil)

// Publish implements Bus.
func (b *InMemoryBus) Publish(ctx context.Context, event Event) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	b.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventChan <- eventWrapper{ctx: ctx, event: event}:
	default:
		b.logger.Warn("Event buffer full, dropping event",
			zap.String("topic", event.Topic),
		)
	}
}

// Subscribe implements Bus.
func (b *InMemoryBus) Subscribe(topic string, handler Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{topic: topic, id: b.nextID, handler: handler}
	b.handlers[topic] = append(b.handlers[topic], sub)
	return sub
}

// Unsubscribe implements Bus.
func (b *InMemoryBus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.handlers[sub.topic]
	for i, s := range subs {
		if s.id == sub.id {
			b.handlers[sub.topic] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(b.handlers[sub.topic]) == 0 {
		delete(b.handlers, sub.topic)
	}
}

// Close implements Bus.
func (b *InMemoryBus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.eventChan)
	b.mu.Unlock()

	b.wg.Wait()
	b.logger.Info("Event bus closed")
}

func (b *InMemoryBus) dispatch() {
	defer b.wg.Done()
	for wrapper := range b.eventChan {
		b.dispatchEvent(wrapper.ctx, wrapper.event)
	}
}

// dispatchEvent runs every matching handler sequentially so a topic's
// events reach each handler in publication order.
func (b *InMemoryBus) dispatchEvent(ctx context.Context, event Event) {
	b.mu.RLock()
	subs := make([]*Subscription, 0)
	subs = append(subs, b.handlers[event.Topic]...)
	subs = append(subs, b.handlers["*"]...)
	b.mu.RUnlock()

	for _, sub := range subs {
		sub.handler(ctx, event)
	}
}
