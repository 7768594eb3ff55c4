// Package events implements the per-client publish/subscribe channel used to
// report session and secret lifecycle events.
package events

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Well-known topics.
const (
	// TopicError carries background failures such as exhausted fetch retries.
	TopicError = "error"

	// TopicLoginError carries authentication failures.
	TopicLoginError = "error:login"

	// TopicLogin is emitted after every successful login or token renewal.
	TopicLogin = "login"

	secretTopicPrefix = "secret:"
)

// SecretTopic returns the topic on which values fetched for address are emitted.
func SecretTopic(address string) string {
	return secretTopicPrefix + address
}

// Event is a single emission on the bus.
type Event struct {
	Topic      string
	Payload    any
	OccurredAt time.Time
}

// Handler processes an event. Returned errors are logged and never stop
// delivery to the remaining handlers.
type Handler func(ctx context.Context, event Event) error

type subscription struct {
	id      uint64
	handler Handler
}

// Bus dispatches events synchronously to the handlers subscribed to a topic,
// in subscription order. A Bus belongs to one client instance.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]subscription
	nextID   uint64
	logger   *slog.Logger
	now      func() time.Time
}

// NewBus creates an empty bus. A nil logger disables logging.
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		handlers: make(map[string][]subscription),
		logger:   logger,
		now:      time.Now,
	}
}

// SetTimeSource overrides the function used to stamp events.
func (b *Bus) SetTimeSource(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

// Subscribe registers h for topic and returns a function that removes it.
func (b *Bus) Subscribe(topic string, h Handler) (cancel func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.handlers[topic] = append(b.handlers[topic], subscription{id: id, handler: h})

	if b.logger != nil {
		b.logger.Debug("handler subscribed", "topic", topic)
	}

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(topic, id) })
	}
}

func (b *Bus) remove(topic string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.handlers[topic]
	for i, s := range subs {
		if s.id != id {
			continue
		}
		// Copy so that an Emit iterating the old slice is unaffected.
		next := make([]subscription, 0, len(subs)-1)
		next = append(next, subs[:i]...)
		next = append(next, subs[i+1:]...)
		if len(next) == 0 {
			delete(b.handlers, topic)
		} else {
			b.handlers[topic] = next
		}
		return
	}
}

// Unsubscribe removes every handler for topic.
func (b *Bus) Unsubscribe(topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, topic)
}

// Emit delivers payload to every handler of topic on the calling goroutine.
// Emitting on a topic with no handlers is a no-op.
func (b *Bus) Emit(ctx context.Context, topic string, payload any) {
	b.mu.RLock()
	subs := b.handlers[topic]
	now := b.now
	b.mu.RUnlock()

	if len(subs) == 0 {
		if b.logger != nil {
			b.logger.Debug("no handlers for event", "topic", topic)
		}
		return
	}

	event := Event{Topic: topic, Payload: payload, OccurredAt: now()}
	for i, s := range subs {
		if err := s.handler(ctx, event); err != nil && b.logger != nil {
			b.logger.Warn("event handler failed",
				"topic", topic,
				"handler_index", i,
				"error", err,
			)
		}
	}
}

// HandlerCount returns the number of handlers subscribed to topic.
func (b *Bus) HandlerCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[topic])
}

// Topics returns the sorted list of topics that have handlers.
func (b *Bus) Topics() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	topics := make([]string, 0, len(b.handlers))
	for t := range b.handlers {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics
}
