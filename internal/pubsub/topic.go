// Package pubsub provides a small in-memory observable used by the
// synchronizer stores to publish state changes to the presentation layer.
package pubsub

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 64

// Topic fans out values of type T to every current subscriber.
// Publish never blocks: values are dropped for subscribers whose buffer is full.
type Topic[T any] struct {
	name   string
	mu     sync.RWMutex
	subs   map[string]chan T
	logger *slog.Logger
}

// NewTopic creates a topic. Pass nil logger for default.
func NewTopic[T any](name string, logger *slog.Logger) *Topic[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Topic[T]{
		name:   name,
		subs:   make(map[string]chan T),
		logger: logger.With("component", "pubsub", "topic", name),
	}
}

// Subscribe registers a subscriber and returns its channel. The subscription
// is removed and the channel closed when ctx is cancelled.
func (t *Topic[T]) Subscribe(ctx context.Context) <-chan T {
	id := uuid.New().String()
	ch := make(chan T, subscriberBufferSize)

	t.mu.Lock()
	t.subs[id] = ch
	t.mu.Unlock()

	go func() {
		<-ctx.Done()
		t.unsubscribe(id)
	}()
	return ch
}

// Publish delivers v to all subscribers.
func (t *Topic[T]) Publish(v T) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for id, ch := range t.subs {
		select {
		case ch <- v:
		default:
			t.logger.Debug("dropped value for slow subscriber", "sub_id", id)
		}
	}
}

// Len returns the number of active subscribers.
func (t *Topic[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subs)
}

func (t *Topic[T]) unsubscribe(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ch, ok := t.subs[id]
	if !ok {
		return
	}
	delete(t.subs, id)
	close(ch)
}
