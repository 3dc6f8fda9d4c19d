// Package eventbus implements the broadcast channel that subsystems use
// to publish event envelopes which the stdio bridge forwards to stdout.
package eventbus

import (
	"sync"

	"github.com/saorsa-labs/fae/internal/domain/valueobject"
	"go.uber.org/zap"
)

// Bus fans a single stream of event envelopes out to any number of
// subscribers (in practice: one, the stdio bridge's event forwarder).
// Publish never blocks: a subscriber whose buffer is full drops the
// event and logs a warning rather than stalling the publisher.
type Bus interface {
	Publish(evt valueobject.Event)
	Subscribe() (<-chan valueobject.Event, func())
	Close()
}

const defaultSubscriberBuffer = 256

// InMemoryBus is the default Bus implementation: a mutex-protected set
// of subscriber channels, each independently buffered.
type InMemoryBus struct {
	mu          sync.Mutex
	subscribers map[int]chan valueobject.Event
	nextID      int
	closed      bool
	logger      *zap.Logger
	bufferSize  int
}

// NewInMemoryBus creates a bus whose subscriber channels are buffered to
// bufferSize (or defaultSubscriberBuffer when bufferSize <= 0).
func NewInMemoryBus(logger *zap.Logger, bufferSize int) *InMemoryBus {
	if bufferSize <= 0 {
		bufferSize = defaultSubscriberBuffer
	}
	return &InMemoryBus{
		subscribers: make(map[int]chan valueobject.Event),
		logger:      logger,
		bufferSize:  bufferSize,
	}
}

// Publish delivers evt to every current subscriber, dropping it for any
// subscriber whose buffer is already full.
func (b *InMemoryBus) Publish(evt valueobject.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	for id, ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
			b.logger.Warn("event subscriber buffer full, dropping event",
				zap.Int("subscriber_id", id),
				zap.String("event", evt.Event),
			)
		}
	}
}

// Subscribe registers a new subscriber and returns its channel along
// with an unsubscribe function that closes and removes it.
func (b *InMemoryBus) Subscribe() (<-chan valueobject.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan valueobject.Event, b.bufferSize)
	b.subscribers[id] = ch

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if existing, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(existing)
		}
	}
	return ch, unsubscribe
}

// Close shuts down the bus, closing every subscriber channel.
func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
}
