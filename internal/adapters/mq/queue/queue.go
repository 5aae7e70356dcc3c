package queue

import (
	"context"
	"sync"

	"github.com/okian/hrvlink/pkg/metrics"
)

const defaultQueueCapacity = 1024

// Queue is a bounded FIFO of inputs for a single consumer.
type Queue[T any] interface {
	// Enqueue adds item without blocking. A full or closed queue rejects it.
	Enqueue(ctx context.Context, item T) error

	// Dequeue returns the channel the consumer reads from. It is closed by Close.
	Dequeue(ctx context.Context) <-chan T

	Len(ctx context.Context) int

	Close() error

	IsClosed() bool
}

// InMemoryQueue implements Queue with a buffered channel.
type InMemoryQueue[T any] struct {
	items    chan T
	capacity int

	mu     sync.RWMutex
	closed bool
}

// NewInMemoryQueue creates a queue with the given options.
func NewInMemoryQueue[T any](opts ...Option) *InMemoryQueue[T] {
	o := options{capacity: defaultQueueCapacity}
	for _, opt := range opts {
		opt(&o)
	}

	metrics.UpdateInboxSize(0)

	return &InMemoryQueue[T]{
		items:    make(chan T, o.capacity),
		capacity: o.capacity,
	}
}

// Enqueue adds item unless the queue is full, closed or ctx is done.
func (q *InMemoryQueue[T]) Enqueue(ctx context.Context, item T) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordInboxDrop("closed")
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		metrics.RecordInboxDrop("context_cancelled")
		return err
	}

	select {
	case q.items <- item:
		metrics.UpdateInboxSize(len(q.items))
		return nil
	default:
		metrics.RecordInboxDrop("full")
		return ErrFull
	}
}

// Dequeue returns the underlying channel; items are received in enqueue order.
func (q *InMemoryQueue[T]) Dequeue(_ context.Context) <-chan T {
	return q.items
}

// Len returns the number of buffered items.
func (q *InMemoryQueue[T]) Len(_ context.Context) int {
	size := len(q.items)
	metrics.UpdateInboxSize(size)
	return size
}

// Capacity returns the configured bound.
func (q *InMemoryQueue[T]) Capacity() int { return q.capacity }

// Close stops accepting items. Buffered items remain readable.
func (q *InMemoryQueue[T]) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	close(q.items)
	q.closed = true
	return nil
}

func (q *InMemoryQueue[T]) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
