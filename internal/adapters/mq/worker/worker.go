// Package worker runs the single consumer that drains a node's inbox.
package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/okian/hrvlink/pkg/logger"
	"github.com/okian/hrvlink/pkg/metrics"
)

// Queue defines how the worker receives inputs.
type Queue[T any] interface {
	Dequeue(ctx context.Context) <-chan T
}

// Handler processes one input. Calls never overlap.
type Handler[T any] interface {
	Handle(ctx context.Context, item T)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc[T any] func(ctx context.Context, item T)

func (f HandlerFunc[T]) Handle(ctx context.Context, item T) { f(ctx, item) }

// InMemoryWorker handles inputs one at a time in dequeue order, so the
// handler's state needs no locking.
type InMemoryWorker[T any] struct {
	queue   Queue[T]
	handler Handler[T]
	name    string

	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a worker draining q into h.
func NewInMemoryWorker[T any](q Queue[T], h Handler[T], opts ...Option) *InMemoryWorker[T] {
	o := options{name: "worker"}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logger.Named(o.name)
	}

	return &InMemoryWorker[T]{
		queue:    q,
		handler:  h,
		name:     o.name,
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		logger:   o.logger,
	}
}

// Run drains the queue until ctx is canceled, Shutdown is called, or the
// queue is closed and empty.
func (w *InMemoryWorker[T]) Run(ctx context.Context) {
	defer close(w.done)

	w.logger.Debug(ctx, "worker started", logger.String("worker", w.name))
	items := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case item, ok := <-items:
			if !ok {
				return
			}
			metrics.UpdateInboxSize(len(items))
			w.process(ctx, item)
		}
	}
}

// process shields the loop from a panicking handler.
func (w *InMemoryWorker[T]) process(ctx context.Context, item T) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error(ctx, "handler panicked", logger.String("worker", w.name), logger.Any("panic", r))
		}
	}()
	w.handler.Handle(ctx, item)
}

// Shutdown stops the loop and waits for the current item to finish.
func (w *InMemoryWorker[T]) Shutdown(ctx context.Context) error {
	w.shutdownOnce.Do(func() { close(w.shutdown) })

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out", logger.String("worker", w.name))
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// Done is closed when Run returns.
func (w *InMemoryWorker[T]) Done() <-chan struct{} { return w.done }
