package bus

import (
	"context"
	"errors"
	"sync/atomic"

	"main/internal/model"
)

var (
	ErrQueueFull   = errors.New("intent queue full")
	ErrQueueClosed = errors.New("intent queue closed")
)

// Queue is a bounded, non-blocking intent queue. Producers (scheduler,
// market data listener, control surface) never block on a slow consumer.
type Queue struct {
	ch     chan model.Intent
	closed uint32
}

// NewQueue allocates a queue with the given capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{ch: make(chan model.Intent, capacity)}
}

// TryPublish enqueues an intent without blocking.
func (q *Queue) TryPublish(intent model.Intent) error {
	if atomic.LoadUint32(&q.closed) != 0 {
		return ErrQueueClosed
	}
	select {
	case q.ch <- intent:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops the queue from accepting new intents.
func (q *Queue) Close() {
	if atomic.CompareAndSwapUint32(&q.closed, 0, 1) {
		close(q.ch)
	}
}

// Run consumes intents until the context is done or the queue is closed.
func (q *Queue) Run(ctx context.Context, handler func(model.Intent)) {
	for {
		select {
		case <-ctx.Done():
			return
		case intent, ok := <-q.ch:
			if !ok {
				return
			}
			handler(intent)
		}
	}
}
