// Package memory provides the bounded in-process harvest queue used by serve.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/leadharvest/internal/leads"
)

var (
	// ErrClosed is returned once the queue has been shut down.
	ErrClosed = leads.ErrQueueClosed
	// ErrFull is returned by TryEnqueue when no capacity is left.
	ErrFull = errors.New("queue full")
)

// Queue is a bounded in-memory queue with context-aware operations.
type Queue struct {
	ch     chan leads.QueueItem
	mu     sync.RWMutex
	closed bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{ch: make(chan leads.QueueItem, capacity)}
}

// Enqueue pushes an item, blocking until there is room or ctx ends.
func (q *Queue) Enqueue(ctx context.Context, item leads.QueueItem) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- item:
		return nil
	}
}

// TryEnqueue pushes an item without blocking.
func (q *Queue) TryEnqueue(item leads.QueueItem) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case q.ch <- item:
		return nil
	default:
		return ErrFull
	}
}

// Dequeue pops the next item, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (leads.QueueItem, error) {
	select {
	case <-ctx.Done():
		return leads.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case item, ok := <-q.ch:
		if !ok {
			return leads.QueueItem{}, ErrClosed
		}
		return item, nil
	}
}

// Len reports the number of queued items.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops accepting items. Queued items can still be dequeued.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}
