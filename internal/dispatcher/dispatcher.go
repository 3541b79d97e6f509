// Package dispatcher fans queued harvests out to a pool of workers.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/leadharvest/internal/leads"
)

// Consumer drains the queue until its context ends. *worker.Worker satisfies it.
type Consumer interface {
	Run(ctx context.Context)
}

// Dispatcher owns the harvest queue and the workers reading from it.
type Dispatcher struct {
	queue   leads.Queue
	workers []Consumer
}

// New creates a Dispatcher.
func New(queue leads.Queue, workers []Consumer) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		workers: workers,
	}
}

// Run starts all workers and blocks until the context finishes and every
// worker has returned.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(ctx)
		}()
	}
	<-ctx.Done()
	wg.Wait()
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, item leads.QueueItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

// Workers reports the size of the pool.
func (d *Dispatcher) Workers() int {
	return len(d.workers)
}
