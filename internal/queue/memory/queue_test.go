package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/leadharvest/internal/leads"
)

func TestQueueEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	result := make(chan leads.QueueItem, 1)
	errCh := make(chan error, 1)

	go func() {
		item, err := q.Dequeue(context.Background())
		if err != nil {
			errCh <- err
			return
		}
		result <- item
	}()

	require.NoError(t, q.Enqueue(context.Background(), leads.QueueItem{HarvestID: "hv-1", Query: "lawyers"}))
	select {
	case err := <-errCh:
		t.Fatalf("Dequeue() error = %v", err)
	case got := <-result:
		require.Equal(t, "hv-1", got.HarvestID)
		require.Equal(t, "lawyers", got.Query)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return item")
	}
}

func TestQueueCancelationErrors(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewQueue(1).Dequeue(ctx)
	require.ErrorIs(t, err, context.Canceled)

	full := NewQueue(1)
	require.NoError(t, full.Enqueue(context.Background(), leads.QueueItem{HarvestID: "primed"}))
	err = full.Enqueue(ctx, leads.QueueItem{})
	require.ErrorIs(t, err, context.Canceled)
	require.ErrorIs(t, full.TryEnqueue(leads.QueueItem{}), ErrFull)
	require.Equal(t, 1, full.Len())
}

func TestQueueCloseDrainsThenReportsClosed(t *testing.T) {
	t.Parallel()

	q := NewQueue(2)
	require.NoError(t, q.TryEnqueue(leads.QueueItem{HarvestID: "hv-1"}))
	q.Close()
	q.Close()

	require.True(t, errors.Is(q.TryEnqueue(leads.QueueItem{}), ErrClosed))
	require.ErrorIs(t, q.Enqueue(context.Background(), leads.QueueItem{}), ErrClosed)

	item, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "hv-1", item.HarvestID)

	_, err = q.Dequeue(context.Background())
	require.ErrorIs(t, err, ErrClosed)
}
