// Package worker runs queued harvests through the pipeline.
package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/leadharvest/internal/export"
	"github.com/JakeFAU/leadharvest/internal/leads"
	"github.com/JakeFAU/leadharvest/internal/metrics"
)

// Runner executes one harvest. *pipeline.Pipeline satisfies it.
type Runner interface {
	Run(ctx context.Context, query string, maxBusinesses int) (leads.HarvestResult, error)
}

// Config controls Worker behavior.
type Config struct {
	ExportPrefix string
	Topic        string
}

// Worker consumes queue items and executes harvests.
type Worker struct {
	queue     leads.Queue
	harvests  leads.HarvestStore
	runner    Runner
	blobs     leads.BlobStore
	publisher leads.Publisher
	clock     leads.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker. blobs and publisher may be nil.
func New(
	queue leads.Queue,
	harvests leads.HarvestStore,
	runner Runner,
	blobs leads.BlobStore,
	publisher leads.Publisher,
	clock leads.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:     queue,
		harvests:  harvests,
		runner:    runner,
		blobs:     blobs,
		publisher: publisher,
		clock:     clock,
		cfg:       cfg,
		logger:    logger.Named("worker"),
	}
}

// Run blocks, consuming queue items until the context finishes or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, leads.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued harvest", zap.String("harvest_id", item.HarvestID))
		w.processHarvest(ctx, item)
	}
}

func (w *Worker) processHarvest(ctx context.Context, item leads.QueueItem) {
	logger := w.logger.With(zap.String("harvest_id", item.HarvestID), zap.String("query", item.Query))
	if w.runner == nil {
		logger.Error("no pipeline configured")
		w.finish(ctx, item, leads.HarvestFailed, "no pipeline configured", leads.HarvestCounter{})
		return
	}
	if err := w.harvests.UpdateHarvest(ctx, item.HarvestID, leads.HarvestRunning, "", leads.HarvestCounter{}); err != nil {
		logger.Error("update harvest status failed", zap.Error(err))
		return
	}

	metrics.IncActiveWorkers()
	result, runErr := w.runner.Run(ctx, item.Query, item.MaxBusinesses)
	metrics.DecActiveWorkers()

	errText := ""
	if runErr != nil {
		errText = runErr.Error()
		logger.Error("harvest failed", zap.Error(runErr))
	}

	if result.Contacts != nil {
		// Results are stored even for partial runs; the context may already be done.
		saveCtx := context.WithoutCancel(ctx)
		if err := w.harvests.SaveResult(saveCtx, item.HarvestID, result.Contacts); err != nil {
			logger.Error("save harvest result failed", zap.Error(err))
		}
		if uri, err := w.exportResult(saveCtx, item, result); err != nil {
			logger.Warn("export harvest result failed", zap.Error(err))
		} else if uri != "" {
			logger.Info("harvest exported", zap.String("uri", uri))
		}
	}

	status := deriveFinalStatus(ctx, runErr)
	w.finish(ctx, item, status, errText, result.Counters)
}

func (w *Worker) finish(ctx context.Context, item leads.QueueItem, status leads.HarvestStatus, errText string, counters leads.HarvestCounter) {
	finishCtx := context.WithoutCancel(ctx)
	if err := w.harvests.UpdateHarvest(finishCtx, item.HarvestID, status, errText, counters); err != nil {
		w.logger.Error("final harvest status update failed", zap.String("harvest_id", item.HarvestID), zap.Error(err))
	}
	metrics.ObserveHarvest(string(status))
	w.publishCompletion(finishCtx, item, status, counters)
}

func (w *Worker) exportResult(ctx context.Context, item leads.QueueItem, result leads.HarvestResult) (string, error) {
	if w.blobs == nil {
		return "", nil
	}
	path := export.ObjectPath(w.cfg.ExportPrefix, item.Query, w.now())
	return export.Store(ctx, w.blobs, path, export.Document(result.Contacts))
}

func (w *Worker) publishCompletion(ctx context.Context, item leads.QueueItem, status leads.HarvestStatus, counters leads.HarvestCounter) {
	if w.cfg.Topic == "" || w.publisher == nil {
		return
	}
	payload := map[string]any{
		"harvest_id": item.HarvestID,
		"query":      item.Query,
		"status":     status,
		"counters":   counters,
		"timestamp":  w.now().Format(time.RFC3339),
	}
	if _, err := w.publisher.Publish(ctx, w.cfg.Topic, payload); err != nil {
		w.logger.Warn("publish harvest completion failed", zap.String("harvest_id", item.HarvestID), zap.Error(err))
	}
}

func (w *Worker) now() time.Time {
	if w.clock == nil {
		return time.Now().UTC()
	}
	return w.clock.Now()
}

func deriveFinalStatus(ctx context.Context, runErr error) leads.HarvestStatus {
	switch {
	case ctx.Err() != nil || errors.Is(runErr, context.Canceled):
		return leads.HarvestCanceled
	case runErr != nil:
		return leads.HarvestFailed
	default:
		return leads.HarvestSucceeded
	}
}
