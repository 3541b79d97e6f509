package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/leadharvest/internal/api"
	"github.com/JakeFAU/leadharvest/internal/dispatcher"
	"github.com/JakeFAU/leadharvest/internal/id/uuid"
	queueMemory "github.com/JakeFAU/leadharvest/internal/queue/memory"
	memorystorage "github.com/JakeFAU/leadharvest/internal/storage/memory"
	"github.com/JakeFAU/leadharvest/internal/worker"
)

const shutdownTimeout = 10 * time.Second

// Service is the HTTP harvest service: an API in front of a queue drained by
// a worker pool.
type Service struct {
	app      *App
	queue    *queueMemory.Queue
	dispatch *dispatcher.Dispatcher
	api      *api.Server
}

// Service assembles the harvest service on top of the App's pipeline.
func (a *App) Service(runner worker.Runner) *Service {
	if runner == nil {
		runner = a.Pipeline
	}
	harvests := memorystorage.NewHarvestStore(a.clock)
	queue := queueMemory.NewQueue(a.cfg.Service.QueueDepth)
	workerCfg := worker.Config{
		ExportPrefix: a.cfg.Export.Prefix,
		Topic:        a.cfg.PubSub.TopicName,
	}
	workers := make([]dispatcher.Consumer, 0, a.cfg.Service.Workers)
	for i := range a.cfg.Service.Workers {
		workers = append(workers, worker.New(
			queue,
			harvests,
			runner,
			a.Blobs,
			a.Publisher,
			a.clock,
			workerCfg,
			a.logger.With(zap.Int("worker", i)),
		))
	}
	a.logger.Info("worker pool configured",
		zap.Int("workers", len(workers)),
		zap.Int("queue_depth", a.cfg.Service.QueueDepth),
		zap.String("export_prefix", workerCfg.ExportPrefix),
		zap.String("topic", workerCfg.Topic),
	)
	dispatch := dispatcher.New(queue, workers)
	return &Service{
		app:      a,
		queue:    queue,
		dispatch: dispatch,
		api:      api.NewServer(harvests, dispatch, uuid.New("harvest-"), a.clock, a.cfg, a.logger),
	}
}

// Handler returns the service's HTTP handler.
func (s *Service) Handler() http.Handler {
	return s.api.Handler()
}

// Run serves on listener until ctx is canceled, then drains in-flight
// requests and stops the workers.
func (s *Service) Run(ctx context.Context, listener net.Listener) error {
	logger := s.app.logger
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		logger.Info("dispatcher started")
		s.dispatch.Run(ctx)
	}()

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.String("addr", listener.Addr().String()))
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	s.queue.Close()
	<-dispatchDone
	logger.Info("shutdown complete")

	select {
	case err := <-serveErr:
		return fmt.Errorf("serve http: %w", err)
	default:
		return nil
	}
}

// ListenAndRun binds the configured port and calls Run.
func (s *Service) ListenAndRun(ctx context.Context) error {
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", fmt.Sprintf(":%d", s.app.cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", s.app.cfg.Server.Port, err)
	}
	return s.Run(ctx, listener)
}
