package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/leadharvest/internal/config"
	"github.com/JakeFAU/leadharvest/internal/dispatcher"
	"github.com/JakeFAU/leadharvest/internal/leads"
	"github.com/JakeFAU/leadharvest/internal/metrics"
)

const (
	requestTimeout = 60 * time.Second
	enqueueTimeout = 5 * time.Second
	maxBodyBytes   = 1 << 16
)

// Server wires HTTP handlers to the dispatcher and harvest store.
type Server struct {
	router     chi.Router
	harvests   leads.HarvestStore
	dispatcher *dispatcher.Dispatcher
	idGen      leads.IDGenerator
	clock      leads.Clock
	cfg        config.Config
	validate   *validator.Validate
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	harvests leads.HarvestStore,
	dispatcher *dispatcher.Dispatcher,
	idGen leads.IDGenerator,
	clock leads.Clock,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		harvests:   harvests,
		dispatcher: dispatcher,
		idGen:      idGen,
		clock:      clock,
		cfg:        cfg,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		logger:     logger.Named("api"),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(requestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Route("/harvests", func(r chi.Router) {
			r.Post("/", s.submitHarvest)
			r.Route("/{harvest_id}", func(r chi.Router) {
				r.Get("/", s.getHarvest)
				r.Get("/result", s.getHarvestResult)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.dispatcher == nil || s.dispatcher.Workers() == 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "no workers"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type harvestRequest struct {
	Query         string `json:"query" validate:"required"`
	MaxBusinesses int    `json:"max_businesses" validate:"gte=0,lte=500"`
}

func (s *Server) submitHarvest(w http.ResponseWriter, r *http.Request) {
	var req harvestRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.Query = strings.TrimSpace(req.Query)
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, requestError(err))
		return
	}
	harvestID, err := s.enqueueHarvest(r.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, leads.ErrQueueClosed) {
			status = http.StatusServiceUnavailable
		}
		s.logger.Warn("harvest submit failed", zap.String("query", req.Query), zap.Error(err))
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"harvest_id": harvestID})
}

func (s *Server) getHarvest(w http.ResponseWriter, r *http.Request) {
	harvest, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"harvest": harvest})
}

func (s *Server) getHarvestResult(w http.ResponseWriter, r *http.Request) {
	harvest, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if harvest.Status != leads.HarvestSucceeded {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":  "harvest has no result",
			"status": string(harvest.Status),
		})
		return
	}
	contacts, err := s.harvests.GetResult(r.Context(), harvest.ID)
	if errors.Is(err, leads.ErrNotFound) {
		writeError(w, http.StatusNotFound, "result not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch result")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"harvest": harvest, "contacts": contacts})
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (leads.Harvest, bool) {
	harvestID := chi.URLParam(r, "harvest_id")
	harvest, err := s.harvests.GetHarvest(r.Context(), harvestID)
	if errors.Is(err, leads.ErrNotFound) {
		writeError(w, http.StatusNotFound, "harvest not found")
		return leads.Harvest{}, false
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch harvest")
		return leads.Harvest{}, false
	}
	return harvest, true
}

func (s *Server) enqueueHarvest(ctx context.Context, req harvestRequest) (string, error) {
	harvestID, err := s.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate harvest id: %w", err)
	}
	now := s.clock.Now()
	harvest := leads.Harvest{
		ID:            harvestID,
		Query:         req.Query,
		MaxBusinesses: req.MaxBusinesses,
		Status:        leads.HarvestQueued,
		Submitted:     now,
	}
	if err := s.harvests.CreateHarvest(ctx, harvest); err != nil {
		return "", fmt.Errorf("create harvest: %w", err)
	}
	queueCtx, cancel := context.WithTimeout(ctx, enqueueTimeout)
	defer cancel()
	item := leads.QueueItem{
		HarvestID:     harvestID,
		Query:         req.Query,
		MaxBusinesses: req.MaxBusinesses,
		Submitted:     now.Unix(),
	}
	if err := s.dispatcher.Enqueue(queueCtx, item); err != nil {
		// The row exists but nothing will run it.
		if uerr := s.harvests.UpdateHarvest(
			context.WithoutCancel(ctx), harvestID, leads.HarvestFailed, err.Error(), leads.HarvestCounter{},
		); uerr != nil {
			s.logger.Error("mark unqueued harvest failed", zap.String("harvest_id", harvestID), zap.Error(uerr))
		}
		return "", fmt.Errorf("enqueue harvest: %w", err)
	}
	return harvestID, nil
}

func requestError(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return err.Error()
	}
	fe := fieldErrs[0]
	switch fe.Field() {
	case "Query":
		return "query required"
	case "MaxBusinesses":
		return "max_businesses must be between 0 and 500"
	default:
		return fmt.Sprintf("invalid %s", strings.ToLower(fe.Field()))
	}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestID returns the request ID stored by the middleware, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("request_id", RequestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.String("request_id", RequestID(r.Context())),
						zap.Any("error", rec),
					)
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
