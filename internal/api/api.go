// Package api exposes the engine over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"shopwatch/internal/batch"
	"shopwatch/internal/monitor"
	"shopwatch/internal/service"
	"shopwatch/internal/version"
)

// Server serves the HTTP API.
type Server struct {
	engine *service.Engine
	ctx    context.Context
	logger zerolog.Logger
	router *chi.Mux
}

// New builds the router. Background batch runs are bound to ctx.
func New(ctx context.Context, engine *service.Engine, logger zerolog.Logger) *Server {
	s := &Server{
		engine: engine,
		ctx:    ctx,
		logger: logger.With().Str("component", "api").Logger(),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.handleHealth)
	r.Get("/products", s.handleListProducts)

	r.Route("/monitored", func(r chi.Router) {
		r.Get("/", s.handleListMonitored)
		r.Post("/", s.handleStartMonitoring)
		r.Get("/{id}", s.handleGetMonitored)
		r.Patch("/{id}", s.handleUpdateMonitoring)
		r.Delete("/{id}", s.handleStopMonitoring)
		r.Post("/{id}/check", s.handleCheckNow)
	})

	r.Route("/batch", func(r chi.Router) {
		r.Get("/", s.handleBatchStatus)
		r.Post("/", s.handleStartBatch)
		r.Post("/stop", s.handleStopBatch)
	})

	s.router = r
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("api listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request served")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": version.Version})
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, monitor.ErrNotFound), errors.Is(err, service.ErrUnknownProduct):
		status = http.StatusNotFound
	case errors.Is(err, monitor.ErrInvalidOptions), errors.Is(err, errBadRequest):
		status = http.StatusBadRequest
	case errors.Is(err, monitor.ErrAlreadyMonitored), errors.Is(err, monitor.ErrCheckInFlight), errors.Is(err, batch.ErrRunActive):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		s.logger.Error().Err(err).Msg("request failed")
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}
