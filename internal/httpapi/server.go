// Package httpapi wires the chat-completions, models, health, and
// metrics endpoints onto a chi router with graceful shutdown.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/edgerun/inferedge/internal/inference"
	"github.com/edgerun/inferedge/internal/metrics"
	"github.com/edgerun/inferedge/internal/pipeline"
	"github.com/edgerun/inferedge/internal/store"
)

// Server owns the HTTP listener and its collaborators.
type Server struct {
	httpServer       *http.Server
	pipeline         *pipeline.Pipeline
	actor            *inference.Actor
	store            *store.Store
	metricsHandler   http.Handler
	version          string
	deviceID         string
	inferenceTimeout time.Duration
}

// New builds the router and binds it to addr; call Start to begin
// serving.
func New(addr string, p *pipeline.Pipeline, actor *inference.Actor, st *store.Store, version, deviceID string, inferenceTimeout time.Duration) *Server {
	s := &Server{
		pipeline:         p,
		actor:            actor,
		store:            st,
		metricsHandler:   promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
		version:          version,
		deviceID:         deviceID,
		inferenceTimeout: inferenceTimeout,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(metricsMiddleware)

	r.Post("/v1/chat/completions", s.handleChatCompletions)
	r.Get("/v1/models", s.handleModels)
	r.Get("/v1/sessions/{id}", s.handleSessionHistory)
	r.Get("/health", s.handleHealth)
	r.Get("/health/ready", s.handleReady)
	r.Get("/metrics", s.handleMetrics)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: r,
	}
	return s
}

// Start begins serving and blocks until the listener stops for any
// reason other than a graceful Shutdown.
func (s *Server) Start() error {
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops accepting new connections and waits for in-flight
// requests to finish, bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
