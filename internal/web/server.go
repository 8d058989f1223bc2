// Package web exposes the engine over HTTP: ingestion endpoints for
// canvas images and agent contributions, snapshot queries, session
// management and an SSE event stream.
package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/canvaslab/emergence/internal/events"
	"github.com/canvaslab/emergence/internal/logging"
	"github.com/canvaslab/emergence/internal/web/sse"
)

// Server is the HTTP front of the engine.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	config     Config
	log        *logging.Logger
	api        *API
	bus        *events.EventBus
	sseHandler *sse.Handler
}

// Config holds the server configuration.
type Config struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	EnableCORS      bool
}

// DefaultConfig returns the default server configuration. WriteTimeout is
// zero because the SSE stream is long-lived.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8086,
		ReadTimeout:     15 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		CORSOrigins:     []string{"*"},
		EnableCORS:      true,
	}
}

// New creates a Server around the given API and event bus.
func New(cfg Config, api *API, bus *events.EventBus, log *logging.Logger) *Server {
	s := &Server{
		config: cfg,
		log:    log,
		api:    api,
		bus:    bus,
	}

	s.router = s.setupRouter()
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	if s.config.EnableCORS {
		corsMiddleware := cors.New(cors.Options{
			AllowedOrigins: s.config.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
			ExposedHeaders: []string{"X-Request-ID"},
			MaxAge:         300,
		})
		r.Use(corsMiddleware.Handler)
	}

	r.Get("/health", s.api.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/canvas", func(r chi.Router) {
			r.Post("/image", s.api.handleSetImage)
			r.Get("/image", s.api.handleGetImage)
			r.Post("/agents", s.api.handleSetAgents)
		})

		r.Post("/contributions", s.api.handleReportContribution)
		r.Get("/contributions", s.api.handleDumpContributions)

		r.Get("/snapshot", s.api.handleGetSnapshot)

		r.Route("/session", func(r chi.Router) {
			r.Get("/summary", s.api.handleSessionSummary)
			r.Post("/export", s.api.handleSessionExport)
		})
		r.Delete("/session", s.api.handleSessionClear)

		if s.bus != nil {
			r.Route("/sse", func(r chi.Router) {
				s.sseHandler = sse.RegisterRoutes(r, s.bus)
			})
		}
	})

	return r
}

// loggingMiddleware logs HTTP requests using structured logging.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.log.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start).String(),
				"request_id", middleware.GetReqID(r.Context()),
				"remote_addr", r.RemoteAddr,
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

// Start starts the HTTP server in a non-blocking manner.
func (s *Server) Start() error {
	s.log.Info("starting http server", "addr", s.httpServer.Addr)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server error", "error", err)
		}
	}()

	return nil
}

// Shutdown gracefully shuts down the server and its SSE clients.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down http server")

	if s.sseHandler != nil {
		_ = s.sseHandler.Shutdown(ctx)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.log.Info("http server stopped")
	return nil
}

// Router returns the underlying chi router, mainly for tests.
func (s *Server) Router() chi.Router {
	return s.router
}

// Addr returns the server address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}
