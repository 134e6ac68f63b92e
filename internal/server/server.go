// Package server exposes the compiled schema over HTTP: metadata, join
// paths, row filters for the caller's security context, and the compile
// history.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zzzcdf/cube.js/internal/compiler"
	"github.com/zzzcdf/cube.js/internal/db"
	"github.com/zzzcdf/cube.js/internal/middleware"
)

// Options configures a Server.
type Options struct {
	Compiler *compiler.Compiler
	// History is optional; without it the /v1/compiles routes answer 404.
	History *db.HistoryRepo
	Logger  *slog.Logger
	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer

	RateLimit      middleware.RateLimitConfig
	AllowedOrigins []string
	// Validator authenticates /v1 requests. Nil leaves them open.
	Validator middleware.TokenValidator
}

// Server serves one compiler.
type Server struct {
	opts   Options
	logger *slog.Logger
}

// New creates a Server.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	return &Server{opts: opts, logger: logger}
}

// Handler builds the router. ctx bounds background work such as the rate
// limiter's sweeper.
func (s *Server) Handler(ctx context.Context) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.AccessLog(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.opts.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
		ExposedHeaders:   []string{middleware.RequestIDHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.health)
	if s.opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.RateLimiter(ctx, s.opts.RateLimit))
		r.Use(middleware.SecurityContext(s.opts.Validator))

		r.Get("/meta", s.getMeta)
		r.Get("/meta/{cube}", s.getMetaCube)
		r.Get("/validate", s.validate)
		r.Get("/contexts", s.listContexts)
		r.Get("/join-path", s.joinPath)
		r.Get("/row-filters/{cube}", s.rowFilters)
		r.Post("/invalidate", s.invalidate)
		r.Get("/compiles", s.listCompiles)
		r.Get("/compiles/{id}", s.getCompile)
	})
	return r
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(ctx),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("schema server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down schema server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
