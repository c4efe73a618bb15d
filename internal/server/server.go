// Package server exposes the engine's read-only query surface and a small
// set of control actions over HTTP. The server is optional; dry-run
// deployments often run headless.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/fundarb/internal/engine"
)

// Server is the HTTP API over the arbitrage engine.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// New registers all routes and returns a server ready to Start.
func New(port int, eng *engine.Engine, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "api_server"))
	h := &apiHandler{engine: eng, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", h.health)
	mux.HandleFunc("GET /api/status", h.status)
	mux.HandleFunc("GET /api/stats", h.stats)
	mux.HandleFunc("GET /api/spreads", h.spreads)
	mux.HandleFunc("GET /api/rates", h.rates)
	mux.HandleFunc("GET /api/opportunities", h.opportunities)
	mux.HandleFunc("GET /api/opportunities/{id}", h.opportunityByID)
	mux.HandleFunc("GET /api/executions", h.executions)
	mux.HandleFunc("GET /api/executions/{id}", h.executionByID)
	mux.HandleFunc("POST /api/refresh", h.refresh)
	mux.HandleFunc("POST /api/emergency-stop", h.emergencyStop)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      requestLogging(logger)(mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{httpServer: srv, logger: logger}
}

// Start listens for requests and blocks until shutdown or a listen error.
func (s *Server) Start() error {
	s.logger.Info("starting api server", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api_server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down api server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("api_server: shutdown: %w", err)
	}
	return nil
}

func requestLogging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Debug("http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}
