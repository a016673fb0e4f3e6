// Package server exposes the agent over HTTP: JSON endpoints, SSE
// streaming with keepalives, prometheus metrics and graceful shutdown.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MSDLLCpapers/teal-agents-sub000/pkg/auth"
	"github.com/MSDLLCpapers/teal-agents-sub000/pkg/config"
	"github.com/MSDLLCpapers/teal-agents-sub000/pkg/handler"
)

// Server is the HTTP front of one agent.
type Server struct {
	cfg        *config.Config
	handler    *handler.Handler
	authorizer auth.Authorizer
	metrics    *Metrics

	httpServer *http.Server
	listener   net.Listener
}

// New creates a server. The agent surface mounts under cfg.BasePath().
func New(cfg *config.Config, h *handler.Handler, authorizer auth.Authorizer) *Server {
	s := &Server{
		cfg:        cfg,
		handler:    h,
		authorizer: authorizer,
		metrics:    NewMetrics(),
	}
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router builds the full route tree. Exposed for httptest use.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.metrics.Middleware)

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", s.metrics.Handler())

	r.Route(s.cfg.BasePath(), func(r chi.Router) {
		r.Use(auth.Middleware(s.authorizer))

		r.Post("/", s.handleInvoke)
		r.Post("/stream", s.handleInvokeStream)
		r.Post("/resume/{request_id}", s.handleResume)
		r.Post("/resume/{request_id}/stream", s.handleResumeStream)
		r.Post("/auth/arcade/verify", s.handleVerify)
		r.Get("/tasks/{task_id}", s.handleGetTask)
		r.Post("/tasks/{task_id}/cancel", s.handleCancelTask)
	})

	return r
}

// Start listens and serves until Shutdown or a listener error.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	s.listener = listener

	slog.Info("http server starting",
		"addr", listener.Addr().String(),
		"base_path", s.cfg.BasePath())

	if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests up to the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Server.ShutdownTimeout)
	defer cancel()

	slog.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}

// Address returns the bound listen address.
func (s *Server) Address() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.httpServer.Addr
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
