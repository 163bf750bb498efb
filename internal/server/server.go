// Package server exposes the swarm and the fragment pipeline over HTTP.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sanonone/wingbeat/pkg/config"
	"github.com/sanonone/wingbeat/pkg/pipeline"
	"github.com/sanonone/wingbeat/pkg/swarm"
	"github.com/sanonone/wingbeat/pkg/transport"
)

// Server is the wingbeat HTTP API.
type Server struct {
	proc        *pipeline.Processor
	swarm       *swarm.Swarm
	node        *transport.NodeHandler
	taskManager *TaskManager

	// stepMu serializes simulation steps coming from handlers and background tasks.
	stepMu sync.Mutex

	// Background tasks run under bgCtx, cancelled on Shutdown.
	bgCtx    context.Context
	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup

	httpServer      *http.Server
	handler         http.Handler
	shutdownTimeout time.Duration
}

// NewServer wires the API routes around a processor. node may be nil, in which
// case POST /task is not mounted.
func NewServer(proc *pipeline.Processor, cfg config.ServerConfig, node *transport.NodeHandler) (*Server, error) {
	if proc == nil {
		return nil, fmt.Errorf("server needs a processor")
	}

	s := &Server{
		proc:            proc,
		swarm:           proc.Swarm(),
		node:            node,
		taskManager:     NewTaskManager(),
		shutdownTimeout: cfg.ShutdownTimeout,
	}
	s.bgCtx, s.bgCancel = context.WithCancel(context.Background())
	if s.shutdownTimeout <= 0 {
		s.shutdownTimeout = 5 * time.Second
	}

	mux := http.NewServeMux()
	s.registerHTTPHandlers(mux)

	// Middleware chain: Recovery -> Logging -> Mux
	var handler http.Handler = mux
	handler = s.LoggingMiddleware(handler)
	handler = s.RecoveryMiddleware(handler)

	// Health and metrics stay outside the logging middleware.
	rootMux := http.NewServeMux()
	rootMux.HandleFunc("GET /healthz", s.handleHealthz)
	rootMux.Handle("GET /metrics", promhttp.Handler())
	rootMux.Handle("/", handler)

	s.handler = rootMux
	s.httpServer = &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           rootMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

// Handler returns the root handler, middleware included.
func (s *Server) Handler() http.Handler { return s.handler }

// Run listens on the configured address and serves until Shutdown.
func (s *Server) Run() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("HTTP server startup failed: %w", err)
	}
	return s.Serve(ln)
}

// Serve serves on an existing listener until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	slog.Info("[SERVER] HTTP server listening", "addr", ln.Addr().String())
	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server failed: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests, waits for in-flight ones and stops
// background simulation tasks.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("[SERVER] Starting graceful shutdown of HTTP server...")

	ctx, cancel := context.WithTimeout(ctx, s.shutdownTimeout)
	defer cancel()

	err := s.httpServer.Shutdown(ctx)
	s.Close()
	if err != nil {
		return fmt.Errorf("HTTP server shutdown: %w", err)
	}
	return nil
}

// Close cancels background tasks and waits for them to return.
func (s *Server) Close() {
	s.bgCancel()
	s.bgWG.Wait()
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeHTTPResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}
