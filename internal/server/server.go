// Package server is the HTTP surface of the relay: the /ws upgrade
// gate with its admission checks, the health, stats, and metrics
// endpoints, and graceful shutdown.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bxacosta/wsclip/internal/config"
	"github.com/bxacosta/wsclip/internal/ratelimit"
	"github.com/bxacosta/wsclip/internal/relay"
)

// Server owns the listener and every core component: registry, hub,
// rate limiter, metrics. One Server per process.
type Server struct {
	cfg     *config.Config
	log     *slog.Logger
	version string

	registry *relay.Registry
	hub      *relay.Hub
	limiter  *ratelimit.Limiter
	metrics  *relay.Metrics
	upgrader websocket.Upgrader

	httpServer *http.Server
	listener   net.Listener
	startTime  time.Time
}

// New assembles a server from configuration. Nothing starts until
// Start is called.
func New(cfg *config.Config, log *slog.Logger, version string) *Server {
	if log == nil {
		log = slog.Default()
	}

	metrics := relay.NewMetrics(version, runtime.Version())
	registry := relay.NewRegistry(cfg.MaxChannels, log, metrics)

	s := &Server{
		cfg:      cfg,
		log:      log.With("component", "server"),
		version:  version,
		registry: registry,
		hub:      relay.NewHub(registry, cfg.MaxMessageSize, log),
		limiter:  ratelimit.New(cfg.RateLimitMax, cfg.RateLimitWindow, log),
		metrics:  metrics,
	}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:    4096,
		WriteBufferSize:   4096,
		EnableCompression: cfg.Compression,
		// The shared secret is the admission control; cross-origin
		// browser clients are legitimate.
		CheckOrigin: func(*http.Request) bool { return true },
		Error:       s.upgradeError,
	}
	return s
}

// Registry exposes the channel registry for health checks and stats.
func (s *Server) Registry() *relay.Registry {
	return s.registry
}

// Start binds the listener and serves in a background goroutine. It
// returns once the listener is bound, so Addr is valid afterwards.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener
	s.startTime = time.Now()

	s.limiter.Start()

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	s.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Error("http server error", "error", err)
		}
	}()

	s.log.Info("server listening", "addr", listener.Addr().String(), "version", s.version)
	return nil
}

// Addr returns the bound listener address. Only valid after Start.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Shutdown closes every client connection, stops the rate limiter,
// and drains the HTTP server. Per-connection close errors are reported
// but never block shutdown.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("server shutting down")

	closed, errs := s.registry.CloseAll(websocket.CloseGoingAway, "Server shutting down")
	for _, err := range errs {
		s.log.Warn("close during shutdown failed", "error", err)
	}
	s.log.Info("connections closed", "closed", closed, "errors", len(errs))

	s.limiter.Stop()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.log.Info("server stopped")
	return nil
}

// registerRoutes sets up all HTTP routes on the mux.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", s.handleUpgrade)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))
}
