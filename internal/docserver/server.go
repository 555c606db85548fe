// Package docserver is the HTTP and websocket front end of coursesync-server.
// It exposes the document store under /v1/docs and pushes collection
// snapshots to subscribers after every write.
package docserver

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/marcus/coursesync/internal/docstore"
)

// Server is the document API server.
type Server struct {
	config      Config
	http        *http.Server
	store       *docstore.Store
	hub         *Hub
	metrics     *Metrics
	rateLimiter *RateLimiter
	cancel      context.CancelFunc
}

// NewServer creates a new Server with the given config and store.
func NewServer(cfg Config, store *docstore.Store) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("nil store")
	}
	metrics := NewMetrics()
	s := &Server{
		config:      cfg,
		store:       store,
		hub:         NewHub(metrics, cfg.PingInterval),
		metrics:     metrics,
		rateLimiter: NewRateLimiter(),
	}

	s.http = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// Handler returns the server's routed handler, for embedding or httptest.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// Start begins listening for HTTP requests (non-blocking).
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	go func() {
		if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("http server", "err", err)
		}
	}()

	// Periodically drop idle rate limit buckets
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("cleanup panic", "panic", r)
			}
		}()
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.rateLimiter.Cleanup(); n > 0 {
					slog.Debug("rate limit cleanup", "buckets", n)
				}
			}
		}
	}()

	return nil
}

// Shutdown gracefully stops the server and closes open subscriptions.
// Hijacked websocket connections are not tracked by http.Server, so the hub
// closes them itself.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	s.hub.Close()
	return s.http.Shutdown(ctx)
}

// routes builds the HTTP handler with all routes and middleware.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	// Health & metrics
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /metricz", s.handleMetrics)

	// Documents
	mux.HandleFunc("POST /v1/docs/{path...}", s.withRateLimit(s.handleCreate, "write", s.config.RateLimitWrite))
	mux.HandleFunc("PUT /v1/docs/{path...}", s.withRateLimit(s.handleSet, "write", s.config.RateLimitWrite))
	mux.HandleFunc("PATCH /v1/docs/{path...}", s.withRateLimit(s.handleIncrement, "write", s.config.RateLimitWrite))
	mux.HandleFunc("GET /v1/docs/{path...}", s.withRateLimit(s.handleGet, "read", s.config.RateLimitRead))

	// Live snapshots
	mux.HandleFunc("GET /v1/subscribe", s.withRateLimit(s.handleSubscribe, "read", s.config.RateLimitRead))

	maxBody := s.config.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	return chain(mux, recoveryMiddleware, requestIDMiddleware, loggerMiddleware, metricsMiddleware(s.metrics), loggingMiddleware, maxBytesMiddleware(maxBody))
}

// handleHealth returns a health check response, pinging the store.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "error", "detail": "db unreachable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleMetrics returns a snapshot of server metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}
