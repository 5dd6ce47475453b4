package httpserver

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/blackmichael/tweetwall/internal/config"
	"github.com/blackmichael/tweetwall/internal/events"
	"github.com/blackmichael/tweetwall/internal/metrics"
	"github.com/blackmichael/tweetwall/internal/registry"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// Server is the HTTP server that serves the tweet registry API and the
// event delivery transports.
type Server struct {
	cfg        *config.Config
	registry   *registry.Registry
	bus        *events.Bus
	logger     *slog.Logger
	metrics    *metrics.Metrics
	limiter    *rate.Limiter
	httpServer *http.Server
}

// NewServer creates a new HTTP server over the given registry and bus.
func NewServer(cfg *config.Config, reg *registry.Registry, bus *events.Bus, logger *slog.Logger, m *metrics.Metrics) *Server {
	s := &Server{
		cfg:      cfg,
		registry: reg,
		bus:      bus,
		logger:   logger,
		metrics:  m,
		// Write endpoints share one token bucket: a small group feed
		// never needs more than a handful of mutations per second.
		limiter: rate.NewLimiter(rate.Limit(5), 10),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/tweets", s.requireWriteAuth(s.handleSubmit))
	mux.HandleFunc("GET /api/tweets", s.handleList)
	mux.HandleFunc("DELETE /api/tweets/{id}", s.requireWriteAuth(s.handleRemove))
	mux.HandleFunc("PATCH /api/tweets/{id}/seen", s.requireWriteAuth(s.handleSetSeen))
	mux.HandleFunc("GET /api/tweets/check", s.handleCheck)
	mux.HandleFunc("GET /api/tweets/cleanup", s.handleCleanup)
	mux.HandleFunc("GET /api/tweets/stream", s.handleStream)
	mux.HandleFunc("GET /api/tweets/ws", s.handleWebsocket)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	s.httpServer = &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     withLogging(logger, mux),
		ReadTimeout: 10 * time.Second,
		// No WriteTimeout: the SSE and websocket endpoints hold their
		// connections open indefinitely.
		IdleTimeout: 60 * time.Second,
	}

	return s
}

// Start begins listening for HTTP requests. It blocks until the server is
// shut down or an error occurs.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the route tree for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// secretFromRequest pulls the shared secret from the x-api-secret header.
func secretFromRequest(r *http.Request) string {
	return r.Header.Get("x-api-secret")
}

// requireWriteAuth gates mutating handlers behind the shared secret and
// the write rate limit. The submit handler additionally accepts the
// secret in its JSON body (the original client sent it there), which it
// checks itself before calling the registry.
func (s *Server) requireWriteAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, "RateLimited", "too many write requests")
			return
		}
		if r.Method == http.MethodPost && strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
			// Body-carried secret is validated in the handler.
			next(w, r)
			return
		}
		if secretFromRequest(r) != s.cfg.APISecret {
			writeError(w, http.StatusUnauthorized, "Unauthorized", "invalid or missing API secret")
			return
		}
		next(w, r)
	}
}

func (s *Server) cronAuthorized(r *http.Request) bool {
	if s.cfg.CronSecret != "" && r.Header.Get("Authorization") == "Bearer "+s.cfg.CronSecret {
		return true
	}
	return secretFromRequest(r) == s.cfg.APISecret
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, errType, message string) {
	writeJSON(w, status, map[string]string{
		"error":   errType,
		"message": message,
	})
}

func withLogging(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"duration", time.Since(start),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Flush keeps http.Flusher reachable through the logging wrapper for the
// SSE handler.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack keeps http.Hijacker reachable through the logging wrapper for
// the websocket upgrade.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return h.Hijack()
}
