// Package server implements the HTTP API that exposes accounts, chats and
// question answering. The server is started by the `instqa serve` CLI command.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/54b3r/instqa-go/internal/logging"
	"github.com/54b3r/instqa-go/internal/version"
)

const (
	// maxRequestBody caps the size of any JSON request body.
	maxRequestBody = 1 << 20

	// defaultWriteTimeout is the lowest default response write deadline.
	defaultWriteTimeout = 2 * time.Minute
	// writeTimeoutMargin is added to the answer timeout to cover retrieval
	// and persistence around the answer call.
	writeTimeoutMargin = 30 * time.Second
)

// New constructs a Server from cfg.
func New(cfg *Config) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("server: config must not be nil")
	}
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("server: session service must not be nil")
	}
	if cfg.Accounts == nil {
		return nil, fmt.Errorf("server: account service must not be nil")
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = max(defaultWriteTimeout, cfg.AnswerTimeout+writeTimeoutMargin)
	}
	if cfg.AnswerTimeout > 0 && cfg.WriteTimeout <= cfg.AnswerTimeout {
		return nil, fmt.Errorf("server: write timeout %s must exceed the answer timeout %s", cfg.WriteTimeout, cfg.AnswerTimeout)
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}
	if cfg.MetricsRegistry == nil {
		cfg.MetricsRegistry = prometheus.DefaultRegisterer
	}
	if cfg.MetricsGatherer == nil {
		cfg.MetricsGatherer = prometheus.DefaultGatherer
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics(cfg.MetricsRegistry)
	}

	s := &Server{
		sessions: cfg.Sessions,
		accounts: cfg.Accounts,
		cfg:      cfg,
		log:      cfg.Logger,
		pingers:  cfg.Pingers,
		metrics:  cfg.Metrics,
	}

	rl, stop := newRateLimiter(cfg.RateLimit, cfg.RateBurst, cfg.Logger)
	s.stopRL = stop

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.routes(rl),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// routes builds the handler tree. Authenticated routes are wrapped in
// authMiddleware; credential and answer-generating routes are also rate
// limited per client IP.
func (s *Server) routes(rl *rateLimiter) http.Handler {
	authed := func(h http.HandlerFunc) http.Handler { return authMiddleware(s.accounts, h) }
	limited := func(h http.Handler) http.Handler { return rl.middleware(h) }

	mux := http.NewServeMux()
	mux.Handle("POST /api/auth/signup", limited(http.HandlerFunc(s.handleSignup)))
	mux.Handle("POST /api/auth/login", limited(http.HandlerFunc(s.handleLogin)))
	mux.Handle("GET /api/auth/me", authed(s.handleMe))

	mux.Handle("GET /api/chats", authed(s.handleListChats))
	mux.Handle("POST /api/chats", authed(s.handleCreateChat))
	mux.Handle("DELETE /api/chats/{id}", authed(s.handleDeleteChat))
	mux.Handle("GET /api/chats/{id}/messages", authed(s.handleGetMessages))
	mux.Handle("POST /api/chats/{id}/messages", limited(authed(s.handleSendMessage)))
	mux.Handle("POST /api/ask", limited(authed(s.handleAsk)))

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/ready", s.handleReady)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.cfg.MetricsGatherer, promhttp.HandlerOpts{}))

	return requestLogger(s.log, s.metrics, mux)
}

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	defer s.stopRL()

	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		s.log.Info("server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok", "version": version.String()})
}

// writeJSON encodes v as the response body with the given status.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(r.Context()).Error("response encode error", slog.Any("error", err))
	}
}

// writeError writes an errorResponse with the given status.
func writeError(w http.ResponseWriter, r *http.Request, status int, kind, msg string) {
	writeJSON(w, r, status, errorResponse{Error: kind, Message: msg})
}

// decodeJSON reads a bounded JSON body into v. It writes a 400 and returns
// false on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid", "invalid request body")
		return false
	}
	return true
}
